package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/klangwerk/lessonledger-api/internal/models"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
)

type pricingStore interface {
	FindCurrent(ctx context.Context, courseTypeID string) (*models.PricingVersion, error)
	FindAt(ctx context.Context, courseTypeID string, date time.Time) (*models.PricingVersion, error)
	ListByCourseType(ctx context.Context, courseTypeID string) ([]models.PricingVersion, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, version *models.PricingVersion) error
	CloseVersion(ctx context.Context, exec sqlx.ExtContext, id string, validUntil time.Time) error
	UpdatePrices(ctx context.Context, id string, adultPrice, childPrice decimal.Decimal) error
	IsReferencedByIssuedInvoice(ctx context.Context, versionID string) (bool, error)
}

type pricingCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// PricingService resolves time-versioned pricing and maintains the
// append-only version history of each course type.
type PricingService struct {
	pricing   pricingStore
	cache     pricingCache
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewPricingService wires pricing dependencies. The cache is optional.
func NewPricingService(pricing pricingStore, cache pricingCache, tx txProvider, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *PricingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &PricingService{pricing: pricing, cache: cache, tx: tx, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

// CreatePricingVersionRequest adds a new version to a course type's history.
type CreatePricingVersionRequest struct {
	CourseTypeID string          `json:"course_type_id" validate:"required"`
	AdultPrice   decimal.Decimal `json:"adult_price" validate:"required"`
	ChildPrice   decimal.Decimal `json:"child_price" validate:"required"`
	ValidFrom    time.Time       `json:"valid_from" validate:"required"`
}

// UpdatePricingRequest edits the current version's prices in place.
type UpdatePricingRequest struct {
	CourseTypeID string          `json:"course_type_id" validate:"required"`
	AdultPrice   decimal.Decimal `json:"adult_price" validate:"required"`
	ChildPrice   decimal.Decimal `json:"child_price" validate:"required"`
}

// CurrentPricing returns the open-ended version for a course type.
func (s *PricingService) CurrentPricing(ctx context.Context, courseTypeID string) (*models.PricingVersion, error) {
	cacheKey := pricingCacheKey(courseTypeID)
	if s.cache != nil {
		var cached models.PricingVersion
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	version, err := s.pricing.FindCurrent(ctx, courseTypeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no current pricing for course type")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current pricing")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, version, s.cacheTTL); err != nil {
			s.logger.Warn("pricing cache write failed", zap.Error(err))
		}
	}
	return version, nil
}

// PricingAt returns the version effective on the given date, or NotFound if
// the course type's history does not cover it (a template predating all
// pricing).
func (s *PricingService) PricingAt(ctx context.Context, courseTypeID string, date time.Time) (*models.PricingVersion, error) {
	version, err := s.pricing.FindAt(ctx, courseTypeID, models.DateOnly(date))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound,
				fmt.Sprintf("no pricing for course type on %s", date.Format("2006-01-02")))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve pricing")
	}
	return version, nil
}

// CreateNewVersion closes the current version at the new validFrom and
// inserts the replacement as the open-ended version, both in one
// transaction. ValidFrom must be strictly after the current version's.
func (s *PricingService) CreateNewVersion(ctx context.Context, req CreatePricingVersionRequest) (*models.PricingVersion, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pricing version payload")
	}
	if !req.AdultPrice.IsPositive() || !req.ChildPrice.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "prices must be positive")
	}
	validFrom := models.DateOnly(req.ValidFrom)

	current, err := s.pricing.FindCurrent(ctx, req.CourseTypeID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current pricing")
	}
	if current != nil && !validFrom.After(models.DateOnly(current.ValidFrom)) {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("valid_from must be after the current version's %s", current.ValidFrom.Format("2006-01-02")))
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if current != nil {
		// Closing at the successor's validFrom keeps the history contiguous:
		// [a, b) directly abuts [b, nil).
		if err = s.pricing.CloseVersion(ctx, tx, current.ID, validFrom); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = appErrors.Clone(appErrors.ErrConflict, "current pricing version changed concurrently")
				return nil, err
			}
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close current pricing version")
			return nil, err
		}
	}

	version := &models.PricingVersion{
		CourseTypeID: req.CourseTypeID,
		AdultPrice:   req.AdultPrice,
		ChildPrice:   req.ChildPrice,
		ValidFrom:    validFrom,
	}
	if err = s.pricing.Insert(ctx, tx, version); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert pricing version")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit pricing version")
		return nil, err
	}

	s.invalidateCache(ctx, req.CourseTypeID)
	s.logger.Info("pricing version created",
		zap.String("course_type_id", req.CourseTypeID),
		zap.String("version_id", version.ID),
		zap.Time("valid_from", validFrom))
	return version, nil
}

// UpdateCurrentInPlace edits the current version's prices. Refused with
// Locked once any non-draft invoice line references the version, which is
// what keeps issued invoices reproducible.
func (s *PricingService) UpdateCurrentInPlace(ctx context.Context, req UpdatePricingRequest) (*models.PricingVersion, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pricing payload")
	}
	if !req.AdultPrice.IsPositive() || !req.ChildPrice.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "prices must be positive")
	}

	current, err := s.pricing.FindCurrent(ctx, req.CourseTypeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no current pricing for course type")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current pricing")
	}

	invoiced, err := s.pricing.IsReferencedByIssuedInvoice(ctx, current.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pricing references")
	}
	if invoiced {
		return nil, appErrors.Clone(appErrors.ErrLocked, "current pricing is referenced by issued invoices; create a new version instead")
	}

	if err := s.pricing.UpdatePrices(ctx, current.ID, req.AdultPrice, req.ChildPrice); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update pricing")
	}

	current.AdultPrice = req.AdultPrice
	current.ChildPrice = req.ChildPrice
	s.invalidateCache(ctx, req.CourseTypeID)
	return current, nil
}

// ValidateHistory checks the contiguity invariant of a course type's pricing
// history: ranges sorted by valid_from must neither gap nor overlap, and
// only the last version may be open-ended.
func (s *PricingService) ValidateHistory(ctx context.Context, courseTypeID string) error {
	versions, err := s.pricing.ListByCourseType(ctx, courseTypeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pricing history")
	}
	for i, v := range versions {
		last := i == len(versions)-1
		if last {
			if v.ValidUntil != nil {
				return appErrors.Clone(appErrors.ErrConflict, "latest pricing version must be open-ended")
			}
			continue
		}
		if v.ValidUntil == nil {
			return appErrors.Clone(appErrors.ErrConflict, "only the latest pricing version may be open-ended")
		}
		next := versions[i+1]
		if !models.DateOnly(*v.ValidUntil).Equal(models.DateOnly(next.ValidFrom)) {
			return appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("pricing history gap or overlap between %s and %s", v.ID, next.ID))
		}
	}
	return nil
}

func (s *PricingService) invalidateCache(ctx context.Context, courseTypeID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, pricingCacheKey(courseTypeID)); err != nil {
		s.logger.Warn("pricing cache invalidation failed", zap.Error(err))
	}
}

func pricingCacheKey(courseTypeID string) string {
	return "pricing:current:" + courseTypeID
}
