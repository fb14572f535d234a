package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

func TestPricingRepositoryFindCurrent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPricingRepository(db)

	rows := sqlmock.NewRows([]string{"id", "course_type_id", "adult_price", "child_price", "valid_from", "valid_until", "created_at"}).
		AddRow("pv-2", "ct-piano", "45.00", "33.00", time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("WHERE course_type_id = $1 AND valid_until IS NULL")).
		WithArgs("ct-piano").
		WillReturnRows(rows)

	version, err := repo.FindCurrent(context.Background(), "ct-piano")
	require.NoError(t, err)
	require.Equal(t, "pv-2", version.ID)
	require.True(t, version.Current())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepositoryFindAt(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPricingRepository(db)

	at := time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "course_type_id", "adult_price", "child_price", "valid_from", "valid_until", "created_at"}).
		AddRow("pv-1", "ct-piano", "40.00", "30.00", time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC), until, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("valid_from <= $2 AND (valid_until IS NULL OR valid_until > $2)")).
		WithArgs("ct-piano", at).
		WillReturnRows(rows)

	version, err := repo.FindAt(context.Background(), "ct-piano", at)
	require.NoError(t, err)
	require.Equal(t, "pv-1", version.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepositoryCloseVersionRequiresOpenRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPricingRepository(db)

	until := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("SET valid_until = $2 WHERE id = $1 AND valid_until IS NULL")).
		WithArgs("pv-1", until).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CloseVersion(context.Background(), db, "pv-1", until)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPricingRepositoryIsReferencedByIssuedInvoice(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewPricingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE il.pricing_version_id = $1 AND i.status <> $2")).
		WithArgs("pv-1", models.InvoiceStatusDraft).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	referenced, err := repo.IsReferencedByIssuedInvoice(context.Background(), "pv-1")
	require.NoError(t, err)
	require.True(t, referenced)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE il.pricing_version_id = $1 AND i.status <> $2")).
		WithArgs("pv-9", models.InvoiceStatusDraft).
		WillReturnError(sql.ErrNoRows)

	referenced, err = repo.IsReferencedByIssuedInvoice(context.Background(), "pv-9")
	require.NoError(t, err)
	require.False(t, referenced)
	require.NoError(t, mock.ExpectationsWereMet())
}
