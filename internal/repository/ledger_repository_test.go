package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

func TestLedgerRepositoryInsertDefaultsDates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &models.LedgerEntry{
		StudentID: "stu-1",
		Type:      models.EntryCharge,
		Debit:     decimal.RequireFromString("120.00"),
		Credit:    decimal.Zero,
		CreatedBy: "admin",
	}
	require.NoError(t, repo.Insert(context.Background(), db, entry))
	require.NotEmpty(t, entry.ID)
	require.False(t, entry.EntryDate.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "entry_date", "type", "debit", "credit", "invoice_id", "payment_id", "credit_note_id", "created_by", "created_at"}).
		AddRow("le-1", "stu-1", now, models.EntryCharge, "120.00", "0", "inv-1", nil, nil, "admin", now).
		AddRow("le-2", "stu-1", now, models.EntryPayment, "0", "120.00", "inv-1", "pay-1", nil, "admin", now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ledger_entries")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	entries, err := repo.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, models.FoldBalance(entries).IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepositoryListConsumptionsByCreditNote(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "entry_date", "type", "debit", "credit", "invoice_id", "payment_id", "credit_note_id", "created_by", "created_at"}).
		AddRow("le-3", "stu-1", now, models.EntryCreditConsumption, "20.00", "0", nil, nil, "cn-1", "admin", now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE credit_note_id = $1 AND type = $2")).
		WithArgs("cn-1", models.EntryCreditConsumption).
		WillReturnRows(rows)

	entries, err := repo.ListConsumptionsByCreditNote(context.Background(), "cn-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
