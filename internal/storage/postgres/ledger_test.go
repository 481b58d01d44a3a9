package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mediaharvest/internal/compactor"
)

func newMockLedger(t *testing.T) (*Ledger, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	l, err := NewLedgerWithPool(mock)
	require.NoError(t, err)
	return l, mock
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	l, mock := newMockLedger(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS compaction_batches").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, l.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextIndex(t *testing.T) {
	t.Parallel()
	l, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(end_index\), 0\) FROM compaction_batches`).
		WithArgs("cos_x").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(7))

	n, err := l.NextIndex(context.Background(), "cos_x")
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsArchived(t *testing.T) {
	t.Parallel()
	l, mock := newMockLedger(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("cos_x", "/data/x/a").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := l.IsArchived(context.Background(), "cos_x", "/data/x/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordBatchCommits(t *testing.T) {
	t.Parallel()
	l, mock := newMockLedger(t)
	created := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO compaction_batches").
		WithArgs("cos_x", 0, 2, "cos_x_0-2.tar.gz", created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO archived_units").
		WithArgs("cos_x", "/data/x/a", "cos_x_0-2.tar.gz").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO archived_units").
		WithArgs("cos_x", "/data/x/b", "cos_x_0-2.tar.gz").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := l.RecordBatch(context.Background(), compactor.Batch{
		Label:     "cos_x",
		Start:     0,
		End:       2,
		Archive:   "/zips/cos_x_0-2.tar.gz",
		Units:     []string{"/data/x/a", "/data/x/b"},
		CreatedAt: created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordBatchRollsBackOnError(t *testing.T) {
	t.Parallel()
	l, mock := newMockLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO compaction_batches").
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := l.RecordBatch(context.Background(), compactor.Batch{Label: "cos_x", Archive: "a.tar.gz"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerRequiresDSN(t *testing.T) {
	t.Parallel()
	_, err := NewLedger(context.Background(), LedgerConfig{})
	require.Error(t, err)
	_, err = NewLedgerWithPool(nil)
	require.Error(t, err)
}
