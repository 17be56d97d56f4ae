package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risklab/signalgate/internal/exits"
	"github.com/risklab/signalgate/internal/market"
)

func newMockJournal(t *testing.T) (*Journal, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func sampleClose() exits.ClosedPosition {
	now := time.Now()
	return exits.ClosedPosition{
		PositionID: "pos-1",
		Symbol:     "HDFCBANK",
		Direction:  market.Long,
		EntryPrice: 1600,
		ExitPrice:  1615,
		PnLPct:     0.9375,
		MaxPnLPct:  3.75,
		Category:   exits.CategoryTrailing,
		Subtype:    exits.SubATRTrail,
		Reason:     "price crossed trailing stop",
		EntryTime:  now.Add(-30 * time.Minute),
		ExitTime:   now,
	}
}

func TestRecordClose(t *testing.T) {
	j, mock := newMockJournal(t)
	closed := sampleClose()

	mock.ExpectExec("INSERT INTO position_closes").
		WithArgs(closed.PositionID, closed.Symbol, "LONG",
			closed.EntryPrice, closed.ExitPrice, closed.PnLPct, closed.MaxPnLPct,
			"TRAILING", "ATR_TRAIL", closed.Reason, closed.EntryTime, closed.ExitTime).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, j.RecordClose(context.Background(), closed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordClose_DBError(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec("INSERT INTO position_closes").
		WillReturnError(errors.New("connection reset"))

	err := j.RecordClose(context.Background(), sampleClose())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert position close")
}

func TestEnsureSchema(t *testing.T) {
	j, mock := newMockJournal(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS position_closes").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, j.ensureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
