package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-beacon/internal/models"
)

func setupMockPassageDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PassageRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPassageRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockPassageDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS passage_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPassage_Success(t *testing.T) {
	db, mock, repo := setupMockPassageDB(t)
	defer db.Close()

	rec := models.PassageRecord{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		ScannerID: "2F-A",
		UUID:      "ffb00000-0000-0000-0000-000000000001",
		PeakRSSI:  -78,
		Policy:    "timeout",
	}

	mock.ExpectExec(`INSERT INTO passage_events`).
		WithArgs(rec.EventID, rec.Timestamp, rec.ScannerID, rec.UUID, rec.PeakRSSI, rec.Policy).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.InsertPassage(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPassage_DatabaseError(t *testing.T) {
	db, mock, repo := setupMockPassageDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO passage_events`).
		WillReturnError(errors.New("connection reset"))

	err := repo.InsertPassage(context.Background(), models.PassageRecord{EventID: uuid.New().String(), ScannerID: "2F-A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPassage_Validation(t *testing.T) {
	db, mock, repo := setupMockPassageDB(t)
	defer db.Close()

	err := repo.InsertPassage(context.Background(), models.PassageRecord{ScannerID: "2F-A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_id is required")

	err = repo.InsertPassage(context.Background(), models.PassageRecord{EventID: uuid.New().String()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanner_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountSince(t *testing.T) {
	db, mock, repo := setupMockPassageDB(t)
	defer db.Close()

	since := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs("2F-A", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := repo.CountSince(context.Background(), "2F-A", since)
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
	require.NoError(t, mock.ExpectationsWereMet())
}
