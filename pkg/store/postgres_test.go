package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresStore(db)
	rec := emit(t, newProvenance(t), "trace-1", 1)

	mock.ExpectExec("INSERT INTO provenance_records").
		WithArgs(rec.Hash, "trace-1", rec.Agent, rec.Action, rec.Timestamp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO provenance_records").WillReturnError(errors.New("connection reset"))

	err = NewPostgresStore(db).Append(context.Background(), emit(t, newProvenance(t), "t", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresStore_ListByTrace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	svc := newProvenance(t)
	r1 := emit(t, svc, "trace-1", 1)
	r2 := emit(t, svc, "trace-1", 2)
	raw1, err := encodeRecord(r1)
	require.NoError(t, err)
	raw2, err := encodeRecord(r2)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT record::text FROM provenance_records WHERE trace_id = \\$1 ORDER BY seq").
		WithArgs("trace-1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(raw1).AddRow(raw2))

	got, err := NewPostgresStore(db).ListByTrace(context.Background(), "trace-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, r1.Hash, got[0].Hash)
	require.NoError(t, svc.Verify(got[1]))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	n, err := NewPostgresStore(db).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestPostgresStore_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS provenance_records").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresStore(db).Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
