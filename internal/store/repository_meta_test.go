package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/MKhiriev/go-mark-sync/internal/logger"
)

func newTestMetaRepo(t *testing.T) (MetaRepository, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	l := logger.Nop()
	repo := NewMetaRepository(&DB{DB: db, logger: l}, l)
	return repo, mock, db
}

func TestMetaGetString_Success(t *testing.T) {
	repo, mock, db := newTestMetaRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"value"}).AddRow("abc123")

	mock.ExpectQuery("SELECT value FROM sync_meta").
		WithArgs(MetaGlobalSyncID).
		WillReturnRows(rows)

	value, err := repo.GetString(context.Background(), MetaGlobalSyncID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "abc123" {
		t.Errorf("expected value abc123, got %s", value)
	}
}

func TestMetaGetString_NotFound(t *testing.T) {
	repo, mock, db := newTestMetaRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT value FROM sync_meta").
		WithArgs(MetaGlobalSyncID).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetString(context.Background(), MetaGlobalSyncID)
	if !errors.Is(err, ErrMetaNotFound) {
		t.Fatalf("expected ErrMetaNotFound, got %v", err)
	}
}

func TestMetaGetString_UnexpectedDBError(t *testing.T) {
	repo, mock, db := newTestMetaRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT value FROM sync_meta").
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(errors.New("db network error"))

	_, err := repo.GetString(context.Background(), MetaLastServerTS)
	if !errors.Is(err, ErrExecutingQuery) {
		t.Fatalf("expected ErrExecutingQuery, got %v", err)
	}
}

func TestMetaGetInt64(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "valid integer", raw: "1756000000000", want: 1756000000000},
		{name: "zero", raw: "0", want: 0},
		{name: "non-integer value", raw: "not-a-number", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newTestMetaRepo(t)
			defer db.Close()

			rows := sqlmock.NewRows([]string{"value"}).AddRow(tt.raw)
			mock.ExpectQuery("SELECT value FROM sync_meta").
				WithArgs(MetaLastServerTS).
				WillReturnRows(rows)

			got, err := repo.GetInt64(context.Background(), MetaLastServerTS)
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "non-integer") {
					t.Fatalf("expected non-integer error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestMetaPut_FormatsValues(t *testing.T) {
	repo, mock, db := newTestMetaRepo(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sync_meta").
		WithArgs(MetaLastServerTS, "1756000000000").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Put(context.Background(), MetaLastServerTS, int64(1756000000000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMetaPut_DBError(t *testing.T) {
	repo, mock, db := newTestMetaRepo(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sync_meta").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))

	err := repo.Put(context.Background(), MetaGlobalSyncID, "abc")
	if !errors.Is(err, ErrExecutingStatement) {
		t.Fatalf("expected ErrExecutingStatement, got %v", err)
	}
}

func TestMetaDelete(t *testing.T) {
	repo, mock, db := newTestMetaRepo(t)
	defer db.Close()

	mock.ExpectExec("DELETE FROM sync_meta").
		WithArgs(MetaCollectionSyncID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), MetaCollectionSyncID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMetaChangeToken(t *testing.T) {
	repo, mock, db := newTestMetaRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"value"}).AddRow(int64(7))

	mock.ExpectQuery("SELECT value FROM sync_meta").
		WithArgs(metaChangeToken).
		WillReturnRows(rows)

	token, err := repo.ChangeToken(context.Background(), db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != 7 {
		t.Errorf("expected change token 7, got %d", token)
	}
}

func TestMetaSetApplyGuard(t *testing.T) {
	tests := []struct {
		name string
		on   bool
		want string
	}{
		{name: "raise guard", on: true, want: "1"},
		{name: "drop guard", on: false, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newTestMetaRepo(t)
			defer db.Close()

			mock.ExpectExec("INSERT INTO sync_meta").
				WithArgs(metaApplyGuard, tt.want).
				WillReturnResult(sqlmock.NewResult(0, 1))

			if err := repo.SetApplyGuard(context.Background(), db, tt.on); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}
