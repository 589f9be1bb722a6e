package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/pollmark/internal/core/domain"
	"github.com/vietddude/pollmark/internal/engine/predicate"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStore(&DB{DB: sqlx.NewDb(db, "sqlmock")}, "applicants"), mock
}

func TestStore_Query(t *testing.T) {
	store, mock := newMockStore(t)

	query := `SELECT id, properties FROM pollmark_records WHERE collection = $1 AND ` +
		`(COALESCE((properties -> $2 ->> 'bool')::boolean, false) = $3 AND ` +
		`COALESCE(properties -> $4 ->> 'text', '') <> $5) ORDER BY seq`

	rows := sqlmock.NewRows([]string{"id", "properties"}).
		AddRow("r1", []byte(`{"Name":{"type":"title","text":"Ada"},"Sent":{"type":"checkbox"}}`)).
		AddRow("r2", []byte(`{}`))

	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs("applicants", "Sent", false, "Stage", "Closed").
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), predicate.All(
		predicate.Checkbox("Sent", false),
		predicate.Condition{Field: "Stage", Kind: predicate.KindSelect, Op: predicate.OpNotEquals, Value: domain.Select("Closed")},
	))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ada", got[0].Properties["Name"].Text)
	assert.False(t, got[0].Properties["Sent"].Bool)
	assert.Empty(t, got[1].Properties)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryOrAndNot(t *testing.T) {
	b := &whereBuilder{}
	b.arg("c")

	where, err := b.compile(predicate.All(
		predicate.Any(predicate.Select("A", "x"), predicate.Select("B", "y")),
		predicate.Negate(predicate.Checkbox("C", true)),
	))
	require.NoError(t, err)
	assert.Equal(t,
		`((COALESCE(properties -> $2 ->> 'text', '') = $3 OR COALESCE(properties -> $4 ->> 'text', '') = $5) AND `+
			`NOT (COALESCE((properties -> $6 ->> 'bool')::boolean, false) = $7))`,
		where)
	assert.Len(t, b.args, 7)
}

func TestStore_Patch(t *testing.T) {
	store, mock := newMockStore(t)
	stmt := regexp.QuoteMeta(`UPDATE pollmark_records SET properties = properties || $1::jsonb, updated_at = NOW() WHERE collection = $2 AND id = $3`)

	mock.ExpectExec(stmt).
		WithArgs(sqlmock.AnyArg(), "applicants", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Patch(context.Background(), "r1", map[string]domain.Value{"Sent": domain.Checkbox(true)})
	assert.NoError(t, err)

	mock.ExpectExec(stmt).
		WithArgs(sqlmock.AnyArg(), "applicants", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.Patch(context.Background(), "gone", map[string]domain.Value{"Sent": domain.Checkbox(true)})
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Put(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO pollmark_records (collection, id, properties)`)).
		WithArgs("applicants", "r1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Put(context.Background(), domain.Row{ID: "r1", Properties: map[string]domain.Value{
		"Name": domain.Title("Ada"),
	}})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	query := regexp.QuoteMeta(`SELECT id, properties FROM pollmark_records WHERE collection = $1 AND id = $2`)

	mock.ExpectQuery(query).
		WithArgs("applicants", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "properties"}).
			AddRow("r1", []byte(`{"Score":{"type":"number","number":7}}`)))

	row, err := store.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "7", row.Properties["Score"].String())

	mock.ExpectQuery(query).
		WithArgs("applicants", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "properties"}))

	_, err = store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"pgx auth", &pgconn.PgError{Code: "28P01"}, domain.ErrAuth},
		{"lib/pq auth", &pq.Error{Code: "28000"}, domain.ErrAuth},
		{"permission denied", &pgconn.PgError{Code: "42501"}, domain.ErrAuth},
		{"connection failure", &pgconn.PgError{Code: "08006"}, domain.ErrUnavailable},
		{"plain error", errors.New("boom"), domain.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(classify(tt.err), tt.want))
		})
	}
	assert.NoError(t, classify(nil))
}
