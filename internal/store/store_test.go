package store

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/miniapp-host/internal/config"
)

// exerciseStore runs the AppStore contract against s.
func exerciseStore(t *testing.T, s AppStore) {
	t.Helper()
	ctx := context.Background()
	t0 := time.UnixMilli(1_760_000_000_000).UTC()

	added, err := s.IsAdded(ctx, "a.example.com")
	require.NoError(t, err)
	assert.False(t, added)

	created, err := s.Add(ctx, AddedApp{Domain: "b.example.com", URL: "https://b.example.com/", AddedAt: t0.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Add(ctx, AddedApp{Domain: "a.example.com", URL: "https://a.example.com/", AddedAt: t0})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Add(ctx, AddedApp{Domain: "a.example.com", URL: "https://other/", AddedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.Get(ctx, "a.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://a.example.com/", got.URL)
	assert.True(t, got.AddedAt.Equal(t0))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a.example.com", list[0].Domain)
	assert.Equal(t, "b.example.com", list[1].Domain)

	require.NoError(t, s.Remove(ctx, "a.example.com"))
	assert.ErrorIs(t, s.Remove(ctx, "a.example.com"), ErrNotFound)
	_, err = s.Get(ctx, "a.example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Add(ctx, AddedApp{})
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQL(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(ctx, config.StoreConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQL{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "postgres"})
	assert.Error(t, err)

	_, err = Open(ctx, config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS added_apps").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_added_apps_added_at").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQL(sqlx.NewDb(db, "postgres"))
	ctx := context.Background()
	at := time.UnixMilli(1_760_000_000_000)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO added_apps (domain, url, added_at) VALUES ($1, $2, $3) ON CONFLICT (domain) DO NOTHING`)).
		WithArgs("a.example.com", "https://a.example.com/", at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(1) FROM added_apps WHERE domain = $1`)).
		WithArgs("a.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM added_apps WHERE domain = $1`)).
		WithArgs("missing.example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := s.Add(ctx, AddedApp{Domain: "a.example.com", URL: "https://a.example.com/", AddedAt: at})
	require.NoError(t, err)
	assert.True(t, created)

	ok, err := s.IsAdded(ctx, "a.example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, s.Remove(ctx, "missing.example.com"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	prefix := "miniapp-test:" + time.Now().Format("150405.000000") + ":"
	s, err := OpenRedis(context.Background(), addr, prefix)
	require.NoError(t, err)
	defer func() {
		s.client.Del(context.Background(), s.key)
		s.Close()
	}()
	exerciseStore(t, s)
}

func TestRedis_KeyPrefix(t *testing.T) {
	s := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "miniapp:")
	defer s.Close()
	assert.Equal(t, "miniapp:added_apps", s.key)
}
