package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"zchat/internal/domain"
	"zchat/internal/store/postgres"
	"zchat/internal/store/storetest"
)

// The suite needs a disposable database; it truncates every table.
func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("ZCHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ZCHAT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) domain.Store {
		pool, err := postgres.Open(ctx, dsn, postgres.PoolConfig{MaxConns: 4})
		require.NoError(t, err)
		require.NoError(t, postgres.Migrate(ctx, pool))
		_, err = pool.Exec(ctx, `TRUNCATE conversation_participants, messages, conversations, users CASCADE`)
		require.NoError(t, err)
		return postgres.NewStore(pool)
	})
}
