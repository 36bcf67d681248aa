package registration_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/goliatone/go-email-registration"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// newTestDB opens a private in-memory sqlite database and creates the users
// table.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = db.NewCreateTable().
		Model((*registration.User)(nil)).
		IfNotExists().
		Exec(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func newTestRepo(t *testing.T) registration.RepositoryManager {
	t.Helper()
	repo := registration.NewRepositoryManager(newTestDB(t))
	repo.MustValidate()
	return repo
}
