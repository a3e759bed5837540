package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAndTableExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := Open(ctx, filepath.Join(t.TempDir(), "t.sqlite"))
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	ok, err := TableExists(ctx, db, "things")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = db.ExecContext(ctx, "CREATE TABLE things (id INTEGER)")
	require.NoError(t, err)

	ok, err = TableExists(ctx, db, "things")
	require.NoError(t, err)
	require.True(t, ok)
}
