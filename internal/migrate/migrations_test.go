package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manutenzioni/internal/db"
	"manutenzioni/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	v1, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	v2, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOneOpenInstanceIndex(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	insert := `INSERT INTO scadenze(id,checklist_voce_id,civico,asset_id,data_scadenza,stato,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`
	_, err = conn.ExecContext(ctx, insert, "a", "voce", "C1", "A1", "2024-01-01", "programmata", "t", "t")
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, insert, "b", "voce", "C1", "A1", "2024-02-01", "programmata", "t", "t")
	require.Error(t, err)
	_, err = conn.ExecContext(ctx, insert, "c", "voce", "C1", "A1", "2023-12-01", "completata", "t", "t")
	require.NoError(t, err)
}
