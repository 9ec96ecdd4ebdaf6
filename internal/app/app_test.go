package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manutenzioni/internal/config"
	"manutenzioni/internal/engine"
)

func TestOverridesApply(t *testing.T) {
	cfg := config.Default()
	err := Overrides{Addr: "0.0.0.0:9000", BasePath: "/v1", JWTSecret: "k", LogLevel: "debug"}.Apply(cfg)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, "k", cfg.Server.JWTSecret)
	assert.Equal(t, "debug", cfg.Log.Level)

	cfg = config.Default()
	require.NoError(t, Overrides{}.Apply(cfg))
	assert.Equal(t, "/api", cfg.Server.BasePath)

	err = Overrides{LogLevel: "verbose"}.Apply(config.Default())
	require.Error(t, err)
}

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	workspace := t.TempDir()
	yml := `log:
  level: error
checklist:
  items:
    - id: pompa-tenuta
      asset_type: pompa
      code: POM-01
      name: Verifica tenuta
alerts:
  log: false
`
	require.NoError(t, os.WriteFile(config.Path(workspace), []byte(yml), 0o644))

	ctx := context.Background()
	a, err := Open(ctx, workspace, Overrides{})
	require.NoError(t, err)
	defer a.Close(ctx)

	s, err := a.Engine.CreateScadenza(ctx, engine.CreateOptions{
		ChecklistItemID: "pompa-tenuta",
		Civico:          "Via Verdi 3",
		AssetID:         "POMPA-1",
		DueDate:         "2024-05-01",
		Recurrence:      "mensile",
	})
	require.NoError(t, err)
	assert.Equal(t, "pompa", s.AssetType)

	handler, err := a.Handler()
	require.NoError(t, err)
	assert.NotNil(t, handler)
}
