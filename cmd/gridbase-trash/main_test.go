package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/app"
	"github.com/gridbase/gridbase/internal/config"
	"github.com/gridbase/gridbase/pkg/types"
)

const user = types.UserID(1)

// seed creates a workspace with a trashed database and returns the
// workspace id.
func seed(t *testing.T, dataDir string) int64 {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	a, err := app.New(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Open(ctx))
	defer a.Stop()

	ws, err := a.Workspaces.CreateWorkspace(ctx, user, "Acme")
	require.NoError(t, err)
	db, err := a.Workspaces.CreateDatabase(ctx, user, ws.ID, "CRM")
	require.NoError(t, err)
	require.NoError(t, a.Workspaces.DeleteApplication(ctx, user, db.ID))
	return ws.ID
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestRun_ContentsEmptyPurge(t *testing.T) {
	dir := t.TempDir()
	wsID := seed(t, dir)
	ws := fmt.Sprint(wsID)

	out, err := runCmd(t, "-data-dir", dir, "contents", "-user", "1", "-workspace", ws)
	require.NoError(t, err)
	var entries []*types.TrashEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, types.TrashTypeApplication, entries[0].ItemType)

	out, err = runCmd(t, "-data-dir", dir, "mark")
	require.NoError(t, err)
	assert.Equal(t, "marked 0 entries for permanent deletion\n", out)

	out, err = runCmd(t, "-data-dir", dir, "empty", "-user", "1", "-workspace", ws)
	require.NoError(t, err)
	assert.Equal(t, "marked 1 entries for permanent deletion\n", out)

	out, err = runCmd(t, "-data-dir", dir, "purge")
	require.NoError(t, err)
	assert.Equal(t, "permanently deleted 1 entries\n", out)

	out, err = runCmd(t, "-data-dir", dir, "purge")
	require.NoError(t, err)
	assert.Equal(t, "permanently deleted 0 entries\n", out)
}

func TestRun_Structure(t *testing.T) {
	dir := t.TempDir()
	wsID := seed(t, dir)

	out, err := runCmd(t, "-data-dir", dir, "structure", "-user", "1")
	require.NoError(t, err)
	var structure types.TrashStructure
	require.NoError(t, json.Unmarshal([]byte(out), &structure))
	require.Len(t, structure.Workspaces, 1)
	assert.Equal(t, wsID, structure.Workspaces[0].ID)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := runCmd(t, "-data-dir", dir)
	assert.Error(t, err)

	_, err = runCmd(t, "-data-dir", dir, "compact")
	assert.ErrorContains(t, err, "unknown command")

	_, err = runCmd(t, "-data-dir", dir, "empty", "-user", "1")
	assert.ErrorContains(t, err, "-workspace is required")
}
