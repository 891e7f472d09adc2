package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gridbase/gridbase/internal/config"
	"github.com/gridbase/gridbase/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.Trash.SweepInterval = time.Hour
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "ftp"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestOpen_WiresHandlers(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Open(ctx))
	t.Cleanup(func() { a.Stop() })

	const user = types.UserID(1)
	ws, err := a.Workspaces.CreateWorkspace(ctx, user, "Acme")
	require.NoError(t, err)
	db, err := a.Workspaces.CreateDatabase(ctx, user, ws.ID, "CRM")
	require.NoError(t, err)
	tbl, err := a.Tables.CreateTable(ctx, user, db.ID, "Customers")
	require.NoError(t, err)

	fields, err := a.Fields.ListFields(ctx, tbl.ID)
	require.NoError(t, err)
	require.NotEmpty(t, fields)

	r, err := a.Rows.CreateRow(ctx, user, tbl.ID, map[int64]any{fields[0].ID: "Ada"})
	require.NoError(t, err)
	require.NoError(t, a.Rows.DeleteRow(ctx, user, tbl.ID, r.ID))

	structure, err := a.Trash.GetTrashStructure(ctx, user)
	require.NoError(t, err)
	require.Len(t, structure.Workspaces, 1)
	assert.Equal(t, ws.ID, structure.Workspaces[0].ID)

	f, err := a.Files.UploadUserFile(ctx, user, "logo.txt", strings.NewReader("logo"))
	require.NoError(t, err)
	exists, err := a.Storage.Exists(ctx, "user_files/"+f.Name)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStart_ServesHealth(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	assert.Error(t, a.Start(ctx))

	conn, err := grpc.NewClient(a.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	require.NoError(t, a.Stop())
}

func TestWait_ReturnsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPC.Enabled = false
	a, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- a.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return")
	}
}
