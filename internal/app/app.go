// Package app wires the gridbase components into one process and manages
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/config"
	"github.com/gridbase/gridbase/internal/converter"
	"github.com/gridbase/gridbase/internal/datasync"
	"github.com/gridbase/gridbase/internal/events"
	"github.com/gridbase/gridbase/internal/field"
	"github.com/gridbase/gridbase/internal/fieldtype"
	"github.com/gridbase/gridbase/internal/ledger"
	"github.com/gridbase/gridbase/internal/logging"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/internal/scheduler"
	"github.com/gridbase/gridbase/internal/server"
	"github.com/gridbase/gridbase/internal/storage"
	"github.com/gridbase/gridbase/internal/table"
	"github.com/gridbase/gridbase/internal/trash"
	"github.com/gridbase/gridbase/internal/trashtypes"
	"github.com/gridbase/gridbase/internal/userfile"
	"github.com/gridbase/gridbase/internal/view"
	"github.com/gridbase/gridbase/internal/workspace"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "gridbase"

// App owns the shared resources and the handlers built on them.
type App struct {
	cfg *config.Config

	Catalog   *catalog.Catalog
	Bus       *events.Bus
	Storage   storage.ObjectStorage
	Converter *converter.Engine
	Trash     *trash.Engine

	Workspaces *workspace.Handler
	Tables     *table.Handler
	Fields     *field.Handler
	Rows       *row.Handler
	Views      *view.Handler
	DataSyncs  *datasync.Handler
	Files      *userfile.Handler

	shutdown     *server.ShutdownManager
	daemon       *scheduler.Daemon
	grpcServer   *grpc.Server
	grpcListener net.Listener
	health       *health.Server
	eventLog     *events.Subscriber

	mu      sync.Mutex
	opened  bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	log *logrus.Entry
}

// New validates the configuration and creates the data directories.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{
		cfg:      cfg,
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig()),
		log:      logging.For("app"),
	}, nil
}

// Open opens the catalog and the object storage and builds every handler.
// Nothing runs in the background until Start.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}

	cat, err := catalog.Open(a.cfg.Database.Path, a.cfg.Database.BusyTimeoutMS)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.Catalog = cat
	a.shutdown.RegisterCloser(cat)

	if a.Storage, err = openStorage(ctx, a.cfg); err != nil {
		cat.Close()
		return err
	}
	a.log.WithField("type", a.cfg.Storage.Type).Info("storage initialized")

	a.Bus = events.NewBus(256)
	rowStore := row.NewStore(fieldtype.Default())
	a.Converter = converter.NewEngine(rowStore)

	registry := trash.NewRegistry()
	if err := trashtypes.Register(registry, a.Converter, rowStore, a.Bus); err != nil {
		cat.Close()
		return fmt.Errorf("failed to register trash types: %w", err)
	}
	a.Trash = trash.NewEngine(cat, registry, a.cfg.Retention())

	a.Rows = row.NewHandler(cat, rowStore, ledger.NewRegistry(), a.Bus)
	a.Rows.SetTrasher(a.Trash)
	a.Workspaces = workspace.NewHandler(cat, a.Trash)
	a.Tables = table.NewHandler(cat, a.Converter, a.Trash, a.Bus)
	a.Fields = field.NewHandler(cat, a.Converter, a.Rows, a.Trash, a.Bus)
	a.Views = view.NewHandler(cat, a.Trash, a.Bus)
	a.DataSyncs = datasync.NewHandler(cat, a.Converter, a.Rows, datasync.Default(), a.Bus)
	a.Files = userfile.NewHandler(cat, a.Storage, a.cfg.TempDir())

	a.opened = true
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "local":
		s, err := storage.NewLocalStorage(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return s, nil
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		s, err := storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// Start opens the app if needed and starts the scheduler, the event log
// and the gRPC health endpoint.
func (a *App) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.startEventLog()

	var syncs scheduler.DataSyncer
	syncAge := time.Duration(0)
	if a.cfg.DataSync.Enabled {
		syncs = a.DataSyncs
		syncAge = a.cfg.DataSync.Interval
	}
	a.daemon = scheduler.NewDaemon(scheduler.Config{
		Interval:   a.cfg.Trash.SweepInterval,
		SyncMaxAge: syncAge,
	}, a.Trash, syncs, a.Files)
	if err := a.daemon.Start(ctx); err != nil {
		a.Stop()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.shutdown.RegisterCloser(server.CloserFunc(a.daemon.Stop))

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.Stop()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	a.log.WithFields(logrus.Fields{
		"data_dir": a.cfg.DataDir,
		"grpc":     a.cfg.GRPC.Enabled,
	}).Info("gridbase started")
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
	}
	a.grpcListener = lis
	a.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(server.UnaryInterceptor(a.shutdown)))
	a.health = health.NewServer()
	healthpb.RegisterHealthServer(a.grpcServer, a.health)
	a.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	a.shutdown.OnShutdownStart(a.health.Shutdown)
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.WithField("addr", lis.Addr().String()).Info("gRPC health server listening")
		if err := a.grpcServer.Serve(lis); err != nil {
			a.log.WithError(err).Error("gRPC server stopped")
		}
	}()
	return nil
}

// startEventLog logs every published event at debug level.
func (a *App) startEventLog() {
	a.eventLog = a.Bus.Subscribe()
	a.wg.Add(1)
	go func(sub *events.Subscriber) {
		defer a.wg.Done()
		log := logging.For("events")
		for ev := range sub.Ch {
			log.WithFields(logrus.Fields{
				"event":    ev.Type,
				"user":     ev.User,
				"table_id": ev.TableID,
			}).Debug("event published")
		}
	}(a.eventLog)
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		a.Bus.Unsubscribe(a.eventLog.ID)
		return nil
	}))
}

// GRPCAddr returns the address of the health endpoint, or "" when it is
// not running.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Wait blocks until a termination signal arrives or ctx is cancelled, then
// shuts down.
func (a *App) Wait(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()
	return err
}

// Stop shuts the app down: the health service reports NOT_SERVING, the
// gRPC server drains, the scheduler stops and the catalog closes.
func (a *App) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	a.log.Info("initiating graceful shutdown")
	err := a.shutdown.Shutdown(context.Background(), "stop requested")
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	return err
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}
