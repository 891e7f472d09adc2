// Package scheduler runs the periodic maintenance of a gridbase process:
// the trash sweep, data sync refreshes and user file cleanup. Each job calls
// the synchronous entry point of the package that owns it.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gridbase/gridbase/internal/logging"
)

// TrashSweeper marks expired trash and deletes what was marked.
type TrashSweeper interface {
	MarkOldTrashForPermanentDeletion(ctx context.Context) (int, error)
	PermanentlyDeleteMarkedTrash(ctx context.Context) (int, error)
}

// DataSyncer refreshes data syncs whose last sync is older than maxAge.
type DataSyncer interface {
	SyncDue(ctx context.Context, maxAge time.Duration) (int, error)
}

// OrphanCleaner removes stored blobs without a record.
type OrphanCleaner interface {
	DeleteOrphans(ctx context.Context) (int, error)
}

// Config holds the scheduler intervals.
type Config struct {
	// Interval is how often a cycle runs.
	Interval time.Duration

	// SyncMaxAge is the age after which a data sync is refreshed. Zero
	// disables refreshes.
	SyncMaxAge time.Duration
}

// Stats counts the work done by one cycle.
type Stats struct {
	Marked       int
	Deleted      int
	Synced       int
	OrphansFreed int
	Errors       int
}

// Daemon runs maintenance cycles on a ticker.
type Daemon struct {
	config  Config
	trash   TrashSweeper
	syncs   DataSyncer
	orphans OrphanCleaner

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	log *logrus.Entry
}

// NewDaemon creates a daemon. syncs and orphans may be nil.
func NewDaemon(config Config, trash TrashSweeper, syncs DataSyncer, orphans OrphanCleaner) *Daemon {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	return &Daemon{
		config:  config,
		trash:   trash,
		syncs:   syncs,
		orphans: orphans,
		log:     logging.For("scheduler"),
	}
}

// Start begins the maintenance loop. It runs until the context is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("scheduler: daemon is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop stops the loop and waits for the running cycle to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	d.RunOnce(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cycle. A failing job is logged and does not
// stop the jobs after it, except that nothing is purged when marking
// failed.
func (d *Daemon) RunOnce(ctx context.Context) Stats {
	var st Stats
	if ctx.Err() != nil {
		return st
	}

	marked, err := d.trash.MarkOldTrashForPermanentDeletion(ctx)
	if err != nil {
		st.Errors++
		d.log.WithError(err).Error("failed to mark old trash")
	} else {
		st.Marked = marked
		deleted, err := d.trash.PermanentlyDeleteMarkedTrash(ctx)
		st.Deleted = deleted
		if err != nil {
			st.Errors++
			d.log.WithError(err).Error("failed to delete marked trash")
		}
	}

	if d.syncs != nil && d.config.SyncMaxAge > 0 && ctx.Err() == nil {
		synced, err := d.syncs.SyncDue(ctx, d.config.SyncMaxAge)
		st.Synced = synced
		if err != nil {
			st.Errors++
			d.log.WithError(err).Error("failed to refresh data syncs")
		}
	}

	if d.orphans != nil && ctx.Err() == nil {
		freed, err := d.orphans.DeleteOrphans(ctx)
		st.OrphansFreed = freed
		if err != nil {
			st.Errors++
			d.log.WithError(err).Error("failed to delete orphaned files")
		}
	}

	if st.Marked+st.Deleted+st.Synced+st.OrphansFreed > 0 {
		d.log.WithFields(logrus.Fields{
			"marked":  st.Marked,
			"deleted": st.Deleted,
			"synced":  st.Synced,
			"orphans": st.OrphansFreed,
		}).Info("maintenance cycle finished")
	}
	return st
}
