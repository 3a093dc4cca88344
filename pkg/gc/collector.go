// Package gc removes orphaned content from a content store.
//
// Content is orphaned when no file record references its id. It is left
// behind when the gateway stops between dropping a file record and
// deleting its bytes, or when a content delete fails after REMOVE or
// RENAME already answered the client.
package gc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/nfs3gw/internal/logger"
	"github.com/marmos91/nfs3gw/pkg/store"
)

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled starts the periodic sweep.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval is the time between sweeps (default: 24h)
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"min=0"`

	// Timeout bounds one sweep (default: 10m)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=0"`

	// DryRun logs orphans without deleting them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// Defaults for Config.
const (
	DefaultInterval = 24 * time.Hour
	DefaultTimeout  = 10 * time.Minute
)

func (c *Config) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Collector sweeps a content store for ids unknown to the metadata store.
type Collector struct {
	meta    store.MetadataStore
	content store.ContentStore
	lister  store.ContentLister
	config  Config

	// sweepMu serialises sweeps so a manual run never overlaps the timer.
	sweepMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New returns a stopped collector. The content store must implement
// store.ContentLister.
func New(meta store.MetadataStore, content store.ContentStore, config Config) (*Collector, error) {
	lister, ok := content.(store.ContentLister)
	if !ok {
		return nil, fmt.Errorf("content store %T cannot list its content", content)
	}
	config.applyDefaults()

	return &Collector{
		meta:    meta,
		content: content,
		lister:  lister,
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start runs a sweep every Interval until Stop is called or ctx is
// cancelled. It does nothing when the collector is disabled.
func (c *Collector) Start(ctx context.Context) {
	if !c.config.Enabled {
		close(c.doneCh)
		return
	}

	logger.Info("Garbage collector started: interval=%s dry_run=%t", c.config.Interval, c.config.DryRun)
	go c.worker(ctx)
}

// Stop ends the periodic sweep and waits for a running one to finish.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })

	select {
	case <-c.doneCh:
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

func (c *Collector) worker(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
			stats, err := c.Run(runCtx)
			cancel()
			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
				continue
			}
			logger.Info("Garbage collection completed: %s", stats.Summary())

		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Run performs one sweep.
//
// Content ids are listed before the file table is read. Content is only
// written for a file that already has a record, so an id created during
// the sweep is either missing from the listing or referenced by the
// table: live content is never deleted.
func (c *Collector) Run(ctx context.Context) (*Stats, error) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	stats := &Stats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	existing, err := c.lister.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list content: %w", err)
	}
	stats.Existing = len(existing)

	referenced := make(map[string]struct{})
	err = c.meta.View(ctx, func(tx store.MetadataTx) error {
		return tx.ForEach(func(info *store.FileInfo) error {
			if info.ContentID != "" {
				referenced[info.ContentID] = struct{}{}
			}
			return nil
		})
	})
	if err != nil {
		return stats, fmt.Errorf("failed to read file table: %w", err)
	}
	stats.Referenced = len(referenced)

	var orphaned []string
	for _, id := range existing {
		if _, ok := referenced[id]; !ok {
			orphaned = append(orphaned, id)
		}
	}
	stats.Orphaned = len(orphaned)

	if len(orphaned) == 0 {
		return stats, nil
	}

	if c.config.DryRun {
		for i, id := range orphaned {
			if i == 10 {
				logger.Info("GC: dry run, %d more orphans not shown", len(orphaned)-i)
				break
			}
			logger.Info("GC: dry run, would delete %s", id)
		}
		return stats, nil
	}

	for _, id := range orphaned {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := c.content.Delete(ctx, id); err != nil {
			logger.Debug("GC: failed to delete %s: %v", id, err)
			stats.Failed++
			continue
		}
		stats.Deleted++
	}
	return stats, nil
}

// Stats describes one sweep.
type Stats struct {
	StartTime  time.Time
	EndTime    time.Time
	Existing   int // ids held by the content store
	Referenced int // ids referenced by file records
	Orphaned   int
	Deleted    int
	Failed     int
}

// Duration returns how long the sweep took.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a one-line description for logs.
func (s *Stats) Summary() string {
	return fmt.Sprintf("existing=%d referenced=%d orphaned=%d deleted=%d failed=%d duration=%s",
		s.Existing, s.Referenced, s.Orphaned, s.Deleted, s.Failed, s.Duration())
}
