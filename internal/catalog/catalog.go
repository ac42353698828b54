// Package catalog resolves task definitions from the YAML question bank and
// keeps a short-lived in-process copy of it.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"redmansion/internal/apperr"
	"redmansion/internal/logger"
	"redmansion/internal/metrics"
	"redmansion/internal/models"
)

// DefaultTTL bounds how long a loaded bank is served before it is reloaded
const DefaultTTL = 5 * time.Minute

//go:embed default_tasks.yaml
var defaultBank []byte

// Source loads the full question bank
type Source interface {
	Load(ctx context.Context) ([]models.Task, error)
}

// FileSource reads the bank from a YAML file on every load
type FileSource struct {
	Path string
}

// Load reads and parses the file
func (s FileSource) Load(ctx context.Context) ([]models.Task, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task bank %s: %w", s.Path, err)
	}
	return ParseTasks(data)
}

// EmbeddedSource serves the bank compiled into the binary
type EmbeddedSource struct{}

// Load parses the embedded bank
func (EmbeddedSource) Load(ctx context.Context) ([]models.Task, error) {
	return ParseTasks(defaultBank)
}

// NewSource returns a FileSource for path, or the embedded bank when path is empty
func NewSource(path string) Source {
	if path == "" {
		return EmbeddedSource{}
	}
	return FileSource{Path: path}
}

type snapshot struct {
	byID     map[string]models.Task
	ordered  []models.Task
	loadedAt time.Time
}

// Catalog caches the question bank for ttl. Concurrent misses share a
// single load.
type Catalog struct {
	source Source
	ttl    time.Duration
	logger *logger.Logger

	current atomic.Pointer[snapshot]
	group   singleflight.Group
	now     func() time.Time
}

// New creates a catalog over source. A non-positive ttl uses DefaultTTL.
func New(source Source, ttl time.Duration, log *logger.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Catalog{
		source: source,
		ttl:    ttl,
		logger: log.With("service", "Catalog"),
		now:    time.Now,
	}
}

// GetTaskByID resolves one task or fails with NotFound
func (c *Catalog) GetTaskByID(ctx context.Context, id string) (*models.Task, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	task, ok := snap.byID[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "GetTaskByID", "task %s not found", id)
	}
	return &task, nil
}

// ListTasks returns every task in bank order
func (c *Catalog) ListTasks(ctx context.Context) ([]models.Task, error) {
	snap, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Task, len(snap.ordered))
	copy(out, snap.ordered)
	return out, nil
}

// Invalidate drops the cached bank so the next lookup reloads it
func (c *Catalog) Invalidate() {
	c.current.Store(nil)
}

func (c *Catalog) load(ctx context.Context) (*snapshot, error) {
	if snap := c.current.Load(); snap != nil && c.now().Sub(snap.loadedAt) < c.ttl {
		metrics.CatalogCacheTotal.WithLabelValues("hit").Inc()
		return snap, nil
	}
	metrics.CatalogCacheTotal.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do("bank", func() (interface{}, error) {
		tasks, err := c.source.Load(ctx)
		if err != nil {
			return nil, err
		}
		snap := &snapshot{
			byID:     make(map[string]models.Task, len(tasks)),
			ordered:  tasks,
			loadedAt: c.now(),
		}
		for _, t := range tasks {
			snap.byID[t.ID] = t
		}
		c.current.Store(snap)
		c.logger.Debug("Task bank loaded", "tasks", len(tasks))
		return snap, nil
	})
	if err != nil {
		c.logger.Error("Failed to load task bank", "error", err)
		return nil, fmt.Errorf("failed to load task bank: %w", err)
	}
	return v.(*snapshot), nil
}
