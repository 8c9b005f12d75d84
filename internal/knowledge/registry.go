package knowledge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kaiseki/kaiseki/internal/models"
	"github.com/kaiseki/kaiseki/internal/storage"
)

// ErrNotIndexed means no snapshot exists for the fingerprint.
var ErrNotIndexed = errors.New("repository not indexed")

// ErrEvicted means the snapshot existed but was evicted and cannot be
// rehydrated from the store.
var ErrEvicted = errors.New("repository index evicted")

// defaultBuildTimeout bounds one shared build; builds are detached from any
// single caller's context, so this is their only deadline.
const defaultBuildTimeout = 15 * time.Minute

// buildState tracks progress of one in-flight build.
type buildState struct {
	done  atomic.Int64
	total atomic.Int64
}

func (b *buildState) update(done, total int) {
	b.done.Store(int64(done))
	b.total.Store(int64(total))
}

func (b *buildState) progress() float64 {
	total := b.total.Load()
	if total <= 0 {
		return 0
	}
	p := float64(b.done.Load()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

// Registry holds published snapshots keyed by fingerprint. Capacity is
// bounded: the least-recently-queried snapshot is evicted whole. Concurrent
// ingests of one fingerprint share a single build. Published snapshots are
// immutable, so reads never need the registry lock after lookup.
type Registry struct {
	builder      *Builder
	store        storage.Store // optional; nil disables persistence
	logger       *zap.Logger
	buildTimeout time.Duration

	group singleflight.Group
	cache *lru.Cache[string, *Snapshot]

	mu       sync.Mutex
	building map[string]*buildState
	evicted  map[string]bool
}

// NewRegistry creates a registry holding at most capacity snapshots.
// store may be nil to run memory-only.
func NewRegistry(capacity int, builder *Builder, store storage.Store, logger *zap.Logger) (*Registry, error) {
	if capacity <= 0 {
		capacity = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		builder:      builder,
		store:        store,
		logger:       logger,
		buildTimeout: defaultBuildTimeout,
		building:     make(map[string]*buildState),
		evicted:      make(map[string]bool),
	}
	cache, err := lru.NewWithEvict(capacity, func(fingerprint string, _ *Snapshot) {
		r.mu.Lock()
		r.evicted[fingerprint] = true
		r.mu.Unlock()
		logger.Info("snapshot evicted", zap.String("fingerprint", fingerprint))
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Ingest builds and publishes a snapshot for fingerprint from raw ingestion
// text. Re-ingesting a fingerprint that is already published is a no-op;
// concurrent calls for the same fingerprint share one build and receive the
// same result. A caller whose context ends stops waiting, but the shared
// build keeps running for everyone else.
func (r *Registry) Ingest(ctx context.Context, fingerprint, raw string) (*models.IngestResult, error) {
	if snap, ok := r.cache.Get(fingerprint); ok {
		return snap.Result(), nil
	}

	ch := r.group.DoChan(fingerprint, func() (interface{}, error) {
		if snap, ok := r.cache.Get(fingerprint); ok {
			return snap.Result(), nil
		}

		bs := &buildState{}
		r.mu.Lock()
		r.building[fingerprint] = bs
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			delete(r.building, fingerprint)
			r.mu.Unlock()
		}()

		// The build is shared by every caller waiting on the fingerprint,
		// so it runs on a registry-owned context: the first caller
		// disconnecting must not cancel the result for the rest.
		buildCtx, cancel := context.WithTimeout(context.Background(), r.buildTimeout)
		defer cancel()

		snap, err := r.builder.Build(buildCtx, fingerprint, raw, bs.update)
		if err != nil {
			return nil, err
		}
		r.publish(buildCtx, snap)
		return snap.Result(), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.IngestResult), nil
	}
}

// publish atomically swaps the snapshot in and persists it. Publication
// clears any eviction mark for the fingerprint.
func (r *Registry) publish(ctx context.Context, snap *Snapshot) {
	r.cache.Add(snap.Fingerprint, snap)
	r.mu.Lock()
	delete(r.evicted, snap.Fingerprint)
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	rec, err := snap.ToRecord()
	if err != nil {
		r.logger.Error("serialize snapshot failed", zap.String("fingerprint", snap.Fingerprint), zap.Error(err))
		return
	}
	if err := r.store.SaveSnapshot(ctx, rec); err != nil {
		r.logger.Error("persist snapshot failed", zap.String("fingerprint", snap.Fingerprint), zap.Error(err))
	}
}

// Get returns the published snapshot for fingerprint, rehydrating from the
// store when possible. Returns ErrNotIndexed or ErrEvicted otherwise.
func (r *Registry) Get(ctx context.Context, fingerprint string) (*Snapshot, error) {
	if snap, ok := r.cache.Get(fingerprint); ok {
		return snap, nil
	}

	r.mu.Lock()
	_, isBuilding := r.building[fingerprint]
	wasEvicted := r.evicted[fingerprint]
	r.mu.Unlock()

	if isBuilding {
		return nil, ErrNotIndexed
	}

	if snap, err := r.rehydrate(ctx, fingerprint); err == nil {
		return snap, nil
	}

	if wasEvicted {
		return nil, ErrEvicted
	}
	return nil, ErrNotIndexed
}

// rehydrate loads a persisted snapshot back into the registry.
func (r *Registry) rehydrate(ctx context.Context, fingerprint string) (*Snapshot, error) {
	if r.store == nil {
		return nil, ErrNotIndexed
	}
	rec, err := r.store.GetSnapshot(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	snap, err := SnapshotFromRecord(rec)
	if err != nil {
		r.logger.Error("rehydrate snapshot failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, err
	}
	r.cache.Add(fingerprint, snap)
	r.mu.Lock()
	delete(r.evicted, fingerprint)
	r.mu.Unlock()
	r.logger.Info("snapshot rehydrated", zap.String("fingerprint", fingerprint))
	return snap, nil
}

// Status reports the lifecycle state for fingerprint. Status is a cheap
// read: it does not refresh LRU recency and does not rehydrate.
func (r *Registry) Status(ctx context.Context, fingerprint string) *models.StatusInfo {
	r.mu.Lock()
	bs, isBuilding := r.building[fingerprint]
	wasEvicted := r.evicted[fingerprint]
	r.mu.Unlock()

	if isBuilding {
		return &models.StatusInfo{State: models.StateBuilding, Progress: bs.progress()}
	}
	if snap, ok := r.cache.Peek(fingerprint); ok {
		return snap.Status()
	}
	if wasEvicted {
		return &models.StatusInfo{State: models.StateEvicted}
	}
	if r.store != nil {
		if rec, err := r.store.GetSnapshot(ctx, fingerprint); err == nil {
			return &models.StatusInfo{
				State:      rec.State,
				Progress:   1,
				FileCount:  len(rec.Files),
				ChunkCount: len(rec.Chunks),
			}
		}
	}
	return &models.StatusInfo{State: models.StateNotFound}
}

// Len returns the number of snapshots currently in memory.
func (r *Registry) Len() int {
	return r.cache.Len()
}
