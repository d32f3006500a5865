// Package registry implements the process-wide Service Registry: one
// lazily-created, reference-counted failover.Service per cluster id,
// shared across every connection that enables cluster failover for that
// cluster.
//
// Grounded on src/failover/failover_service.{h,cc}'s
// FailoverServiceTrackerHandler and FailoverServiceTracker.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/aws/aws-rds-go-driver/failover"
	"github.com/aws/aws-rds-go-driver/internal/logger"
)

// Tracker holds one cluster's shared Service alongside its reference
// count and in-flight-failover flag.
//
// Teardown is eventual, not synchronous: Release decrements the reference
// count and checks failoverInProgress as two separate atomic operations,
// not one compare-and-swap. A failover that starts immediately after the
// last Release observes a tracker that is about to be torn down, and a
// Release that lands mid-failover may see FailoverInProgress > 0 and skip
// teardown even though the caller already walked away. Neither caller
// blocks waiting for the other; the next GetOrCreate/Release call
// reconciles state. This mirrors the original std::atomic<int> bookkeeping
// (see DESIGN.md Open Question 3) and is documented rather than fixed.
type Tracker struct {
	Service           *failover.Service
	ReferenceCount    atomic.Int64
	FailoverInProgress atomic.Int64
}

// Registry is the process-wide map of cluster id to Tracker.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	log      *logger.Logger
}

// New constructs an empty Registry. A process normally has exactly one,
// shared across every connection.
func New(log *logger.Logger) *Registry {
	return &Registry{trackers: make(map[string]*Tracker), log: log}
}

// GetOrCreate returns the existing tracker for clusterID, incrementing its
// reference count (and rebuilding its service via build if Release had
// detached it), or constructs a new one via build and stores it if none
// existed yet. build runs under the registry lock, so concurrent callers
// for one cluster id never construct two services.
func (r *Registry) GetOrCreate(clusterID string, build func() *failover.Service) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[clusterID]; ok {
		if t.Service == nil {
			t.Service = build()
		}
		t.ReferenceCount.Add(1)
		if r.log != nil {
			r.log.Print(logger.LevelInfo, logger.ComponentRegistry, "additional reference", "cluster_id", clusterID, "ref_count", t.ReferenceCount.Load())
		}
		return t
	}

	t := &Tracker{Service: build()}
	t.ReferenceCount.Store(1)
	r.trackers[clusterID] = t
	if r.log != nil {
		r.log.Print(logger.LevelInfo, logger.ComponentRegistry, "created", "cluster_id", clusterID)
	}
	return t
}

// Release decrements the reference count for clusterID. If it reaches
// zero and no failover is in flight, the service is detached from the
// tracker (the tracker entry itself is left in the map; the next
// GetOrCreate for that cluster id rebuilds the service). See the Tracker
// doc comment for why this is not synchronous.
func (r *Registry) Release(clusterID string) {
	r.mu.Lock()
	t, ok := r.trackers[clusterID]
	r.mu.Unlock()
	if !ok {
		return
	}

	remaining := t.ReferenceCount.Load()
	if remaining > 0 {
		remaining = t.ReferenceCount.Add(-1)
		if r.log != nil {
			r.log.Print(logger.LevelInfo, logger.ComponentRegistry, "removing reference", "cluster_id", clusterID, "ref_count", remaining)
		}
	}

	if remaining <= 0 && t.FailoverInProgress.Load() <= 0 {
		r.mu.Lock()
		if cur, ok := r.trackers[clusterID]; ok && cur == t {
			cur.Service = nil
		}
		r.mu.Unlock()
		if r.log != nil {
			r.log.Print(logger.LevelInfo, logger.ComponentRegistry, "ended", "cluster_id", clusterID)
		}
	}
}

// Get returns the tracker for clusterID, if any.
func (r *Registry) Get(clusterID string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[clusterID]
	return t, ok
}
