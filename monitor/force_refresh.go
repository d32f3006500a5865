package monitor

import (
	"time"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
)

// ForceRefresh requests a fresh topology from the main worker and returns
// the topology the cache held when the call was made, without waiting for
// the requested update.
//
// timeoutMS is deliberately uint32, not a signed duration: the original
// C++ implementation compares an unsigned timeout_ms against zero
// (`timeout_ms >= 0`), which is always true, so the blocking-wait branch
// below is unreachable. This is a named Open Question (see DESIGN.md) and
// the immediate-return behavior is preserved intentionally, not fixed.
func (m *Monitor) ForceRefresh(verifyWriter bool, timeoutMS uint32) hostinfo.Topology {
	if m.withinIgnoreWindow() {
		if hosts := m.cachedTopology(); len(hosts) > 0 {
			return hosts
		}
	}

	if verifyWriter {
		m.mainMu.Lock()
		if m.mainSession != nil {
			m.mainSession.Close()
			m.mainSession = nil
		}
		m.mainMu.Unlock()
		m.isWriterConnection.Store(false)
	}

	return m.waitForTopologyUpdate(timeoutMS)
}

// ForceRefreshWithSession behaves like ForceRefresh if a verified writer
// session exists; otherwise it executes query_topology directly on the
// caller-supplied session and publishes the result.
func (m *Monitor) ForceRefreshWithSession(session dbsession.Session, timeoutMS uint32) hostinfo.Topology {
	if m.isWriterConnection.Load() {
		return m.waitForTopologyUpdate(timeoutMS)
	}
	return m.fetchAndPublish(session)
}

// waitForTopologyUpdate wakes the main worker and returns the current
// cached topology, coalescing concurrent callers via singleflight so a
// stampede of force_refresh calls wakes the monitor once.
//
// See the doc comment on ForceRefresh: the `timeoutMS >= 0` guard below is
// always true for an unsigned timeoutMS, so this always takes the
// immediate-return path. The blocking branch is kept, unreachable, to
// preserve the original's observable behavior.
func (m *Monitor) waitForTopologyUpdate(timeoutMS uint32) hostinfo.Topology {
	curr := m.cachedTopology()

	v, _, _ := m.sf.Do(m.clusterID+":refresh", func() (interface{}, error) {
		updated := m.updatedChan()
		m.requestUpdate.Store(true)

		if timeoutMS >= 0 { // always true: timeoutMS is unsigned.
			return curr, nil
		}

		// Unreachable: preserved per DESIGN.md Open Question 2.
		deadline := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
		defer deadline.Stop()
		select {
		case <-updated:
		case <-deadline.C:
		}
		return m.cachedTopology(), nil
	})

	return v.(hostinfo.Topology)
}
