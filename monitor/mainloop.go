package monitor

import (
	"context"
	"time"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/internal/endpoint"
	"github.com/aws/aws-rds-go-driver/internal/logger"
)

func (m *Monitor) run() {
	defer m.wg.Done()
	for m.running.Load() {
		var continueTiming bool
		if m.currentMode() == Panic {
			continueTiming = m.handlePanicMode()
		} else {
			continueTiming = m.handleRegularMode()
		}
		if continueTiming {
			m.handleIgnoreWindowTiming()
		}
	}
}

// handlePanicMode runs one panic-mode iteration: ensure probes are live (or
// bootstrap via an ad-hoc connection), check whether a probe has found a
// writer, then wait up to highRefreshRate before the next iteration.
func (m *Monitor) handlePanicMode() bool {
	continueTiming := true

	m.probeMu.Lock()
	live := m.probesLive
	m.probeMu.Unlock()

	if !live {
		m.initNodeMonitors()
	} else {
		continueTiming = m.checkForWriter()
	}

	m.delayMainThread(true)
	return continueTiming
}

// handleRegularMode runs one regular-mode iteration: query topology on the
// verified writer session; an empty result demotes the monitor back to
// Panic.
func (m *Monitor) handleRegularMode() bool {
	m.stopProbes()

	m.mainMu.Lock()
	session := m.mainSession
	m.mainMu.Unlock()

	hosts := m.fetchAndPublish(session)
	if len(hosts) == 0 {
		m.mainMu.Lock()
		if m.mainSession != nil {
			m.mainSession.Close()
			m.mainSession = nil
		}
		m.mainMu.Unlock()
		m.isWriterConnection.Store(false)
		m.setMode(Panic)
		return false
	}

	if end := m.highRefreshEndTime.Load(); end != nil && time.Now().After(*end) {
		m.highRefreshEndTime.Store(nil)
	}

	m.delayMainThread(false)
	return true
}

// fetchAndPublish runs query_topology on session and publishes the result,
// logging (rather than failing hard) on an invalid session.
func (m *Monitor) fetchAndPublish(session dbsession.Session) hostinfo.Topology {
	if session == nil {
		return nil
	}
	if err := session.Ping(m.ctx); err != nil {
		if m.log != nil {
			m.log.Print(logger.LevelInfo, logger.ComponentMonitor, "session unhealthy", "cluster_id", m.clusterID, "err", err.Error())
		}
		return nil
	}

	hosts := m.helper.QueryTopology(m.ctx, session)
	if len(hosts) == 0 {
		if m.log != nil {
			m.log.Print(logger.LevelInfo, logger.ComponentMonitor, "topology query returned no hosts", "cluster_id", m.clusterID)
		}
		return nil
	}
	m.publish(hosts)
	return hosts
}

// delayMainThread waits up to the chosen refresh interval, waking early if
// a force_refresh caller set requestUpdate. useHighRate is forced true
// during the post-panic grace window or while a refresh is pending.
func (m *Monitor) delayMainThread(useHighRate bool) {
	if end := m.highRefreshEndTime.Load(); end != nil && time.Now().Before(*end) {
		useHighRate = true
	}
	if m.requestUpdate.Load() {
		useHighRate = true
	}

	interval := m.refreshRate
	if useHighRate {
		interval = m.highRefreshRate
	}

	deadline := time.Now().Add(interval)
	for time.Now().Before(deadline) && !m.requestUpdate.Load() && m.running.Load() {
		select {
		case <-m.ctx.Done():
			return
		case <-time.After(topologyUpdateWait):
		}
	}
}

// initNodeMonitors spawns one probe per known host (or bootstraps via an
// ad-hoc connection when no topology is cached yet). When that connection
// verified as the writer, no probes are spawned and the worker switches to
// Regular.
func (m *Monitor) initNodeMonitors() {
	hosts := m.cachedTopology()
	if len(hosts) == 0 {
		hosts = m.openAnyConnGetHosts()
	}

	if len(hosts) == 0 {
		return
	}
	if m.isWriterConnection.Load() {
		end := time.Now().Add(highRefreshAfterPanic)
		m.highRefreshEndTime.Store(&end)
		m.setMode(Regular)
		return
	}

	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	probeCtx, probeCancel := context.WithCancel(m.ctx)
	m.probeCancel = probeCancel
	m.probesLive = true
	m.writerSlot.Store(false)
	m.readerUpdater.Store(false)

	writerHost := m.writerHost.Load()

	for _, h := range hosts {
		h := h
		p := &probe{
			host:           h,
			connStr:        m.connStringFor(h.Endpoint),
			sessionFactory: m.sessionFactory,
			helper:         m.helper,
			writerSlot:     &m.writerSlot,
			writerFound:    m.writerFound,
			readerUpdater:  &m.readerUpdater,
			setReaderTopology: func(t hostinfo.Topology) {
				m.readerTopologyMu.Lock()
				m.readerTopology = t
				m.readerTopologyMu.Unlock()
			},
			publish:      m.publish,
			writerHostRef: writerHost,
			interval:     probeInterval,
		}
		m.probeWG.Add(1)
		go func() {
			defer m.probeWG.Done()
			p.run(probeCtx)
		}()
	}
}

// checkForWriter drains at most one writerFound signal (non-blocking) and,
// if present, promotes it to the main session and exits panic mode.
func (m *Monitor) checkForWriter() bool {
	select {
	case res := <-m.writerFound:
		m.mainMu.Lock()
		if m.mainSession != nil {
			m.mainSession.Close()
		}
		m.mainSession = res.session
		m.mainMu.Unlock()

		host := res.host
		m.writerHost.Store(&host)
		m.isWriterConnection.Store(true)
		m.armIgnoreWindow()

		end := time.Now().Add(highRefreshAfterPanic)
		m.highRefreshEndTime.Store(&end)

		m.stopProbes()
		m.setMode(Regular)
		return false
	default:
		return true
	}
}

func (m *Monitor) stopProbes() {
	m.probeMu.Lock()
	cancel := m.probeCancel
	m.probeCancel = nil
	m.probesLive = false
	m.probeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.probeWG.Wait()
}

// openAnyConnGetHosts opens a session using the unmodified cluster-level
// connection string (which DNS-resolves to the current writer endpoint)
// and, if it verifies as a writer, arms the ignore window.
func (m *Monitor) openAnyConnGetHosts() hostinfo.Topology {
	m.mainMu.Lock()
	if m.mainSession != nil {
		session := m.mainSession
		m.mainMu.Unlock()
		return m.fetchAndPublish(session)
	}
	m.mainMu.Unlock()

	session := m.sessionFactory()
	if err := session.Connect(m.ctx, m.connStrTemplate); err != nil {
		return nil
	}

	m.mainMu.Lock()
	if m.mainSession != nil {
		already := m.mainSession
		m.mainMu.Unlock()
		session.Close()
		return m.fetchAndPublish(already)
	}
	m.mainSession = session
	m.mainMu.Unlock()

	writerVerified := false
	if id := m.helper.GetWriterID(m.ctx, session); id != "" {
		writerVerified = true
		m.isWriterConnection.Store(true)
		host := hostinfo.New(id, 0, true)
		m.writerHost.Store(&host)
	}

	hosts := m.fetchAndPublish(session)

	if writerVerified {
		m.armIgnoreWindow()
	}

	if len(hosts) == 0 {
		m.mainMu.Lock()
		if m.mainSession == session {
			session.Close()
			m.mainSession = nil
		}
		m.mainMu.Unlock()
		m.isWriterConnection.Store(false)
	}

	return hosts
}

// connStringFor rewrites SERVER to host and forces failover off, using the
// same connection-string rewrite rule failover uses for probe targets.
func (m *Monitor) connStringFor(host string) string {
	return endpoint.RewriteForHost(m.connStrTemplate, host)
}
