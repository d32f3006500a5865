package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/cache"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/topoquery"
)

// fakeDialect is a minimal dialect.Dialect; the query strings themselves are
// opaque to these tests since the fake sessions key their behavior off role,
// not query text.
type fakeDialect struct{}

func (fakeDialect) DefaultPort() int      { return 5432 }
func (fakeDialect) TopologyQuery() string { return "topology" }
func (fakeDialect) WriterIDQuery() string { return "writer-id" }
func (fakeDialect) NodeIDQuery() string   { return "node-id" }
func (fakeDialect) IsReaderQuery() string { return "is-reader" }

type fakeRow struct {
	val string
}

func (r fakeRow) Scan(dest ...any) error {
	*dest[0].(*string) = r.val
	return nil
}

type fakeRows struct {
	hosts hostinfo.Topology
	idx   int
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.hosts) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	h := r.hosts[r.idx-1]
	*dest[0].(*string) = h.Endpoint
	isWriter := 0
	if h.IsWriter {
		isWriter = 1
	}
	*dest[1].(*int) = isWriter
	*dest[2].(*float64) = 0
	*dest[3].(*float64) = 0
	*dest[4].(*time.Time) = time.Now()
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

// fakeSession is a directly-controllable dbsession.Session: every return
// value is an explicit field, no role inference, for tests that drive
// Monitor's unexported methods rather than the full goroutine lifecycle.
type fakeSession struct {
	connectErr error
	pingErr    error
	writerID   string
	topology   hostinfo.Topology
	closed     bool
	used       bool
}

func (s *fakeSession) Connect(ctx context.Context, connStr string) error { return s.connectErr }
func (s *fakeSession) Ping(ctx context.Context) error                    { s.used = true; return s.pingErr }
func (s *fakeSession) Close() error                                      { s.closed = true; return nil }
func (s *fakeSession) Query(ctx context.Context, query string) (dbsession.Rows, error) {
	s.used = true
	return &fakeRows{hosts: s.topology}, nil
}
func (s *fakeSession) QueryRow(ctx context.Context, query string) dbsession.Row {
	s.used = true
	return fakeRow{val: s.writerID}
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New(Config{
		ClusterID:       "cluster-a",
		Cache:           cache.New(),
		ConnStrTemplate: "SERVER=cluster-a;",
		SessionFactory:  func() dbsession.Session { return &fakeSession{} },
		Helper:          topoquery.New(fakeDialect{}, "?", 5432),
		HighRefreshRate: 10 * time.Millisecond,
		RefreshRate:     20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewErrConstructionOnNilCache(t *testing.T) {
	_, err := New(Config{SessionFactory: func() dbsession.Session { return &fakeSession{} }})
	if !errors.Is(err, ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}

func TestNewErrConstructionOnNilSessionFactory(t *testing.T) {
	_, err := New(Config{Cache: cache.New()})
	if !errors.Is(err, ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}

func TestNewStartsInPanicMode(t *testing.T) {
	m := newTestMonitor(t)
	if m.currentMode() != Panic {
		t.Fatalf("expected Panic, got %v", m.currentMode())
	}
}

func TestArmIgnoreWindowOnlyArmsOnce(t *testing.T) {
	m := newTestMonitor(t)
	m.ignoreTopologyTime = time.Hour

	m.armIgnoreWindow()
	first := m.ignoreUntil.Load()
	if first == nil {
		t.Fatal("expected window to be armed")
	}

	m.armIgnoreWindow()
	second := m.ignoreUntil.Load()
	if first != second {
		t.Fatal("expected second armIgnoreWindow to be a no-op (CAS-from-nil only)")
	}
}

func TestArmIgnoreWindowNoopWhenDisabled(t *testing.T) {
	m := newTestMonitor(t)
	m.ignoreTopologyTime = 0
	m.armIgnoreWindow()
	if m.ignoreUntil.Load() != nil {
		t.Fatal("expected window to stay unarmed when ignoreTopologyTime <= 0")
	}
}

func TestWithinIgnoreWindow(t *testing.T) {
	m := newTestMonitor(t)
	if m.withinIgnoreWindow() {
		t.Fatal("expected false before arming")
	}

	m.ignoreTopologyTime = time.Hour
	m.armIgnoreWindow()
	if !m.withinIgnoreWindow() {
		t.Fatal("expected true right after arming")
	}
}

func TestHandleIgnoreWindowTimingClearsExpiredWindow(t *testing.T) {
	m := newTestMonitor(t)
	past := time.Now().Add(-time.Second)
	m.ignoreUntil.Store(&past)

	m.handleIgnoreWindowTiming()
	if m.ignoreUntil.Load() != nil {
		t.Fatal("expected expired window to be cleared")
	}
}

func TestHandleIgnoreWindowTimingKeepsLiveWindow(t *testing.T) {
	m := newTestMonitor(t)
	future := time.Now().Add(time.Hour)
	m.ignoreUntil.Store(&future)

	m.handleIgnoreWindowTiming()
	if m.ignoreUntil.Load() == nil {
		t.Fatal("expected live window to remain armed")
	}
}

func TestPublishUpdatesCacheAndWakesWaiters(t *testing.T) {
	m := newTestMonitor(t)
	top := hostinfo.Topology{hostinfo.New("w1", 5432, true)}

	waiter := m.updatedChan()
	done := make(chan struct{})
	go func() {
		<-waiter
		close(done)
	}()

	m.publish(top)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish did not wake waiter")
	}

	if diff := cmp.Diff(top, m.cachedTopology(), cmpopts.IgnoreFields(hostinfo.Host{}, "LastUpdateTime", "HasLastUpdateTime")); diff != "" {
		t.Fatalf("cachedTopology mismatch (-want +got):\n%s", diff)
	}
}

func TestCachedTopologyEmptyWhenUnset(t *testing.T) {
	m := newTestMonitor(t)
	if got := m.cachedTopology(); got != nil {
		t.Fatalf("expected nil topology, got %+v", got)
	}
}

// TestForceRefreshIsAlwaysImmediate pins the deliberately-preserved Open
// Question 2 behavior: timeoutMS is unsigned, so the original's
// `timeout_ms >= 0` guard is always true and ForceRefresh never actually
// blocks, regardless of how large a timeout is requested.
func TestForceRefreshIsAlwaysImmediate(t *testing.T) {
	m := newTestMonitor(t)
	top := hostinfo.Topology{hostinfo.New("w1", 5432, true)}
	m.publish(top)

	start := time.Now()
	got := m.ForceRefresh(false, 60*1000)
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected immediate return, took %v", elapsed)
	}
	if diff := cmp.Diff(top, got, cmpopts.IgnoreFields(hostinfo.Host{}, "LastUpdateTime", "HasLastUpdateTime")); diff != "" {
		t.Fatalf("ForceRefresh result mismatch (-want +got):\n%s", diff)
	}
}

func TestForceRefreshWithinIgnoreWindowShortCircuits(t *testing.T) {
	m := newTestMonitor(t)
	top := hostinfo.Topology{hostinfo.New("w1", 5432, true)}
	m.publish(top)

	m.ignoreTopologyTime = time.Hour
	m.armIgnoreWindow()

	sess := &fakeSession{}
	m.mainSession = sess
	m.isWriterConnection.Store(true)

	got := m.ForceRefresh(true, 0)
	if diff := cmp.Diff(top, got, cmpopts.IgnoreFields(hostinfo.Host{}, "LastUpdateTime", "HasLastUpdateTime")); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if sess.closed {
		t.Fatal("expected the ignore-window short-circuit to skip the verifyWriter teardown")
	}
}

func TestForceRefreshVerifyWriterClosesMainSession(t *testing.T) {
	m := newTestMonitor(t)
	sess := &fakeSession{}
	m.mainSession = sess
	m.isWriterConnection.Store(true)

	m.ForceRefresh(true, 0)

	if !sess.closed {
		t.Fatal("expected mainSession to be closed")
	}
	m.mainMu.Lock()
	session := m.mainSession
	m.mainMu.Unlock()
	if session != nil {
		t.Fatal("expected mainSession to be cleared")
	}
	if m.isWriterConnection.Load() {
		t.Fatal("expected isWriterConnection to be cleared")
	}
}

func TestForceRefreshWithSessionUsesCacheWhenAlreadyWriterConnection(t *testing.T) {
	m := newTestMonitor(t)
	top := hostinfo.Topology{hostinfo.New("w1", 5432, true)}
	m.publish(top)
	m.isWriterConnection.Store(true)

	// A session that records any use (and cannot connect); confirms the
	// writer-connection path never touches it.
	poison := &fakeSession{connectErr: errors.New("must not be used")}

	got := m.ForceRefreshWithSession(poison, 0)
	if diff := cmp.Diff(top, got, cmpopts.IgnoreFields(hostinfo.Host{}, "LastUpdateTime", "HasLastUpdateTime")); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if poison.used {
		t.Fatal("expected the caller-supplied session to be untouched")
	}
}

func TestForceRefreshWithSessionFetchesDirectlyWhenNotWriterConnection(t *testing.T) {
	m := newTestMonitor(t)
	top := hostinfo.Topology{hostinfo.New("w1", 5432, true), hostinfo.New("r1", 5432, false)}
	sess := &fakeSession{topology: top}

	got := m.ForceRefreshWithSession(sess, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 hosts, got %+v", got)
	}
	if diff := cmp.Diff(top, m.cachedTopology(), cmpopts.IgnoreFields(hostinfo.Host{}, "LastUpdateTime", "HasLastUpdateTime")); diff != "" {
		t.Fatalf("expected the direct fetch to be published, mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchAndPublishNilSession(t *testing.T) {
	m := newTestMonitor(t)
	if got := m.fetchAndPublish(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestFetchAndPublishPingFailureReturnsNil(t *testing.T) {
	m := newTestMonitor(t)
	sess := &fakeSession{pingErr: errors.New("unreachable")}
	if got := m.fetchAndPublish(sess); got != nil {
		t.Fatalf("expected nil on ping failure, got %+v", got)
	}
}

func TestFetchAndPublishEmptyTopologyReturnsNil(t *testing.T) {
	m := newTestMonitor(t)
	sess := &fakeSession{}
	if got := m.fetchAndPublish(sess); got != nil {
		t.Fatalf("expected nil on empty topology, got %+v", got)
	}
}

func TestHandleRegularModeDemotesToPanicOnEmptyTopology(t *testing.T) {
	m := newTestMonitor(t)
	sess := &fakeSession{}
	m.mainSession = sess
	m.isWriterConnection.Store(true)
	m.setMode(Regular)

	continueTiming := m.handleRegularMode()
	if continueTiming {
		t.Fatal("expected handleRegularMode to signal a mode change (no further timing this iteration)")
	}
	if m.currentMode() != Panic {
		t.Fatalf("expected demotion to Panic, got %v", m.currentMode())
	}
	if !sess.closed {
		t.Fatal("expected the stale mainSession to be closed")
	}
	if m.isWriterConnection.Load() {
		t.Fatal("expected isWriterConnection to be cleared")
	}
}

func TestHandleRegularModeStaysRegularAndClearsExpiredHighRefreshWindow(t *testing.T) {
	m := newTestMonitor(t)
	sess := &fakeSession{topology: hostinfo.Topology{hostinfo.New("w1", 5432, true)}}
	m.mainSession = sess
	m.setMode(Regular)
	past := time.Now().Add(-time.Second)
	m.highRefreshEndTime.Store(&past)

	if !m.handleRegularMode() {
		t.Fatal("expected handleRegularMode to report true (stay Regular)")
	}
	if m.currentMode() != Regular {
		t.Fatalf("expected to remain Regular, got %v", m.currentMode())
	}
	if m.highRefreshEndTime.Load() != nil {
		t.Fatal("expected the expired high-refresh window to be cleared")
	}
}

func TestCheckForWriterNoSignalReturnsTrue(t *testing.T) {
	m := newTestMonitor(t)
	if !m.checkForWriter() {
		t.Fatal("expected true when writerFound is empty")
	}
	if m.currentMode() != Panic {
		t.Fatal("expected mode to remain Panic")
	}
}

func TestCheckForWriterPromotesOnSignal(t *testing.T) {
	m := newTestMonitor(t)
	stale := &fakeSession{}
	m.mainSession = stale

	newHost := hostinfo.New("writer-new", 5432, true)
	newSession := &fakeSession{}
	m.writerFound <- probeResult{session: newSession, host: newHost}

	if m.checkForWriter() {
		t.Fatal("expected false: a mode change happened")
	}
	if m.currentMode() != Regular {
		t.Fatalf("expected Regular, got %v", m.currentMode())
	}
	if !stale.closed {
		t.Fatal("expected the stale mainSession to be closed")
	}
	if !m.isWriterConnection.Load() {
		t.Fatal("expected isWriterConnection true")
	}
	if got := m.writerHost.Load(); got == nil || !got.Equal(newHost) {
		t.Fatalf("expected writerHost %+v, got %+v", newHost, got)
	}
	if m.highRefreshEndTime.Load() == nil {
		t.Fatal("expected a post-panic high-refresh window to be armed")
	}
}

func TestStopProbesIdempotentWithNoLiveProbes(t *testing.T) {
	m := newTestMonitor(t)
	m.stopProbes()
	m.stopProbes()
}

// TestMonitorLifecyclePanicToRegular exercises the real goroutine wiring:
// Start spawns node probes over a pre-seeded topology, the probe attached to
// the writer claims the writer slot and reports it, and the main worker
// promotes out of Panic mode without any direct method calls from the test.
func TestMonitorLifecyclePanicToRegular(t *testing.T) {
	c := cache.New()
	seed := hostinfo.Topology{
		hostinfo.New("writer1", 5432, true),
		hostinfo.New("reader1", 5432, false),
	}
	c.Put("cluster-a", seed)

	sessionFactory := func() dbsession.Session {
		return &probeSession{cluster: seed}
	}

	m, err := New(Config{
		ClusterID:       "cluster-a",
		Cache:           c,
		ConnStrTemplate: "SERVER=cluster-a;",
		SessionFactory:  sessionFactory,
		Helper:          topoquery.New(fakeDialect{}, "?", 5432),
		HighRefreshRate: 5 * time.Millisecond,
		RefreshRate:     20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.Start()
	defer m.Close()

	deadline := time.After(3 * time.Second)
	for m.currentMode() != Regular {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Panic -> Regular promotion")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !m.isWriterConnection.Load() {
		t.Fatal("expected isWriterConnection true after promotion")
	}
	if got := m.writerHost.Load(); got == nil || got.Endpoint != "writer1" {
		t.Fatalf("expected writerHost writer1, got %+v", got)
	}
}

// probeSession is keyed off the connStr it's given (via RewriteForHost's
// SERVER= rewrite): whichever host it connects to decides whether it reports
// itself as the writer. Every probeSession shares the same cluster-wide
// topology view, mirroring a real topology query answered identically by
// any live node.
type probeSession struct {
	cluster hostinfo.Topology
	isWriter bool
}

func (s *probeSession) Connect(ctx context.Context, connStr string) error {
	values := parseServer(connStr)
	for _, h := range s.cluster {
		if h.Endpoint == values && h.IsWriter {
			s.isWriter = true
		}
	}
	return nil
}

func (s *probeSession) Ping(ctx context.Context) error { return nil }
func (s *probeSession) Close() error                   { return nil }

func (s *probeSession) Query(ctx context.Context, query string) (dbsession.Rows, error) {
	return &fakeRows{hosts: s.cluster}, nil
}

func (s *probeSession) QueryRow(ctx context.Context, query string) dbsession.Row {
	if s.isWriter {
		return fakeRow{val: "writer1"}
	}
	return fakeRow{val: ""}
}

// parseServer pulls the SERVER value back out of a "KEY=v;KEY=v" string
// without importing the endpoint package, keeping this test self-contained.
func parseServer(connStr string) string {
	for _, kv := range splitOnSemicolon(connStr) {
		const prefix = "SERVER="
		if len(kv) > len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):]
		}
	}
	return ""
}

func splitOnSemicolon(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ';' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
