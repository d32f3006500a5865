package limitless

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/internal/logger"
	"github.com/aws/aws-rds-go-driver/selector"
)

// ErrNoRouters is returned by GetInstance when the monitor's router list
// is still empty (no successful query has completed yet).
var ErrNoRouters = errors.New("limitless: no routers available")

type trackedMonitor struct {
	refCount int
	monitor  *Monitor
}

// Service is the process-wide ref-counted registry of per-cluster
// Monitors, mirroring LimitlessMonitorService.
type Service struct {
	mu       sync.Mutex
	monitors map[string]*trackedMonitor
	rr       *selector.RoundRobin
	log      *logger.Logger
}

// NewService constructs an empty Service. A process normally has one,
// shared across every Limitless-enabled connection.
func NewService(log *logger.Logger) *Service {
	return &Service{
		monitors: make(map[string]*trackedMonitor),
		rr:       selector.NewRoundRobin(),
		log:      log,
	}
}

// CheckCluster reports whether connStr points at a Limitless-enabled
// cluster, by running the router-endpoint catalog probe and checking it
// doesn't error.
func CheckCluster(ctx context.Context, session dbsession.Session, connStr string) bool {
	if err := session.Connect(ctx, connStr); err != nil {
		return false
	}
	defer session.Close()
	_, err := session.Query(ctx, RouterEndpointQuery)
	return err == nil
}

// GetInstance looks up or creates the Monitor for serviceID (incrementing
// its reference count), takes an immediate snapshot of its router list,
// and round-robins a router to connect to. Routers are internally treated
// as writers for selection purposes (they are peers, not writer/reader
// pairs).
func (s *Service) GetInstance(serviceID, connStr string, hostPort int, sessionFactory dbsession.Factory) (hostinfo.Host, error) {
	s.mu.Lock()
	tm, ok := s.monitors[serviceID]
	if ok {
		tm.refCount++
	} else {
		tm = &trackedMonitor{refCount: 1, monitor: Open(connStr, hostPort, DefaultInterval, sessionFactory, s.log)}
		s.monitors[serviceID] = tm
	}
	s.mu.Unlock()

	routers := tm.monitor.Routers()
	if len(routers) == 0 {
		return hostinfo.Host{}, ErrNoRouters
	}

	props := map[string]string{}
	selector.SetRoundRobinWeight(routers, props)
	return s.rr.Select(hostinfo.Topology(routers), true, props)
}

// StopService decrements serviceID's reference count, closing and
// removing its Monitor once the count reaches zero.
func (s *Service) StopService(serviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm, ok := s.monitors[serviceID]
	if !ok {
		return
	}
	tm.refCount--
	if tm.refCount <= 0 {
		tm.monitor.Close()
		delete(s.monitors, serviceID)
	}
}
