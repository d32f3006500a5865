// Package failover implements the Failover Service: given an unhealthy
// connection, it reconnects to a writer or a reader depending on the
// configured failover mode, consulting the cached cluster topology and a
// host-selection strategy.
//
// Grounded on src/failover/failover_service.{h,cc}.
package failover

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/cache"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/internal/endpoint"
	"github.com/aws/aws-rds-go-driver/internal/logger"
	"github.com/aws/aws-rds-go-driver/internal/xcontext"
	"github.com/aws/aws-rds-go-driver/monitor"
	"github.com/aws/aws-rds-go-driver/selector"
)

// Mode is the failover strategy: which role the service must reconnect to.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeStrictReader
	ModeStrictWriter
	ModeReaderOrWriter
)

var modeNames = map[string]Mode{
	"STRICT_READER":     ModeStrictReader,
	"STRICT_WRITER":     ModeStrictWriter,
	"READER_OR_WRITER":  ModeReaderOrWriter,
}

func parseMode(s string) Mode {
	return modeNames[strings.ToUpper(s)]
}

// Status is the outcome of a Failover call.
type Status int

const (
	StatusFailed Status = iota
	StatusSucceeded
	StatusSkipped
)

// ErrNotSupported is returned when the triggering SQLSTATE does not call
// for a failover attempt (not a class-08 communication error).
var ErrNotSupported = errors.New("failover: sql state not eligible for failover")

// DefaultFailoverTimeout is used when Config.FailoverTimeout is zero. The
// monitor-side tuning defaults (ignore-topology window, high/low refresh
// rates) live in internal/config, the one place that resolves every
// connection-string default.
const DefaultFailoverTimeout = 30 * time.Second

// readerRetryInterval paces a failoverReader pass that attempted no
// connection at all, mirroring the probe's own retry cadence
// (monitor.probeInterval) so the reader loop never busy-spins.
const readerRetryInterval = 100 * time.Millisecond

// Config parameterizes a Service.
type Config struct {
	Host           string
	ClusterID      string
	ConnInfo       map[string]string
	DefaultPort    int
	Cache          *cache.Cache
	Monitor        *monitor.Monitor
	SessionFactory dbsession.Factory
	IsReaderQuery  string
	Logger         *logger.Logger
	FailoverTimeout time.Duration
}

// Service is a per-cluster failover orchestrator: one per ClusterID, shared
// across every connection that opted into cluster failover.
type Service struct {
	currHost  hostinfo.Host
	clusterID string
	connInfo  map[string]string
	defaultPort int
	cache     *cache.Cache
	mon       *monitor.Monitor
	sessionFactory dbsession.Factory
	isReaderQuery  string
	log       *logger.Logger
	mode      Mode
	reader    selector.Selector
	timeout   time.Duration
}

// New constructs a Service, resolving the failover mode and reader-selector
// strategy from the connection-string properties.
func New(cfg Config) *Service {
	s := &Service{
		clusterID:      cfg.ClusterID,
		connInfo:       cfg.ConnInfo,
		defaultPort:    cfg.DefaultPort,
		cache:          cfg.Cache,
		mon:            cfg.Monitor,
		sessionFactory: cfg.SessionFactory,
		isReaderQuery:  cfg.IsReaderQuery,
		log:            cfg.Logger,
		timeout:        cfg.FailoverTimeout,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultFailoverTimeout
	}

	s.mode = parseMode(cfg.ConnInfo[endpoint.KeyFailoverMode])
	if s.mode == ModeUnknown {
		if endpoint.IsRDSReaderClusterDNS(cfg.Host) {
			s.mode = ModeReaderOrWriter
		} else {
			s.mode = ModeStrictWriter
		}
	}

	s.reader = resolveReaderSelector(cfg.ConnInfo[endpoint.KeyReaderHostSelectorStrategy])
	s.currHost = hostinfo.New(cfg.Host, cfg.DefaultPort, false)

	if s.mon != nil {
		s.mon.Start()
	}
	return s
}

func resolveReaderSelector(strategy string) selector.Selector {
	switch strings.ToUpper(strategy) {
	case "ROUND_ROBIN":
		return selector.NewRoundRobin()
	case "HIGHEST_WEIGHT":
		return selector.HighestWeight{}
	default:
		return selector.Random{}
	}
}

// Failover attempts to open a new session to a healthy host of the
// required role and returns it; sqlState gates whether failover should even be attempted
// (only class-08 communication-link errors qualify).
func (s *Service) Failover(ctx context.Context, sqlState string) (Status, dbsession.Session, error) {
	if !shouldFailover(sqlState) {
		if s.log != nil {
			s.log.Print(logger.LevelInfo, logger.ComponentFailover, "sql state not eligible for failover", "cluster_id", s.clusterID, "sql_state", sqlState)
		}
		return StatusSkipped, nil, ErrNotSupported
	}

	s.connInfo[endpoint.KeyEnableClusterFailover] = "1"

	var (
		session dbsession.Session
		ok      bool
	)
	if s.mode == ModeStrictWriter {
		session, ok = s.failoverWriter(ctx)
	} else {
		session, ok = s.failoverReader(ctx)
	}

	if !ok {
		return StatusFailed, nil, nil
	}
	return StatusSucceeded, session, nil
}

// CurrentHost returns the host the service last connected to.
func (s *Service) CurrentHost() hostinfo.Host { return s.currHost }

func shouldFailover(sqlState string) bool {
	return strings.HasPrefix(sqlState, "08")
}

func (s *Service) cachedHosts() hostinfo.Topology {
	v, ok := s.cache.Get(s.clusterID)
	if !ok {
		return nil
	}
	return v.(hostinfo.Topology)
}

// failoverWriter forces a verified refresh (blocking, per Open Question 2
// this is observably immediate) then connects to whichever host the
// topology now reports as writer.
func (s *Service) failoverWriter(ctx context.Context) (dbsession.Session, bool) {
	if s.mon != nil {
		s.mon.ForceRefresh(true, uint32(s.timeout.Milliseconds()))
	}

	hosts := s.cachedHosts()
	props := map[string]string{}
	selector.SetRoundRobinWeight(hosts, props)

	host, err := s.reader.Select(hosts, true, props)
	if err != nil {
		if s.log != nil {
			s.log.Print(logger.LevelInfo, logger.ComponentFailover, "no hosts in topology", "cluster_id", s.clusterID)
		}
		return nil, false
	}

	session, connected := s.connectToHost(ctx, host.Endpoint)
	if !connected {
		return nil, false
	}

	isReader, err := s.isConnectedToReader(ctx, session)
	if err != nil || isReader {
		if s.log != nil {
			s.log.Print(logger.LevelInfo, logger.ComponentFailover, "new writer queried as reader", "cluster_id", s.clusterID, "host", host.Endpoint)
		}
		session.Close()
		return nil, false
	}

	s.currHost = host
	return session, true
}

// failoverReader loops candidate readers until the deadline, falling back
// to the original writer (which may have been demoted to a reader) each
// pass if no reader candidate connects.
func (s *Service) failoverReader(ctx context.Context) (dbsession.Session, bool) {
	if s.mon != nil {
		// timeout 0: update topology without waiting, a reader connection
		// doesn't require fresh topology to proceed.
		s.mon.ForceRefresh(false, 0)
	}

	hosts := s.cachedHosts()
	if len(hosts) == 0 {
		if s.log != nil {
			s.log.Print(logger.LevelInfo, logger.ComponentFailover, "no topology available", "cluster_id", s.clusterID)
		}
		return nil, false
	}

	var originalWriter hostinfo.Host
	var candidates []hostinfo.Host
	for _, h := range hosts {
		if h.IsWriter {
			originalWriter = h
		} else {
			candidates = append(candidates, h)
		}
	}

	props := map[string]string{}
	selector.SetRoundRobinWeight(candidates, props)

	deadline := time.Now().Add(s.timeout)

	// originalWriterStillWriter mirrors is_original_writer_still_writer in
	// failover_service.cc: once a pass confirms the original writer hasn't
	// been demoted, STRICT_READER mode stops retrying it.
	originalWriterStillWriter := false

	for time.Now().Before(deadline) {
		remaining := append(hostinfo.Topology(nil), candidates...)

		for len(remaining) > 0 && time.Now().Before(deadline) {
			host, err := s.reader.Select(remaining, false, props)
			if err != nil {
				return nil, false
			}

			session, connected := s.connectToHost(ctx, host.Endpoint)
			if !connected {
				remaining = removeCandidate(host.Endpoint, remaining)
				continue
			}

			isReader, err := s.isConnectedToReader(ctx, session)
			if err == nil && (isReader || s.mode != ModeStrictReader) {
				s.currHost = host
				return session, true
			}

			session.Close()
			remaining = removeCandidate(host.Endpoint, remaining)
			if err == nil && !isReader {
				candidates = removeCandidate(host.Endpoint, candidates)
			}
		}

		if time.Now().After(deadline) {
			continue
		}

		attemptedWriter := false
		if !(s.mode == ModeStrictReader && originalWriterStillWriter) {
			attemptedWriter = true

			session, connected := s.connectToHost(ctx, originalWriter.Endpoint)
			if connected {
				isReader, err := s.isConnectedToReader(ctx, session)
				if err == nil && (isReader || s.mode != ModeStrictReader) {
					s.currHost = originalWriter
					return session, true
				}
				if err == nil && !isReader {
					originalWriterStillWriter = true
				}
				session.Close()
			}
		}

		// Every pass must either attempt a connection or wait: once
		// STRICT_READER has confirmed the original writer is still a writer
		// and the candidate list is exhausted, there is nothing left to try
		// this pass, and looping straight back to the deadline check would
		// busy-spin.
		if !attemptedWriter {
			if !s.waitBeforeRetry(ctx, deadline) {
				break
			}
		}
	}

	if s.log != nil {
		s.log.Print(logger.LevelInfo, logger.ComponentFailover, "reader failover timed out", "cluster_id", s.clusterID)
	}
	return nil, false
}

// waitBeforeRetry pauses for readerRetryInterval, capped to whatever is
// left before deadline, and reports false if ctx is canceled first.
func (s *Service) waitBeforeRetry(ctx context.Context, deadline time.Time) bool {
	wait := readerRetryInterval
	if remaining := time.Until(deadline); remaining < wait {
		wait = remaining
	}
	if wait <= 0 {
		return true
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func removeCandidate(host string, candidates hostinfo.Topology) hostinfo.Topology {
	out := candidates[:0:0]
	for _, h := range candidates {
		if h.Endpoint != host {
			out = append(out, h)
		}
	}
	return out
}

// connectToHost bounds the connect attempt by the service's failover
// timeout, so one unreachable host can't silently outlast the deadline
// the caller is already tracking.
func (s *Service) connectToHost(ctx context.Context, host string) (dbsession.Session, bool) {
	s.connInfo[endpoint.KeyServer] = host
	connStr := endpoint.Build(s.connInfo)

	ctx, cancel := xcontext.WithBudget(ctx, s.timeout)
	defer cancel()

	session := s.sessionFactory()
	if err := session.Connect(ctx, connStr); err != nil {
		if s.log != nil {
			s.log.Print(logger.LevelInfo, logger.ComponentFailover, "connect failed", "cluster_id", s.clusterID, "host", host, "err", err.Error())
		}
		return nil, false
	}
	return session, true
}

func (s *Service) isConnectedToReader(ctx context.Context, session dbsession.Session) (bool, error) {
	if s.isReaderQuery == "" {
		return false, errors.New("failover: no is-reader query configured")
	}
	row := session.QueryRow(ctx, s.isReaderQuery)
	var isReader bool
	if err := row.Scan(&isReader); err != nil {
		return false, err
	}
	return isReader, nil
}
