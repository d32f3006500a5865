package limitless

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/internal/logger"
)

// DefaultInterval is the worker's steady-state poll interval.
const DefaultInterval = time.Second

// Monitor runs a single background worker that keeps a shared router list
// current for one Limitless cluster. Unlike the Cluster Topology Monitor,
// there is no panic mode: it is a plain ticker loop with silent reconnect.
type Monitor struct {
	connStr        string
	hostPort       int
	interval       time.Duration
	sessionFactory dbsession.Factory
	log            *logger.Logger

	routersMu sync.Mutex
	routers   hostinfo.RouterList

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open connects once synchronously (so the caller has an immediate best-
// effort router list) and then launches the background worker.
func Open(connStr string, hostPort int, interval time.Duration, sessionFactory dbsession.Factory, log *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m := &Monitor{
		connStr:        connStr,
		hostPort:       hostPort,
		interval:       interval,
		sessionFactory: sessionFactory,
		log:            log,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	session := sessionFactory()
	if err := session.Connect(context.Background(), connStr); err == nil {
		if routers := QueryForRouters(context.Background(), session, hostPort); len(routers) > 0 {
			m.routers = routers
		}
	}

	go m.run(session)
	return m
}

func (m *Monitor) run(session dbsession.Session) {
	defer close(m.done)
	connected := session != nil

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			if session != nil {
				session.Close()
			}
			return
		case <-ticker.C:
		}

		if !connected || session.Ping(context.Background()) != nil {
			if session != nil {
				session.Close()
			}
			session = m.sessionFactory()
			if err := session.Connect(context.Background(), m.connStr); err != nil {
				connected = false
				continue
			}
			connected = true
		}

		routers := QueryForRouters(context.Background(), session, m.hostPort)
		if len(routers) == 0 {
			// Transient error (or a connection drop the next tick will
			// catch); keep the last-known-good list.
			continue
		}

		m.routersMu.Lock()
		m.routers = routers
		m.routersMu.Unlock()
	}
}

// Routers returns a snapshot of the current router list.
func (m *Monitor) Routers() hostinfo.RouterList {
	m.routersMu.Lock()
	defer m.routersMu.Unlock()
	out := make(hostinfo.RouterList, len(m.routers))
	copy(out, m.routers)
	return out
}

// Close stops the worker and waits for it to exit. It's safe to call more
// than once.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.done
}
