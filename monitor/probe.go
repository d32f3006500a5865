package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/topoquery"
)

// probe is a transient worker that holds a session to one host and reports
// its role. It owns only the handles passed to it at spawn time and never
// holds a pointer back into Monitor.
type probe struct {
	host           hostinfo.Host
	connStr        string
	sessionFactory dbsession.Factory
	helper         topoquery.Helper

	writerSlot  *atomic.Bool
	writerFound chan<- probeResult

	readerUpdater     *atomic.Bool
	setReaderTopology func(hostinfo.Topology)

	publish func(hostinfo.Topology)

	writerHostRef *hostinfo.Host
	interval      time.Duration

	isUpdater bool
}

func (p *probe) run(ctx context.Context) {
	session := p.sessionFactory()
	connected := false
	detached := false

	defer func() {
		if !detached {
			session.Close()
		}
	}()

	for ctx.Err() == nil {
		if !connected {
			if err := session.Connect(ctx, p.connStr); err != nil {
				if !p.sleep(ctx) {
					return
				}
				continue
			}
			connected = true
		}

		writerID := p.helper.GetWriterID(ctx, session)
		if writerID != "" {
			if p.writerSlot.CompareAndSwap(false, true) {
				topology := p.helper.QueryTopology(ctx, session)
				p.publish(topology)
				select {
				case p.writerFound <- probeResult{session: session, host: p.host}:
				default:
				}
				detached = true
				return
			}
			// Another probe already claimed the writer slot.
			return
		}

		p.handleReader(ctx, session)

		if !p.sleep(ctx) {
			return
		}
	}
}

// handleReader runs when this probe is attached to a reader. The first
// reader to observe the writer slot still empty becomes the "topology
// updater" for the duration of panic mode; it shares its latest topology
// reading and immediately publishes if the writer it sees differs from
// the last known writer (writer-change detection).
func (p *probe) handleReader(ctx context.Context, session dbsession.Session) {
	if p.writerSlot.Load() {
		return
	}
	if !p.readerUpdater.CompareAndSwap(false, true) && !p.isUpdater {
		return
	}
	p.isUpdater = true

	topology := p.helper.QueryTopology(ctx, session)
	if len(topology) == 0 {
		return
	}
	p.setReaderTopology(topology)

	if w, ok := topology.Writer(); ok {
		if p.writerHostRef == nil || !w.Equal(*p.writerHostRef) {
			p.publish(topology)
		}
	}
}

func (p *probe) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.interval):
		return true
	}
}
