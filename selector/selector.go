// Package selector implements the three host-selection strategies
// (random, highest-weight, round-robin-with-weights) shared by the
// failover and limitless packages.
package selector

import (
	"errors"

	"github.com/aws/aws-rds-go-driver/hostinfo"
)

// ErrNoEligibleHost is returned when the eligibility filter produces an
// empty candidate set.
var ErrNoEligibleHost = errors.New("selector: no eligible host")

// ErrBadConfiguration is returned when a selector property is malformed
// (non-integer, non-positive, or otherwise invalid).
var ErrBadConfiguration = errors.New("selector: bad configuration")

// Selector chooses one Host from a topology, honoring wantWriter and
// caller-supplied properties (selector-specific configuration, e.g.
// round-robin weights).
type Selector interface {
	Select(hosts hostinfo.Topology, wantWriter bool, properties map[string]string) (hostinfo.Host, error)
}

// eligible returns the hosts in topology that are Up and, if wantWriter,
// also IsWriter. Order is preserved.
func eligible(topology hostinfo.Topology, wantWriter bool) []hostinfo.Host {
	out := make([]hostinfo.Host, 0, len(topology))
	for _, h := range topology {
		if h.State != hostinfo.Up {
			continue
		}
		if wantWriter && !h.IsWriter {
			continue
		}
		out = append(out, h)
	}
	return out
}
