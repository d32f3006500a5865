package selector

import (
	"math/rand"

	"github.com/aws/aws-rds-go-driver/hostinfo"
)

// Random selects uniformly at random over the eligible set.
type Random struct{}

var _ Selector = Random{}

func (Random) Select(hosts hostinfo.Topology, wantWriter bool, properties map[string]string) (hostinfo.Host, error) {
	candidates := eligible(hosts, wantWriter)
	if len(candidates) == 0 {
		return hostinfo.Host{}, ErrNoEligibleHost
	}
	return candidates[rand.Intn(len(candidates))], nil
}
