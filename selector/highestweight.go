package selector

import "github.com/aws/aws-rds-go-driver/hostinfo"

// HighestWeight returns the eligible Host with the maximum Weight value,
// ties broken by first occurrence.
//
// The weight formula in topoquery encodes "worse = higher" (replica lag and
// CPU both increase the number), yet this selector picks the *maximum*
// weight. That inversion is preserved deliberately — see the Open Question
// resolution in DESIGN.md — not fixed here.
type HighestWeight struct{}

var _ Selector = HighestWeight{}

func (HighestWeight) Select(hosts hostinfo.Topology, wantWriter bool, properties map[string]string) (hostinfo.Host, error) {
	candidates := eligible(hosts, wantWriter)
	if len(candidates) == 0 {
		return hostinfo.Host{}, ErrNoEligibleHost
	}

	best := candidates[0]
	for _, h := range candidates[1:] {
		if h.Weight > best.Weight {
			best = h
		}
	}
	return best, nil
}
