package selector

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/cache"
)

// Property keys recognized by RoundRobin.Select.
const (
	HostWeightKey    = "round_robin_host_weight_pairs"
	DefaultWeightKey = "round_robin_default_weight"
)

const defaultWeight = 1

// RoundRobinClusterInfo is the per-cluster selector state shared by every
// host in a cluster: the last host returned, the residual stickiness on
// it, and the weight configuration currently in effect. It lives as a
// cache value (see §4.C step 5: the same record is written back under
// every eligible host's key so it survives as long as any member host is
// still consulted).
type RoundRobinClusterInfo struct {
	mu sync.Mutex

	lastHost         string
	hasLastHost      bool
	clusterWeightMap map[string]int
	defaultWeight    int
	weightCounter    int

	lastDefaultWeightStr string
	lastHostWeightStr    string
}

// RoundRobin implements weighted, sticky round-robin selection across a
// cluster's eligible hosts.
type RoundRobin struct {
	cache *cache.Cache
}

var _ Selector = (*RoundRobin)(nil)

// NewRoundRobin constructs a RoundRobin selector with its own cluster-info
// cache. Distinct RoundRobin instances do not share state.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{cache: cache.New()}
}

func (r *RoundRobin) Select(hosts hostinfo.Topology, wantWriter bool, properties map[string]string) (hostinfo.Host, error) {
	candidates := eligible(hosts, wantWriter)
	if len(candidates) == 0 {
		return hostinfo.Host{}, ErrNoEligibleHost
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Endpoint < candidates[j].Endpoint
	})

	info, err := r.clusterInfoFor(candidates, properties)
	if err != nil {
		return hostinfo.Host{}, err
	}

	info.mu.Lock()
	defer info.mu.Unlock()

	lastIdx := -1
	if info.hasLastHost {
		for i, h := range candidates {
			if h.Endpoint == info.lastHost {
				lastIdx = i
			}
		}
	}

	var targetIdx int
	if info.weightCounter > 0 && lastIdx != -1 {
		targetIdx = lastIdx
	} else {
		if lastIdx != -1 && lastIdx != len(candidates)-1 {
			targetIdx = lastIdx + 1
		} else {
			targetIdx = 0
		}
		weight := info.defaultWeight
		if w, ok := info.clusterWeightMap[candidates[targetIdx].Endpoint]; ok {
			weight = w
		}
		info.weightCounter = weight
	}

	info.weightCounter--
	info.lastHost = candidates[targetIdx].Endpoint
	info.hasLastHost = true

	// Write the (possibly just-created/updated) cluster info back under
	// every eligible host's key so it isn't evicted while any member host
	// is still consulted.
	for _, h := range candidates {
		r.cache.Put(h.Endpoint, info)
	}

	return candidates[targetIdx], nil
}

func (r *RoundRobin) clusterInfoFor(candidates []hostinfo.Host, properties map[string]string) (*RoundRobinClusterInfo, error) {
	var info *RoundRobinClusterInfo
	for _, h := range candidates {
		if v, ok := r.cache.Get(h.Endpoint); ok {
			info = v.(*RoundRobinClusterInfo)
			break
		}
	}

	if info == nil {
		info = &RoundRobinClusterInfo{
			defaultWeight:    defaultWeight,
			clusterWeightMap: make(map[string]int),
		}
		if err := applyDefaultWeight(info, properties); err != nil {
			return nil, err
		}
		if err := applyHostWeights(info, properties); err != nil {
			return nil, err
		}
		return info, nil
	}

	info.mu.Lock()
	defer info.mu.Unlock()

	if propChanged(info.lastDefaultWeightStr, DefaultWeightKey, properties) {
		info.defaultWeight = defaultWeight
		if err := applyDefaultWeightLocked(info, properties); err != nil {
			return nil, err
		}
	}
	if propChanged(info.lastHostWeightStr, HostWeightKey, properties) {
		info.hasLastHost = false
		info.lastHost = ""
		info.weightCounter = 0
		if err := applyHostWeightsLocked(info, properties); err != nil {
			return nil, err
		}
	}

	return info, nil
}

func propChanged(current, key string, properties map[string]string) bool {
	v, ok := properties[key]
	if !ok {
		return false
	}
	return current != v
}

func applyDefaultWeight(info *RoundRobinClusterInfo, properties map[string]string) error {
	info.mu.Lock()
	defer info.mu.Unlock()
	return applyDefaultWeightLocked(info, properties)
}

func applyDefaultWeightLocked(info *RoundRobinClusterInfo, properties map[string]string) error {
	v, ok := properties[DefaultWeightKey]
	if !ok {
		info.defaultWeight = defaultWeight
		return nil
	}
	w, err := parsePositiveInt(v)
	if err != nil {
		return ErrBadConfiguration
	}
	info.defaultWeight = w
	info.lastDefaultWeightStr = v
	return nil
}

func applyHostWeights(info *RoundRobinClusterInfo, properties map[string]string) error {
	info.mu.Lock()
	defer info.mu.Unlock()
	return applyHostWeightsLocked(info, properties)
}

func applyHostWeightsLocked(info *RoundRobinClusterInfo, properties map[string]string) error {
	v, ok := properties[HostWeightKey]
	if !ok {
		return nil
	}
	if v == "" {
		info.clusterWeightMap = make(map[string]int)
		info.lastHostWeightStr = ""
		return nil
	}

	weights := make(map[string]int)
	for _, pair := range strings.Split(v, ",") {
		parts := strings.Split(pair, ":")
		if len(parts) != 2 {
			return ErrBadConfiguration
		}
		name, weightStr := parts[0], parts[1]
		if name == "" || weightStr == "" {
			return ErrBadConfiguration
		}
		w, err := parsePositiveInt(weightStr)
		if err != nil {
			return ErrBadConfiguration
		}
		weights[name] = w
	}

	info.clusterWeightMap = weights
	info.lastHostWeightStr = v
	return nil
}

// parsePositiveInt rejects non-integer, fractional, and non-positive
// strings (strconv.Atoi already rejects "1.1"-style fractional input,
// unlike the C++ side's stoi, so no extra fractional check is needed here).
func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < defaultWeight {
		return 0, ErrBadConfiguration
	}
	return n, nil
}

// SetRoundRobinWeight writes the HostWeightKey property from each host's
// own Weight field, for callers who want the selector to honor
// topology-derived weights rather than caller-configured ones.
func SetRoundRobinWeight(hosts []hostinfo.Host, properties map[string]string) {
	parts := make([]string, 0, len(hosts))
	for _, h := range hosts {
		parts = append(parts, h.Endpoint+":"+strconv.Itoa(h.Weight))
	}
	properties[HostWeightKey] = strings.Join(parts, ",")
}
