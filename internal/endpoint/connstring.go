package endpoint

import (
	"sort"
	"strings"
)

// Recognized connection-string keys, grounded on util/connection_string_keys.h.
const (
	KeyServer                    = "SERVER"
	KeyEnableClusterFailover     = "ENABLECLUSTERFAILOVER"
	KeyFailoverMode              = "FAILOVERMODE"
	KeyReaderHostSelectorStrategy = "READERHOSTSELECTORSTRATEGY"
	KeyHostPattern               = "HOSTPATTERN"
	KeyIgnoreTopologyRequest     = "IGNORETOPOLOGYREQUEST"
	KeyTopologyHighRefreshRate   = "TOPOLOGYHIGHREFRESHRATE"
	KeyTopologyRefreshRate       = "TOPOLOGYREFRESHRATE"
	KeyFailoverTimeout           = "FAILOVERTIMEOUT"
	KeyClusterID                 = "CLUSTERID"
)

// Parse splits a "KEY=value;KEY=value" connection string into a map with
// upper-cased keys, matching ConnectionStringHelper::ParseConnectionString.
func Parse(connStr string) map[string]string {
	dest := make(map[string]string)
	for _, pair := range strings.Split(connStr, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(pair[:eq]))
		val := strings.TrimSpace(pair[eq+1:])
		if key == "" || val == "" {
			continue
		}
		dest[key] = val
	}
	return dest
}

// Build serializes a key/value map back into a "KEY=value;KEY=value"
// connection string, in sorted key order for determinism (the original
// iterates a std::map, which is also key-ordered).
func Build(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
	}
	return b.String()
}

// RewriteForHost returns connStr with SERVER replaced by host and
// ENABLECLUSTERFAILOVER forced off, the rewrite the topology monitor
// applies before opening a probe connection to one specific cluster member
// (failover must never recurse through a per-node probe).
func RewriteForHost(connStr, host string) string {
	values := Parse(connStr)
	values[KeyServer] = host
	values[KeyEnableClusterFailover] = "0"
	return Build(values)
}
