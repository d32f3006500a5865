// Package endpoint classifies RDS/Aurora DNS hostnames and rewrites
// connection strings to target a specific host, grounded on
// util/rds_utils.{h,cc} and util/connection_string_helper.cc from the
// original implementation.
package endpoint

import "regexp"

var (
	auroraDNSPattern = regexp.MustCompile(`(?i)^(.+)\.(proxy-|cluster-|cluster-ro-|cluster-custom-|shardgrp-)?([a-zA-Z0-9]+\.([a-zA-Z0-9\-]+)\.rds\.amazonaws\.com)$`)
	auroraProxyDNSPattern         = regexp.MustCompile(`(?i)^(.+)\.(proxy-)+([a-zA-Z0-9]+\.[a-zA-Z0-9\-]+\.rds\.amazonaws\.com)$`)
	auroraClusterPattern          = regexp.MustCompile(`(?i)^(.+)\.(cluster-|cluster-ro-)+([a-zA-Z0-9]+\.[a-zA-Z0-9\-]+\.rds\.amazonaws\.com)$`)
	auroraWriterClusterPattern    = regexp.MustCompile(`(?i)^(.+)\.(cluster-)+([a-zA-Z0-9]+\.[a-zA-Z0-9\-]+\.rds\.amazonaws\.com)$`)
	auroraReaderClusterPattern    = regexp.MustCompile(`(?i)^(.+)\.(cluster-ro-)+([a-zA-Z0-9]+\.[a-zA-Z0-9\-]+\.rds\.amazonaws\.com)$`)
	auroraCustomClusterPattern    = regexp.MustCompile(`(?i)^(.+)\.(cluster-custom-)+([a-zA-Z0-9]+\.[a-zA-Z0-9\-]+\.rds\.amazonaws\.com)$`)

	auroraChinaDNSPattern      = regexp.MustCompile(`(?i)^(.+)\.(proxy-|cluster-|cluster-ro-|cluster-custom-|shardgrp-)?([a-zA-Z0-9]+\.(rds\.[a-zA-Z0-9\-]+|[a-zA-Z0-9\-]+\.rds)\.amazonaws\.com\.cn)$`)
	auroraChinaProxyDNSPattern = regexp.MustCompile(`(?i)^(.+)\.(proxy-)+([a-zA-Z0-9]+\.(rds\.[a-zA-Z0-9\-]+|[a-zA-Z0-9\-]+\.rds)\.amazonaws\.com\.cn)$`)
	auroraChinaClusterPattern  = regexp.MustCompile(`(?i)^(.+)\.(cluster-|cluster-ro-)+([a-zA-Z0-9]+\.(rds\.[a-zA-Z0-9\-]+|[a-zA-Z0-9\-]+\.rds)\.amazonaws\.com\.cn)$`)

	ipv4Pattern = regexp.MustCompile(`^(([1-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])\.){1}(([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])\.){2}([0-9]|[1-9][0-9]|1[0-9]{2}|2[0-4][0-9]|25[0-5])$`)
	ipv6Pattern = regexp.MustCompile(`^[0-9a-fA-F]{1,4}(:[0-9a-fA-F]{1,4}){7}$`)
)

// IsRDSDNS reports whether host matches the general Aurora/RDS DNS shape
// (any partition).
func IsRDSDNS(host string) bool {
	return auroraDNSPattern.MatchString(host) || auroraChinaDNSPattern.MatchString(host)
}

// IsRDSClusterDNS reports whether host is a cluster (writer or reader)
// endpoint.
func IsRDSClusterDNS(host string) bool {
	return auroraClusterPattern.MatchString(host) || auroraChinaClusterPattern.MatchString(host)
}

// IsRDSProxyDNS reports whether host is an RDS Proxy endpoint.
func IsRDSProxyDNS(host string) bool {
	return auroraProxyDNSPattern.MatchString(host) || auroraChinaProxyDNSPattern.MatchString(host)
}

// IsRDSWriterClusterDNS reports whether host is a cluster writer endpoint
// (cluster- prefix, not cluster-ro-).
func IsRDSWriterClusterDNS(host string) bool {
	return auroraWriterClusterPattern.MatchString(host)
}

// IsRDSReaderClusterDNS reports whether host is a cluster reader endpoint
// (cluster-ro- prefix).
func IsRDSReaderClusterDNS(host string) bool {
	return auroraReaderClusterPattern.MatchString(host)
}

// IsRDSCustomClusterDNS reports whether host is a custom-cluster endpoint.
func IsRDSCustomClusterDNS(host string) bool {
	return auroraCustomClusterPattern.MatchString(host)
}

// IsIPv4 reports whether host is a dotted-quad IPv4 literal.
func IsIPv4(host string) bool { return ipv4Pattern.MatchString(host) }

// IsIPv6 reports whether host is an uncompressed IPv6 literal.
func IsIPv6(host string) bool { return ipv6Pattern.MatchString(host) }

// GetRDSClusterID extracts the cluster identifier from a cluster DNS name,
// empty if host isn't a recognized cluster endpoint.
func GetRDSClusterID(host string) string {
	if m := auroraClusterPattern.FindStringSubmatch(host); len(m) > 1 {
		return m[1]
	}
	if m := auroraChinaClusterPattern.FindStringSubmatch(host); len(m) > 1 {
		return m[1]
	}
	return ""
}

// GetRDSInstanceHostPattern returns the "?.<suffix>" template derived from
// host, used to substitute an arbitrary node ID back into the same
// cluster's DNS suffix.
func GetRDSInstanceHostPattern(host string) string {
	if m := auroraDNSPattern.FindStringSubmatch(host); len(m) > 3 && m[3] != "" {
		return "?." + m[3]
	}
	if m := auroraChinaDNSPattern.FindStringSubmatch(host); len(m) > 3 && m[3] != "" {
		return "?." + m[3]
	}
	return ""
}
