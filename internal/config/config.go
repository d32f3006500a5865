// Package config resolves the connection-string keys in
// internal/endpoint into a typed, validated Config, applying the same
// defaults the original implementation hardcodes for each key.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-rds-go-driver/internal/endpoint"
)

// Defaults, grounded on FailoverService::DEFAULT_*_MS.
const (
	DefaultIgnoreTopologyRequest = 30 * time.Second
	DefaultHighRefreshRate       = 10 * time.Second
	DefaultRefreshRate           = 30 * time.Second
	DefaultFailoverTimeout       = 30 * time.Second
)

const DefaultReaderSelectorStrategy = "RANDOM"

// Config is the resolved, typed form of a connection string's RDS-HA keys.
type Config struct {
	Server                     string
	ClusterID                  string
	EnableClusterFailover      bool
	FailoverMode               string
	ReaderHostSelectorStrategy string
	HostPattern                string
	IgnoreTopologyRequest      time.Duration
	HighRefreshRate            time.Duration
	RefreshRate                time.Duration
	FailoverTimeout            time.Duration
}

// Option customizes a Config after it's parsed from a connection string,
// following the teacher's functional-options idiom for client construction.
type Option func(*Config)

// WithClusterID overrides the cluster id (otherwise derived from Server's
// DNS shape when the connection string doesn't supply CLUSTERID).
func WithClusterID(id string) Option {
	return func(c *Config) { c.ClusterID = id }
}

// WithFailoverTimeout overrides FAILOVERTIMEOUT.
func WithFailoverTimeout(d time.Duration) Option {
	return func(c *Config) { c.FailoverTimeout = d }
}

// Parse builds a Config from a raw "KEY=value;..." connection string,
// applying defaults for any key left unset, then applies opts in order.
func Parse(connStr string, opts ...Option) Config {
	values := endpoint.Parse(connStr)

	c := Config{
		Server:                     values[endpoint.KeyServer],
		ClusterID:                  values[endpoint.KeyClusterID],
		EnableClusterFailover:      values[endpoint.KeyEnableClusterFailover] == "1",
		FailoverMode:               strings.ToUpper(values[endpoint.KeyFailoverMode]),
		ReaderHostSelectorStrategy: readerStrategyOrDefault(values[endpoint.KeyReaderHostSelectorStrategy]),
		HostPattern:                values[endpoint.KeyHostPattern],
		IgnoreTopologyRequest:      durationOrDefault(values[endpoint.KeyIgnoreTopologyRequest], DefaultIgnoreTopologyRequest),
		HighRefreshRate:            durationOrDefault(values[endpoint.KeyTopologyHighRefreshRate], DefaultHighRefreshRate),
		RefreshRate:                durationOrDefault(values[endpoint.KeyTopologyRefreshRate], DefaultRefreshRate),
		FailoverTimeout:            durationOrDefault(values[endpoint.KeyFailoverTimeout], DefaultFailoverTimeout),
	}

	if c.ClusterID == "" {
		c.ClusterID = endpoint.GetRDSClusterID(c.Server)
	}
	if c.HostPattern == "" {
		c.HostPattern = endpoint.GetRDSInstanceHostPattern(c.Server)
	}

	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func readerStrategyOrDefault(s string) string {
	if s == "" {
		return DefaultReaderSelectorStrategy
	}
	return strings.ToUpper(s)
}

// durationOrDefault parses a millisecond count the way parse_num in the
// original does: fall back to def on anything that doesn't parse, rather
// than failing construction outright.
func durationOrDefault(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
