// Package rds is the public, top-level entry point: a thin façade wiring
// monitor, failover, registry, selector, auth, and limitless behind the
// C-style surface spec.md §6 describes, the way mongo.go's Connect sits
// atop the driver's internal topology/server/session machinery.
package rds

import (
	"context"
	"time"

	"github.com/aws/aws-rds-go-driver/auth"
	"github.com/aws/aws-rds-go-driver/dialect"
	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/internal/logger"
	"github.com/aws/aws-rds-go-driver/limitless"
	"github.com/aws/aws-rds-go-driver/registry"
)

type options struct {
	credentialSource auth.CredentialSource
	log              *logger.Logger
}

// Option customizes a Client built by Connect.
type Option func(*options)

// WithCredentialSource supplies the collaborator GenerateConnectAuthToken
// delegates the actual federated credential fetch to. Required before any
// call that misses the token cache.
func WithCredentialSource(src auth.CredentialSource) Option {
	return func(o *options) { o.credentialSource = src }
}

// WithLogger attaches a Logger shared by all subsystems. When omitted, no
// subsystem logs anything.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// Client is the public handle a driver integration holds for the lifetime
// of a process. It owns the token cache and the Limitless monitor
// registry; the failover service registry is process-global (see
// package registry) because start_failover_service/stop_failover_service
// are themselves keyed by cluster id across every Client in the process,
// mirroring the original's global tracker map.
type Client struct {
	tokens    *auth.TokenCache
	limitless *limitless.Service
	log       *logger.Logger
}

// Connect constructs a Client. It performs no network I/O itself; it only
// wires the collaborators future calls will use.
func Connect(opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		tokens:    auth.NewTokenCache(o.credentialSource, o.log),
		limitless: limitless.NewService(o.log),
		log:       o.log,
	}
}

// GetFedAuthTypeEnum maps a case-insensitive name to a FederatedAuthType.
func (c *Client) GetFedAuthTypeEnum(name string) auth.FederatedAuthType {
	return auth.ParseFederatedAuthType(name)
}

// GetCachedToken returns a cached federated auth token for the identity,
// if present and unexpired.
func (c *Client) GetCachedToken(host, region string, port int, user string) (string, bool) {
	return c.tokens.GetCachedToken(host, region, port, user)
}

// UpdateCachedToken stores token for the identity with the given TTL.
func (c *Client) UpdateCachedToken(host, region string, port int, user, token string, ttl time.Duration) {
	c.tokens.UpdateCachedToken(host, region, port, user, token, ttl)
}

// GenerateConnectAuthToken returns a token for the identity, fetching a
// fresh one via the Client's CredentialSource on a cache miss.
func (c *Client) GenerateConnectAuthToken(ctx context.Context, host, region string, port int, user string, authType auth.FederatedAuthType) (string, error) {
	return c.tokens.GenerateConnectAuthToken(ctx, host, region, port, user, authType)
}

// StartFailoverService registers (or joins, if already running) the
// failover service for a cluster. It returns the resolved cluster id
// (derived from connStr's host DNS when clusterID is empty) and whether
// the service is usable.
func (c *Client) StartFailoverService(clusterID string, kind dialect.Kind, connStr string, sessionFactory dbsession.Factory) (string, bool) {
	return registry.StartFailoverService(clusterID, kind, connStr, sessionFactory, c.log)
}

// StopFailoverService releases this Client's reference to the cluster's
// failover service, tearing it down once every reference is released and
// no failover is in flight.
func (c *Client) StopFailoverService(clusterID string) {
	registry.StopFailoverService(clusterID)
}

// FailoverConnection attempts a role-compliant reconnect for clusterID in
// response to sqlState.
func (c *Client) FailoverConnection(ctx context.Context, clusterID, sqlState string) registry.Result {
	return registry.FailoverConnection(ctx, clusterID, sqlState)
}

// CheckLimitlessCluster reports whether connStr points at a
// Limitless-enabled sharded cluster.
func (c *Client) CheckLimitlessCluster(ctx context.Context, session dbsession.Session, connStr string) bool {
	return limitless.CheckCluster(ctx, session, connStr)
}

// GetLimitlessInstance returns a router endpoint for serviceID, starting
// (or joining) its background router monitor if needed.
func (c *Client) GetLimitlessInstance(serviceID, connStr string, hostPort int, sessionFactory dbsession.Factory) (hostinfo.Host, error) {
	return c.limitless.GetInstance(serviceID, connStr, hostPort, sessionFactory)
}

// StopLimitlessMonitorService releases this Client's reference to
// serviceID's router monitor.
func (c *Client) StopLimitlessMonitorService(serviceID string) {
	c.limitless.StopService(serviceID)
}
