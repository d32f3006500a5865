package registry

import (
	"context"

	"github.com/aws/aws-rds-go-driver/dialect"
	"github.com/aws/aws-rds-go-driver/failover"
	"github.com/aws/aws-rds-go-driver/internal/cache"
	"github.com/aws/aws-rds-go-driver/internal/config"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/internal/endpoint"
	"github.com/aws/aws-rds-go-driver/internal/logger"
	"github.com/aws/aws-rds-go-driver/monitor"
	"github.com/aws/aws-rds-go-driver/topoquery"
)

// defaultRegistry and defaultCache are the process-wide shared state: one
// topology cache and one Registry for every cluster id a process talks to,
// mirroring the original's global_failover_services/global_topology_map
// package-level singletons.
var (
	defaultRegistry = New(nil)
	defaultCache    = cache.New()
)

// Result is the outcome of FailoverConnection.
type Result struct {
	Status  failover.Status
	Session dbsession.Session
}

// StartFailoverService derives any missing endpoint template / cluster id
// from the host's DNS shape, then either increments an existing tracker's
// reference count or constructs a brand-new monitor + failover service
// under a fresh tracker (put-if-absent against a concurrent constructor).
// Returns the resolved cluster id (useful when clusterID was blank) and
// whether a service is now active for it.
func StartFailoverService(clusterID string, kind dialect.Kind, connStr string, sessionFactory dbsession.Factory, log *logger.Logger) (string, bool) {
	var opts []config.Option
	if clusterID != "" {
		opts = append(opts, config.WithClusterID(clusterID))
	}
	cfg := config.Parse(connStr, opts...)
	if cfg.ClusterID == "" {
		return cfg.ClusterID, false
	}

	d := dialect.For(kind)

	values := endpoint.Parse(connStr)
	values[endpoint.KeyClusterID] = cfg.ClusterID
	values[endpoint.KeyEnableClusterFailover] = "0"
	monitorConnStr := endpoint.Build(values)

	helper := topoquery.New(d, cfg.HostPattern, d.DefaultPort())

	t := defaultRegistry.GetOrCreate(cfg.ClusterID, func() *failover.Service {
		mon, err := monitor.New(monitor.Config{
			ClusterID:          cfg.ClusterID,
			Cache:              defaultCache,
			ConnStrTemplate:    monitorConnStr,
			SessionFactory:     sessionFactory,
			Helper:             helper,
			IgnoreTopologyTime: cfg.IgnoreTopologyRequest,
			HighRefreshRate:    cfg.HighRefreshRate,
			RefreshRate:        cfg.RefreshRate,
			Logger:             log,
		})
		if err != nil {
			return nil
		}

		svc := failover.New(failover.Config{
			Host:            cfg.Server,
			ClusterID:       cfg.ClusterID,
			ConnInfo:        values,
			DefaultPort:     d.DefaultPort(),
			Cache:           defaultCache,
			Monitor:         mon,
			SessionFactory:  sessionFactory,
			IsReaderQuery:   d.IsReaderQuery(),
			Logger:          log,
			FailoverTimeout: cfg.FailoverTimeout,
		})
		return svc
	})

	return cfg.ClusterID, t.Service != nil
}

// StopFailoverService decrements the reference count for clusterID,
// tearing down the tracker's service once the count reaches zero and no
// failover is in flight (see Tracker's doc comment: this is eventual, not
// synchronous).
func StopFailoverService(clusterID string) {
	defaultRegistry.Release(clusterID)
}

// FailoverConnection looks up the tracker for clusterID and, if an active
// service exists, runs a failover attempt. FailoverInProgress is held for
// the duration so a concurrent StopFailoverService doesn't tear down the
// service out from under an in-flight attempt.
func FailoverConnection(ctx context.Context, clusterID, sqlState string) Result {
	t, ok := defaultRegistry.Get(clusterID)
	if !ok || t.Service == nil {
		return Result{Status: failover.StatusFailed}
	}

	t.FailoverInProgress.Add(1)
	defer t.FailoverInProgress.Add(-1)

	status, session, _ := t.Service.Failover(ctx, sqlState)
	return Result{Status: status, Session: session}
}

