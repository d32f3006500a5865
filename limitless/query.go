// Package limitless implements the Limitless Router Monitor: a second,
// independent subsystem that tracks the live shard routers of a Limitless
// (sharded) cluster and round-robins client connections across them.
//
// Grounded on src/limitless/limitless_router_monitor.cc,
// limitless_query_helper.cc, and limitless_monitor_service.{h,cc}.
package limitless

import (
	"context"
	"math"
	"strconv"

	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
)

// RouterEndpointQuery is the fixed catalog-probe query used both to check
// whether a cluster is Limitless-enabled and to list its current routers.
const RouterEndpointQuery = "SELECT router_endpoint, load FROM aurora_limitless_router_endpoints()"

const (
	weightScaling = 10
	MinWeight     = 1
	MaxWeight     = 10
)

// QueryForRouters runs RouterEndpointQuery and builds a router list, one
// Host per row, weighted by load. A malformed or out-of-range weight falls
// back to MinWeight rather than failing the whole query; an error from the
// query itself yields an empty list (treated by the monitor as transient).
func QueryForRouters(ctx context.Context, session dbsession.Session, hostPort int) hostinfo.RouterList {
	rows, err := session.Query(ctx, RouterEndpointQuery)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var routers hostinfo.RouterList
	for rows.Next() {
		var endpoint, load string
		if err := rows.Scan(&endpoint, &load); err != nil {
			continue
		}
		routers = append(routers, createHost(endpoint, load, hostPort))
	}
	if rows.Err() != nil {
		return nil
	}
	return routers
}

func createHost(endpoint, load string, hostPort int) hostinfo.Host {
	weight := MinWeight
	if f, err := strconv.ParseFloat(load, 64); err == nil {
		w := int(math.Round(weightScaling - f*weightScaling))
		if w >= MinWeight && w <= MaxWeight {
			weight = w
		}
	}

	h := hostinfo.New(endpoint, hostPort, true)
	h.Weight = weight
	return h
}
