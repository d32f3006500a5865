// Package topoquery executes a dialect's queries against a DbSession and
// materializes the results into hostinfo.Host values.
package topoquery

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-rds-go-driver/dialect"
	"github.com/aws/aws-rds-go-driver/hostinfo"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
)

// Helper binds a Dialect to an endpoint template (containing exactly one
// "?" placeholder) and a default port.
type Helper struct {
	Dialect          dialect.Dialect
	EndpointTemplate string
	Port             int
}

// New constructs a Helper. If port is 0, the dialect's default port is used.
func New(d dialect.Dialect, endpointTemplate string, port int) Helper {
	if port == 0 {
		port = d.DefaultPort()
	}
	return Helper{Dialect: d, EndpointTemplate: endpointTemplate, Port: port}
}

// GetWriterID executes the writer-id query and returns the column value, or
// "" on any failure (including an empty result). A non-empty return means
// session is attached to the current writer at query time.
func (h Helper) GetWriterID(ctx context.Context, session dbsession.Session) string {
	row := session.QueryRow(ctx, h.Dialect.WriterIDQuery())

	var id string
	if err := row.Scan(&id); err != nil {
		return ""
	}
	return id
}

// QueryTopology executes the topology query and returns one Host per row.
// Returns an empty Topology on any failure.
func (h Helper) QueryTopology(ctx context.Context, session dbsession.Session) hostinfo.Topology {
	rows, err := session.Query(ctx, h.Dialect.TopologyQuery())
	if err != nil {
		return nil
	}
	defer rows.Close()

	var topology hostinfo.Topology
	for rows.Next() {
		var (
			nodeID        string
			isWriterRaw   int
			cpuUsage      float64
			replicaLagMs  float64
			lastUpdate    time.Time
		)
		if err := rows.Scan(&nodeID, &isWriterRaw, &cpuUsage, &replicaLagMs, &lastUpdate); err != nil {
			return nil
		}

		weight := int(math.Round(replicaLagMs))*100 + int(math.Round(cpuUsage))

		topology = append(topology, hostinfo.Host{
			Endpoint:          h.endpointFor(nodeID),
			Port:              h.Port,
			State:             hostinfo.Up,
			IsWriter:          isWriterRaw != 0,
			Weight:            weight,
			LastUpdateTime:    lastUpdate,
			HasLastUpdateTime: true,
		})
	}
	if rows.Err() != nil {
		return nil
	}

	return topology
}

func (h Helper) endpointFor(nodeID string) string {
	return strings.Replace(h.EndpointTemplate, "?", nodeID, 1)
}

// IsReader runs the dialect's is-reader query on session and reports the
// role it observes. On any failure it reports false (treated as "unknown,
// assume writer" by callers that branch on the error separately).
func (h Helper) IsReader(ctx context.Context, session dbsession.Session) (isReader bool, err error) {
	row := session.QueryRow(ctx, h.Dialect.IsReaderQuery())
	err = row.Scan(&isReader)
	return isReader, err
}
