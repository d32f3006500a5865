// Package dialect supplies the four query strings and default port that
// parameterize topoquery for a particular database engine. A Dialect is a
// static provider: it holds no connection state of its own.
package dialect

// Dialect is the contract topoquery and failover depend on.
type Dialect interface {
	DefaultPort() int
	TopologyQuery() string
	WriterIDQuery() string
	NodeIDQuery() string
	IsReaderQuery() string
}

// Kind selects a concrete Dialect, mirroring the enum style of
// auth.FederatedAuthType.
type Kind int

const (
	Unknown Kind = iota
	AuroraPostgresKind
	AuroraMySQLKind
)

// For returns the concrete Dialect for kind, or nil if kind is unrecognized.
func For(kind Kind) Dialect {
	switch kind {
	case AuroraPostgresKind:
		return AuroraPostgres
	case AuroraMySQLKind:
		return AuroraMySQL
	default:
		return nil
	}
}

type staticDialect struct {
	defaultPort   int
	topologyQuery string
	writerIDQuery string
	nodeIDQuery   string
	isReaderQuery string
}

func (d staticDialect) DefaultPort() int       { return d.defaultPort }
func (d staticDialect) TopologyQuery() string  { return d.topologyQuery }
func (d staticDialect) WriterIDQuery() string  { return d.writerIDQuery }
func (d staticDialect) NodeIDQuery() string    { return d.nodeIDQuery }
func (d staticDialect) IsReaderQuery() string  { return d.isReaderQuery }

// AuroraPostgres is the Dialect for Aurora PostgreSQL clusters.
var AuroraPostgres Dialect = staticDialect{
	defaultPort: 5432,
	topologyQuery: `SELECT SERVER_ID, CASE WHEN SESSION_ID = 'MASTER_SESSION_ID' THEN TRUE ELSE FALSE END,
			CPU, COALESCE(REPLICA_LAG_IN_MSEC, 0), LAST_UPDATE_TIMESTAMP
			FROM aurora_replica_status()
			WHERE EXTRACT(EPOCH FROM(NOW() - LAST_UPDATE_TIMESTAMP)) <= 300 OR SESSION_ID = 'MASTER_SESSION_ID'
			OR LAST_UPDATE_TIMESTAMP IS NULL`,
	writerIDQuery: `SELECT SERVER_ID FROM aurora_replica_status()
		WHERE SESSION_ID = 'MASTER_SESSION_ID'
		AND SERVER_ID = aurora_db_instance_identifier()`,
	nodeIDQuery:   `SELECT aurora_db_instance_identifier()`,
	isReaderQuery: `SELECT pg_is_in_recovery()`,
}

// AuroraMySQL is the Dialect for Aurora MySQL clusters. The query shapes
// mirror AuroraPostgres's (replica-status view + instance-identifier
// function), translated to the MySQL equivalents of the same introspection
// functions.
var AuroraMySQL Dialect = staticDialect{
	defaultPort: 3306,
	topologyQuery: `SELECT SERVER_ID, SESSION_ID = 'MASTER_SESSION_ID' AS IS_WRITER,
			CPU, COALESCE(REPLICA_LAG_IN_MILLISECONDS, 0), LAST_UPDATE_TIMESTAMP
			FROM information_schema.replica_host_status
			WHERE LAST_UPDATE_TIMESTAMP >= NOW() - INTERVAL 300 SECOND
			OR SESSION_ID = 'MASTER_SESSION_ID'
			OR LAST_UPDATE_TIMESTAMP IS NULL`,
	writerIDQuery: `SELECT SERVER_ID FROM information_schema.replica_host_status
		WHERE SESSION_ID = 'MASTER_SESSION_ID'
		AND SERVER_ID = @@aurora_server_id`,
	nodeIDQuery:   `SELECT @@aurora_server_id`,
	isReaderQuery: `SELECT @@innodb_read_only`,
}
