// Command limitlessdemo periodically resolves a Limitless router instance
// for a sharded Aurora cluster and prints it, the way
// mongo/private/examples/cluster_monitoring subscribes to topology
// descriptions and logs each one as it arrives.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"time"

	"github.com/aws/aws-rds-go-driver/internal/dbsession"
	"github.com/aws/aws-rds-go-driver/rds"
)

// sqlSession adapts a database/sql.DB to dbsession.Session. database/sql
// is the pluggable boundary here: whatever driver is blank-imported by the
// caller's main (pgx, lib/pq, ...) is what actually speaks the wire
// protocol; this adapter never does so itself.
type sqlSession struct {
	driverName string
	db         *sql.DB
}

func (s *sqlSession) Connect(ctx context.Context, connStr string) error {
	db, err := sql.Open(s.driverName, connStr)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	s.db = db
	return nil
}

func (s *sqlSession) Query(ctx context.Context, query string) (dbsession.Rows, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *sqlSession) QueryRow(ctx context.Context, query string) dbsession.Row {
	return s.db.QueryRowContext(ctx, query)
}

func (s *sqlSession) Ping(ctx context.Context) error {
	if s.db == nil {
		return sql.ErrConnDone
	}
	return s.db.PingContext(ctx)
}

func (s *sqlSession) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func main() {
	connStr := flag.String("conn", "SERVER=mycluster.cluster-xyz.us-east-2.rds.amazonaws.com", "RDS HA connection string")
	driverName := flag.String("driver", "pgx", "database/sql driver name registered by a blank import in the caller's main")
	serviceID := flag.String("service-id", "demo", "limitless monitor service id")
	port := flag.Int("port", 5432, "router port")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	flag.Parse()

	client := rds.Connect()
	factory := func() dbsession.Session { return &sqlSession{driverName: *driverName} }

	for {
		host, err := client.GetLimitlessInstance(*serviceID, *connStr, *port, factory)
		if err != nil {
			log.Printf("no limitless instance available yet: %v", err)
		} else {
			log.Printf("%+v", host)
		}
		time.Sleep(*interval)
	}
}
