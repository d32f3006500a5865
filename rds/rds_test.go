package rds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-rds-go-driver/auth"
	"github.com/aws/aws-rds-go-driver/dialect"
	"github.com/aws/aws-rds-go-driver/internal/dbsession"
)

type fakeCredentialSource struct{}

func (fakeCredentialSource) FetchToken(ctx context.Context, host, region string, port int, user string, authType auth.FederatedAuthType) (string, time.Duration, error) {
	return "fake-token", time.Minute, nil
}

type fakeSession struct{}

func (s *fakeSession) Connect(ctx context.Context, connStr string) error { return errors.New("unreachable in test") }
func (s *fakeSession) Query(ctx context.Context, query string) (dbsession.Rows, error) {
	return nil, errors.New("unreachable in test")
}
func (s *fakeSession) QueryRow(ctx context.Context, query string) dbsession.Row { return nil }
func (s *fakeSession) Ping(ctx context.Context) error                          { return errors.New("unreachable in test") }
func (s *fakeSession) Close() error                                           { return nil }

func factory() dbsession.Factory {
	return func() dbsession.Session { return &fakeSession{} }
}

func TestGetFedAuthTypeEnum(t *testing.T) {
	c := Connect()
	if c.GetFedAuthTypeEnum("iam") != auth.AuthIAM {
		t.Fatal("expected IAM")
	}
}

func TestGenerateConnectAuthTokenUsesInjectedCredentialSource(t *testing.T) {
	c := Connect(WithCredentialSource(fakeCredentialSource{}))

	tok, err := c.GenerateConnectAuthToken(context.Background(), "host", "us-east-2", 5432, "alice", auth.AuthIAM)
	if err != nil {
		t.Fatal(err)
	}
	if tok != "fake-token" {
		t.Fatalf("expected fake-token, got %q", tok)
	}

	cached, ok := c.GetCachedToken("host", "us-east-2", 5432, "alice")
	if !ok || cached != "fake-token" {
		t.Fatalf("expected cache hit with fake-token, got %q (ok=%v)", cached, ok)
	}
}

func TestUpdateCachedTokenRoundTrip(t *testing.T) {
	c := Connect()
	c.UpdateCachedToken("host", "us-east-2", 5432, "alice", "explicit", time.Minute)

	tok, ok := c.GetCachedToken("host", "us-east-2", 5432, "alice")
	if !ok || tok != "explicit" {
		t.Fatalf("expected explicit, got %q (ok=%v)", tok, ok)
	}
}

func TestStartAndStopFailoverServiceRoundTrip(t *testing.T) {
	c := Connect()
	clusterID, ok := c.StartFailoverService("", dialect.AuroraPostgresKind,
		"SERVER=db.cluster-xyz.us-east-2.rds.amazonaws.com", factory())
	if !ok {
		t.Fatal("expected StartFailoverService to succeed")
	}
	if clusterID != "db" {
		t.Fatalf("expected cluster id derived from host DNS, got %q", clusterID)
	}
	c.StopFailoverService(clusterID)
}

func TestFailoverConnectionUnknownClusterFails(t *testing.T) {
	c := Connect()
	result := c.FailoverConnection(context.Background(), "no-such-cluster", "08001")
	if result.Session != nil {
		t.Fatal("expected nil session for unknown cluster")
	}
}

func TestCheckLimitlessClusterFalseOnConnectError(t *testing.T) {
	c := Connect()
	if c.CheckLimitlessCluster(context.Background(), &fakeSession{}, "SERVER=db") {
		t.Fatal("expected false when the session cannot connect")
	}
}
