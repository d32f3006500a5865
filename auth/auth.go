// Package auth implements the federated-auth token cache: given a
// host/region/port/user identity, it caches short-lived connect tokens and
// coalesces concurrent fetches for the same identity behind a single
// underlying credential retrieval, the way
// x/mongo/driver/auth/internal/aws/credentials.Credentials caches AWS
// credentials.
package auth

import (
	"context"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xdg-go/stringprep"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"github.com/aws/aws-rds-go-driver/internal/cache"
	"github.com/aws/aws-rds-go-driver/internal/logger"
)

// FederatedAuthType is the external federated identity provider used to
// obtain a connect token.
type FederatedAuthType int

const (
	AuthInvalid FederatedAuthType = iota
	AuthADFS
	AuthIAM
	AuthOkta
)

var authTypeNames = map[string]FederatedAuthType{
	"ADFS": AuthADFS,
	"IAM":  AuthIAM,
	"OKTA": AuthOkta,
}

// ParseFederatedAuthType maps a case-insensitive name to its
// FederatedAuthType, returning AuthInvalid for anything unrecognized.
func ParseFederatedAuthType(name string) FederatedAuthType {
	if t, ok := authTypeNames[strings.ToUpper(name)]; ok {
		return t
	}
	return AuthInvalid
}

// CredentialSource is the opaque collaborator that performs the actual
// token fetch for one federated identity. Implementations talk to the
// real ADFS/IAM/Okta endpoints; this package only owns caching.
type CredentialSource interface {
	FetchToken(ctx context.Context, host, region string, port int, user string, authType FederatedAuthType) (token string, ttl time.Duration, err error)
}

// TokenCache caches federated auth tokens keyed by host-region-port-user,
// sliding their TTL on every read and coalescing concurrent misses for the
// same key behind one CredentialSource.FetchToken call.
type TokenCache struct {
	cache  *cache.Cache
	source CredentialSource
	sf     singleflight.Group
	log    *logger.Logger
}

// NewTokenCache constructs a TokenCache backed by source.
func NewTokenCache(source CredentialSource, log *logger.Logger) *TokenCache {
	return &TokenCache{cache: cache.New(), source: source, log: log}
}

// cacheKey builds the "host-region-port-user" identity, SASLprep-
// normalizing user so two logins that differ only in Unicode
// normalization form (e.g. combining vs. precomposed accents) share one
// cache entry instead of silently duplicating the fetch.
func cacheKey(host, region string, port int, user string) string {
	normalizedUser := saslprepOrOriginal(user)
	return host + "-" + region + "-" + strconv.Itoa(port) + "-" + normalizedUser
}

// GetCachedToken returns a cached token for the identity if present and
// unexpired, sliding its TTL forward on the hit.
func (c *TokenCache) GetCachedToken(host, region string, port int, user string) (string, bool) {
	v, ok := c.cache.Get(cacheKey(host, region, port, user))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// UpdateCachedToken stores token for the identity with the given TTL
// (seconds since epoch in the original; expressed here as a duration).
func (c *TokenCache) UpdateCachedToken(host, region string, port int, user, token string, ttl time.Duration) {
	c.cache.PutWithTTL(cacheKey(host, region, port, user), token, ttl)
	if c.log != nil {
		c.log.Print(logger.LevelDebug, logger.ComponentAuth, "token cached", "fingerprint", fingerprint(token))
	}
}

// GenerateConnectAuthToken returns a token for the identity, fetching a
// fresh one via the CredentialSource on a cache miss. Concurrent callers
// for the same identity share one fetch.
func (c *TokenCache) GenerateConnectAuthToken(ctx context.Context, host, region string, port int, user string, authType FederatedAuthType) (string, error) {
	if token, ok := c.GetCachedToken(host, region, port, user); ok {
		return token, nil
	}

	key := cacheKey(host, region, port, user)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if token, ok := c.GetCachedToken(host, region, port, user); ok {
			return token, nil
		}
		token, ttl, err := c.source.FetchToken(ctx, host, region, port, user, authType)
		if err != nil {
			return "", err
		}
		if authType == AuthIAM {
			if err := validateClientCertKey(token); err != nil {
				return "", fmt.Errorf("auth: rejecting fetched credential: %w", err)
			}
		}
		c.UpdateCachedToken(host, region, port, user, token, ttl)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fingerprint blake2b-hashes a secret so debug logs can reference "which
// token" without ever printing the token itself.
func fingerprint(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

// validateClientCertKey rejects a fetched IAM credential before it's
// cached if it's an mTLS client-certificate private key and that key
// fails to parse. Plain IAM auth tokens (the common case) aren't
// PEM-encoded and pass through untouched; this only guards the
// PKCS8-client-cert flavor some IAM deployments use, so a malformed key
// fails the fetch instead of being cached as opaque, unusable bytes.
func validateClientCertKey(token string) error {
	block, _ := pem.Decode([]byte(token))
	if block == nil {
		return nil
	}
	_, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes)
	return err
}

// saslprepOrOriginal SASLprep-normalizes user for cache-key purposes,
// falling back to the raw string on any character SASLprep rejects (e.g.
// a machine-generated service principal name containing control
// characters) so cacheKey itself never fails.
func saslprepOrOriginal(user string) string {
	normalized, err := stringprep.SASLprep.Prepare(user)
	if err != nil {
		return user
	}
	return normalized
}
