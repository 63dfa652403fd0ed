// Package authn verifies client bearer tokens against a JWKS endpoint.
package authn

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fieldsafe/safegate/internal/logx"
)

var (
	// ErrNoMatchingKey means the token names a key id the key set does
	// not contain, even after a refresh.
	ErrNoMatchingKey = errors.New("no matching key")
	// ErrMalformedToken means the token could not be parsed at all.
	ErrMalformedToken = errors.New("malformed token")
)

// Claims are the decoded token claims. Only informational fields such as
// email are read by callers; authorization decisions stop at signature
// and audience validation.
type Claims = jwt.MapClaims

const fetchTimeout = 15 * time.Second

// Verifier validates RS256 tokens using keys fetched from a JWKS URL.
// The key set is cached for at most maxStale; a token naming an unknown
// kid forces one refresh before the verification fails.
type Verifier struct {
	jwksURL  string
	audience string
	maxStale time.Duration
	client   *http.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewVerifier returns a Verifier for the given key-set endpoint and
// expected audience claim.
func NewVerifier(jwksURL, audience string, maxStale time.Duration) *Verifier {
	return &Verifier{
		jwksURL:  jwksURL,
		audience: audience,
		maxStale: maxStale,
		client:   &http.Client{Timeout: fetchTimeout},
	}
}

// Verify checks the token's signature, audience, and validity window and
// returns its claims.
func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.audience),
	)
	tok, err := parser.Parse(token, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token header has no kid", ErrMalformedToken)
		}
		return v.key(ctx, kid)
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformedToken)
	}
	return claims, nil
}

// key returns the public key for kid, refreshing the cached key set when
// it is stale or does not contain the kid.
func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fresh := time.Since(v.fetchedAt) < v.maxStale && v.keys != nil
	if fresh {
		if k, ok := v.keys[kid]; ok {
			return k, nil
		}
	}
	// Stale cache, or an unknown kid: re-fetch once. An unknown kid after
	// a fresh fetch is a hard failure.
	if err := v.fetchLocked(ctx); err != nil {
		return nil, err
	}
	if k, ok := v.keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrNoMatchingKey, kid)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Verifier) fetchLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}
	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	if len(doc.Keys) == 0 {
		return errors.New("jwks: no keys in response")
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			logx.Log.Warn().Err(err).Str("kid", k.Kid).Msg("skipping unparsable jwk")
			continue
		}
		keys[k.Kid] = pub
	}
	v.keys = keys
	v.fetchedAt = time.Now()
	return nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwk n: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwk e: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("jwk e: zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
