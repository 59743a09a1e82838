package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/apierr"
	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/logging"
)

// jwk is the subset of a JSON Web Key this directive understands: RSA
// public keys identified by kid, which is all an OIDC provider's signing
// keys need to be for bearer-token verification.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

// OIDCAuthDirective validates a bearer JWT against a realm's JWKS endpoint.
// Calls to the identity provider are wrapped in a circuit breaker so a
// flapping provider degrades to fast 503s (§7) instead of stalling every
// socket upgrade behind a dead dependency, and are retried a bounded number
// of times with backoff before the breaker sees the call as a failure.
type OIDCAuthDirective struct {
	Realm    string
	JwksUrl  string
	Issuer   string
	Audience string
	Client   *http.Client

	mu     sync.RWMutex
	keys   map[string]*rsa.PublicKey
	cb     *gobreaker.CircuitBreaker[map[string]*rsa.PublicKey]
	cbOnce sync.Once
}

func (d *OIDCAuthDirective) breaker() *gobreaker.CircuitBreaker[map[string]*rsa.PublicKey] {
	d.cbOnce.Do(func() {
		d.cb = gobreaker.NewCircuitBreaker[map[string]*rsa.PublicKey](gobreaker.Settings{
			Name:        "oidc-jwks-" + d.Realm,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.L().Warnf("auth: circuit breaker %s %s -> %s", name, from, to)
			},
		})
	})
	return d.cb
}

func (d *OIDCAuthDirective) httpClient() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

// refreshKeys fetches and parses the JWKS document, retrying transient
// network failures with backoff, all inside the circuit breaker.
func (d *OIDCAuthDirective) refreshKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	return d.breaker().Execute(func() (map[string]*rsa.PublicKey, error) {
		var doc jwksDocument
		err := retry.New(
			retry.Attempts(3),
			retry.Context(ctx),
			retry.Delay(100*time.Millisecond),
		).Do(
			func() error {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.JwksUrl, nil)
				if err != nil {
					return err
				}
				resp, err := d.httpClient().Do(req)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("auth: jwks endpoint returned %d", resp.StatusCode)
				}
				return json.NewDecoder(resp.Body).Decode(&doc)
			},
		)
		if err != nil {
			return nil, err
		}
		keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
		for _, k := range doc.Keys {
			pub, err := rsaPublicKeyFromJWK(k)
			if err != nil {
				logging.L().Warnf("auth: skipping unparseable JWK kid=%s: %v", k.Kid, err)
				continue
			}
			keys[k.Kid] = pub
		}
		return keys, nil
	})
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}

func (d *OIDCAuthDirective) keyFor(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	d.mu.RLock()
	key, ok := d.keys[kid]
	d.mu.RUnlock()
	if ok {
		return key, nil
	}

	fresh, err := d.refreshKeys(ctx)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.keys = fresh
	d.mu.Unlock()

	key, ok = fresh[kid]
	if !ok {
		return nil, fmt.Errorf("auth: no JWKS key for kid %q", kid)
	}
	return key, nil
}

func (d *OIDCAuthDirective) Authenticate(r *http.Request) (Principal, error) {
	raw := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return Principal{}, apierr.New(apierr.KindAuthentication, r.URL.Path, nil)
	}
	tokenString := strings.TrimPrefix(raw, prefix)

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("auth: token missing kid header")
		}
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return d.keyFor(r.Context(), kid)
	}, jwt.WithIssuer(d.Issuer), jwt.WithAudience(d.Audience))

	if err != nil {
		if isProviderUnavailable(err) {
			return Principal{}, apierr.New(apierr.KindOpenIdConnectUnavailable, r.URL.Path, err)
		}
		return Principal{}, apierr.New(apierr.KindInvalidToken, r.URL.Path, err)
	}
	if !token.Valid {
		return Principal{}, apierr.New(apierr.KindInvalidToken, r.URL.Path, nil)
	}

	realm, _ := claims["realm"].(string)
	if d.Realm != "" && realm != d.Realm {
		return Principal{}, apierr.New(apierr.KindAuthorisation, r.URL.Path, fmt.Errorf("realm mismatch: want %q got %q", d.Realm, realm))
	}
	subject, _ := claims["sub"].(string)
	return Principal{Subject: subject, Realm: realm}, nil
}

func isProviderUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
