// Package auth implements §4.L's auth directives: the pluggable
// authentication step the socket lifecycle glue runs before it will let a
// WebSocket upgrade touch session state.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/grzpiotrowski/kafka-websocket-proxy/internal/apierr"
)

// Principal is the authenticated identity a directive hands back on
// success. Realm is checked against the session's required realm, if any.
type Principal struct {
	Subject string
	Realm   string
}

// Directive authenticates one HTTP request (the WebSocket upgrade request).
type Directive interface {
	Authenticate(r *http.Request) (Principal, error)
}

// Disabled always succeeds with an anonymous principal. Used when no auth is
// configured.
type Disabled struct{}

func (Disabled) Authenticate(r *http.Request) (Principal, error) {
	return Principal{Subject: "anonymous"}, nil
}

// BasicAuthDirective checks HTTP Basic credentials against one configured
// username/password pair using a constant-time comparison, so a timing
// side-channel can't be used to guess the password byte by byte. This is
// the one directive with no ecosystem library to reach for — HTTP Basic
// auth is two stdlib calls plus subtle.ConstantTimeCompare, and adding a
// dependency for it would be the needless indirection the corpus avoids.
type BasicAuthDirective struct {
	Realm    string
	Username string
	Password string
}

func (d BasicAuthDirective) Authenticate(r *http.Request) (Principal, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return Principal{}, apierr.New(apierr.KindAuthentication, r.URL.Path, nil)
	}
	userOk := subtle.ConstantTimeCompare([]byte(user), []byte(d.Username)) == 1
	passOk := subtle.ConstantTimeCompare([]byte(pass), []byte(d.Password)) == 1
	if !userOk || !passOk {
		return Principal{}, apierr.New(apierr.KindAuthentication, r.URL.Path, nil)
	}
	return Principal{Subject: user, Realm: d.Realm}, nil
}
