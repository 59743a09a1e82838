package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBasicAuthDirective_AcceptsMatchingCredentials(t *testing.T) {
	d := BasicAuthDirective{Realm: "r1", Username: "alice", Password: "secret"}
	r := httptest.NewRequest(http.MethodGet, "/socket/out", nil)
	r.SetBasicAuth("alice", "secret")

	p, err := d.Authenticate(r)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if p.Subject != "alice" || p.Realm != "r1" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestBasicAuthDirective_RejectsWrongPassword(t *testing.T) {
	d := BasicAuthDirective{Username: "alice", Password: "secret"}
	r := httptest.NewRequest(http.MethodGet, "/socket/out", nil)
	r.SetBasicAuth("alice", "wrong")

	if _, err := d.Authenticate(r); err == nil {
		t.Fatalf("expected authentication error")
	}
}

func TestBasicAuthDirective_RejectsMissingHeader(t *testing.T) {
	d := BasicAuthDirective{Username: "alice", Password: "secret"}
	r := httptest.NewRequest(http.MethodGet, "/socket/out", nil)

	if _, err := d.Authenticate(r); err == nil {
		t.Fatalf("expected authentication error for missing credentials")
	}
}

func TestDisabled_AlwaysSucceeds(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/socket/out", nil)
	p, err := Disabled{}.Authenticate(r)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if p.Subject == "" {
		t.Fatalf("expected a non-empty anonymous subject")
	}
}
