// Package apierr is the closed error taxonomy from §7: a fixed set of kinds,
// each carrying enough context to log and to map deterministically to the
// JSON body and HTTP status a socket upgrade or admin request responds with.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindRequestValidation Kind = iota
	KindTopicNotFound
	KindInstanceTypeIncorrect
	KindAuthentication
	KindInvalidToken
	KindInvalidPublicKey
	KindAuthorisation
	KindInstanceLimitReached
	KindOpenIdConnectUnavailable
	KindKafkaBroker
	KindIncompleteOp
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRequestValidation:
		return "RequestValidationError"
	case KindTopicNotFound:
		return "TopicNotFoundError"
	case KindInstanceTypeIncorrect:
		return "InstanceTypeForSessionIncorrect"
	case KindAuthentication:
		return "AuthenticationError"
	case KindInvalidToken:
		return "InvalidTokenError"
	case KindInvalidPublicKey:
		return "InvalidPublicKeyError"
	case KindAuthorisation:
		return "AuthorisationError"
	case KindInstanceLimitReached:
		return "InstanceLimitReached"
	case KindOpenIdConnectUnavailable:
		return "OpenIdConnectError"
	case KindKafkaBroker:
		return "KafkaBrokerError"
	case KindIncompleteOp:
		return "IncompleteOp"
	case KindNotFound:
		return "NotFoundError"
	default:
		return "UnknownError"
	}
}

// Status maps a Kind to the HTTP status §7/§6 specify.
func (k Kind) Status() int {
	switch k {
	case KindRequestValidation, KindTopicNotFound:
		return http.StatusBadRequest
	case KindAuthentication, KindInvalidToken, KindInvalidPublicKey:
		return http.StatusUnauthorized
	case KindAuthorisation:
		return http.StatusForbidden
	case KindInstanceLimitReached:
		return http.StatusConflict
	case KindOpenIdConnectUnavailable:
		return http.StatusServiceUnavailable
	case KindKafkaBroker, KindInstanceTypeIncorrect, KindIncompleteOp:
		return http.StatusInternalServerError
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error value carried through the request path: a
// Kind, the URI it happened on (for logging), and the underlying cause.
type Error struct {
	Kind  Kind
	URI   string
	Cause error
}

func New(kind Kind, uri string, cause error) *Error {
	return &Error{Kind: kind, URI: uri, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URI)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URI, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Message is the text the §6 JSON body's "message" field carries. It never
// leaks the internal cause to the client.
func (e *Error) Message() string {
	switch e.Kind {
	case KindRequestValidation:
		return "invalid request"
	case KindTopicNotFound:
		return "topic not found"
	case KindInstanceTypeIncorrect:
		return "instance type does not match session kind"
	case KindAuthentication:
		return "authentication failed"
	case KindInvalidToken:
		return "invalid or expired token"
	case KindInvalidPublicKey:
		return "unable to validate token signature"
	case KindAuthorisation:
		return "not authorised"
	case KindInstanceLimitReached:
		return "session instance limit reached"
	case KindOpenIdConnectUnavailable:
		return "identity provider unavailable"
	case KindKafkaBroker:
		return "upstream Kafka error"
	case KindIncompleteOp:
		return "request timed out before completion"
	case KindNotFound:
		return "not found"
	default:
		return "internal error"
	}
}

// body is the wire shape for every error response: {"message": "<text>"}.
type body struct {
	Message string `json:"message"`
}

// WriteJSON writes err's mapped status and {"message": ...} body to w.
// If err is not an *Error, it is treated as an opaque internal error.
func WriteJSON(w http.ResponseWriter, err error) {
	e, ok := err.(*Error)
	if !ok {
		e = New(KindKafkaBroker, "", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Kind.Status())
	_ = json.NewEncoder(w).Encode(body{Message: e.Message()})
}
