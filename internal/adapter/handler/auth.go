package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Authorizer decides whether a request may use the admin endpoints.
type Authorizer interface {
	IsAdmin(r *http.Request) bool
}

// ContextAuthorizer decides whether a gRPC call may use operator methods.
type ContextAuthorizer interface {
	IsAdminContext(ctx context.Context) bool
}

// TokenAuthorizer accepts requests carrying "Authorization: Bearer <token>",
// either as an HTTP header or as incoming gRPC metadata.
// A zero-value or empty-token authorizer admits nobody.
type TokenAuthorizer struct {
	token []byte
}

func NewTokenAuthorizer(token string) TokenAuthorizer {
	return TokenAuthorizer{token: []byte(token)}
}

func (a TokenAuthorizer) IsAdmin(r *http.Request) bool {
	return a.accepts(r.Header.Get("Authorization"))
}

func (a TokenAuthorizer) IsAdminContext(ctx context.Context) bool {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	for _, v := range md.Get("authorization") {
		if a.accepts(v) {
			return true
		}
	}
	return false
}

func (a TokenAuthorizer) accepts(header string) bool {
	if len(a.token) == 0 {
		return false
	}
	scheme, presented, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), a.token) == 1
}
