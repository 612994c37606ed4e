package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

type principalKey struct{}

// WithPrincipal stores the authenticated caller in ctx.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(models.Principal)
	return p, ok
}

// Authenticator resolves bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, kinds ...models.ActorKind) (models.Principal, error)
}

type Middleware struct {
	authn  Authenticator
	logger *logger.Logger
}

func NewMiddleware(authn Authenticator, log *logger.Logger) *Middleware {
	return &Middleware{authn: authn, logger: log.WithComponent("auth_middleware")}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Require admits requests whose bearer token belongs to an active actor of
// one of kinds.
func (m *Middleware) Require(kinds ...models.ActorKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, r, m.logger, apperr.AuthFailed("Missing bearer token.").WithCode("missing_token"))
				return
			}
			p, err := m.authn.Authenticate(r.Context(), token, kinds...)
			if err != nil {
				m.logger.For(r.Context()).Info("Request not authenticated", "path", r.URL.Path, "error", err)
				writeError(w, r, m.logger, err)
				return
			}
			trace.SpanFromContext(r.Context()).SetAttributes(
				attribute.String("actor.kind", string(p.Kind)),
				attribute.String("actor.id", p.ID.String()),
			)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Timeout bounds the request context. Work still running when it fires is
// cancelled and its transaction rolled back.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recover turns a panic into a 500 with the standard envelope.
func Recover(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					log.For(r.Context()).Error("Handler panicked", "panic", fmt.Sprint(v), "stack", string(debug.Stack()))
					writeError(w, r, log, apperr.Internal(fmt.Errorf("panic: %v", v), r.URL.Path))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies mws so that the first one is outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
