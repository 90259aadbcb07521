package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// APIKeyHeader carries a raw API key.
const APIKeyHeader = "api_key"

// authenticate resolves the caller from a bearer token or an API key.
// Requests without credentials continue anonymously; bad credentials are
// rejected here.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var (
			p   *auth.Principal
			err error
		)
		switch authz, key := r.Header.Get("Authorization"), r.Header.Get(APIKeyHeader); {
		case authz != "":
			scheme, token, _ := strings.Cut(authz, " ")
			token = strings.TrimSpace(token)
			if !strings.EqualFold(scheme, "Bearer") || token == "" || h.Tokens == nil {
				fail(w, r, auth.ErrUnauthorized)
				return
			}
			p, err = h.Tokens.Authenticate(ctx, token)
		case key != "":
			if h.Keys == nil {
				fail(w, r, auth.ErrUnauthorized)
				return
			}
			p, err = h.Keys.Authenticate(ctx, key)
		default:
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			fail(w, r, err)
			return
		}

		ctx = auth.WithPrincipal(ctx, p)
		ctx = zctx.With(ctx,
			zap.String("user_id", p.UserID),
			zap.String("auth_method", string(p.Method)),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser rejects anonymous requests with 401.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); !ok {
			fail(w, r, auth.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects anonymous requests with 401 and non-admins with 403.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.RequireAdmin(r.Context()); err != nil {
			fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// principal returns the caller. Only call it behind requireUser or
// requireAdmin.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func actor(r *http.Request) order.Actor {
	p := principal(r)
	return order.Actor{UserID: p.UserID, Admin: p.Admin}
}

// POST /api/auth/refresh
func (h *Handler) refreshToken(w http.ResponseWriter, r *http.Request) {
	f, err := h.readForm(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	refresh := f.String("refreshToken", true)
	if err := f.Err(); err != nil {
		fail(w, r, err)
		return
	}
	if h.Tokens == nil {
		fail(w, r, auth.ErrUnauthorized)
		return
	}

	pair, err := h.Tokens.Refresh(r.Context(), refresh)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTokens(e, pair) })
}

// POST /api/auth/logout
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if p.SessionID != "" {
		if err := h.Tokens.Revoke(r.Context(), p.SessionID); err != nil {
			fail(w, r, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
