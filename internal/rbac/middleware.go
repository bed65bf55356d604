package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-authz/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger
}

// Require guards a route with resource:action.
func (m Middleware) Require(resource, action string) func(http.Handler) http.Handler {
	return m.RequireInstance(resource, action, "")
}

// RequireInstance guards a route with resource:action on the record named by
// the chi URL parameter param. An empty param checks the resource as a whole.
func (m Middleware) RequireInstance(resource, action, param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var instanceID string
			if param != "" {
				instanceID = chi.URLParam(r, param)
			}
			decision, err := m.Engine.Check(r.Context(), currentActor(r), resource, action, instanceID)
			if err != nil {
				m.fail(w, "rbac require", err)
				return
			}
			if err := decision.Err(); err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures the current user holds at least one of the given keys.
func (m Middleware) RequireAny(keys ...string) func(http.Handler) http.Handler {
	return m.requireKeys(normalizePermissions(keys), false)
}

// RequireAll ensures the current user holds every given key.
func (m Middleware) RequireAll(keys ...string) func(http.Handler) http.Handler {
	return m.requireKeys(normalizePermissions(keys), true)
}

func (m Middleware) requireKeys(keys []string, all bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor := currentActor(r)
			var denied error
			granted := 0
			for _, key := range keys {
				resource, action, _ := strings.Cut(key, ":")
				decision, err := m.Engine.Check(r.Context(), actor, resource, action, "")
				if err != nil {
					m.fail(w, "rbac require keys", err)
					return
				}
				if decision.Allowed {
					granted++
					if !all {
						break
					}
					continue
				}
				denied = decision.Err()
				if all || decision.Reason == ReasonUnauthenticated {
					break
				}
			}
			if (all && granted == len(keys)) || (!all && granted > 0) {
				next.ServeHTTP(w, r)
				return
			}
			httpx.RespondError(w, denied)
		})
	}
}

func (m Middleware) fail(w http.ResponseWriter, msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func currentActor(r *http.Request) Principal {
	id, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return nil
	}
	return &Actor{ID: id}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" || !strings.Contains(p, ":") {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
