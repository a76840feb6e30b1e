package app

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/inventory-ledger/internal/observability"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/inventory-ledger/internal/shared"
)

// Headers set by the trusted API gateway after authentication.
const (
	HeaderTenantID         = "X-Tenant-ID"
	HeaderActorID          = "X-Actor-ID"
	HeaderActorType        = "X-Actor-Type"
	HeaderActorPermissions = "X-Actor-Permissions"
)

const defaultRequestsPerMinute = 600

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the ledger middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		httprate.Limit(defaultRequestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// GatewayScope attaches the tenant and actor forwarded by the gateway. Requests without a
// tenant header pass through unscoped and are rejected by handlers that need one.
func GatewayScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := strings.TrimSpace(r.Header.Get(HeaderTenantID)); raw != "" {
			tenantID, err := uuid.Parse(raw)
			if err != nil {
				httpx.RespondError(w, shared.ErrValidation.With("header", HeaderTenantID).Wrap(err))
				return
			}
			ctx = shared.ContextWithTenant(ctx, tenantID)
		}
		if id := strings.TrimSpace(r.Header.Get(HeaderActorID)); id != "" {
			actor := shared.Actor{Type: shared.ActorUser, ID: id, Permissions: splitPermissions(r.Header.Get(HeaderActorPermissions))}
			switch shared.ActorType(r.Header.Get(HeaderActorType)) {
			case shared.ActorSystem:
				actor.Type = shared.ActorSystem
			case shared.ActorJob:
				actor.Type = shared.ActorJob
			}
			ctx = shared.ContextWithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// splitPermissions keeps only inventory scopes; other gateway scopes mean nothing here.
func splitPermissions(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" && slices.Contains(shared.InventoryScopes(), p) {
			out = append(out, p)
		}
	}
	return out
}
