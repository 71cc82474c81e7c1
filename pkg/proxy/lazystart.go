package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/metrics"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// Resolver maps a subdomain to an application
type Resolver interface {
	GetApplicationBySubdomain(ctx context.Context, sub string) (*types.Application, error)
}

// Starter brings an app's runtime container to ready. Implemented by the
// orchestrator; calls are idempotent and blocking.
type Starter interface {
	StartAppContainer(ctx context.Context, app *types.Application) (*types.RunningApp, error)
}

const upstreamTimeout = 60 * time.Second

// LazyStart is the catch-all handler the reverse proxy falls back to for
// hosts it does not know yet. It starts the app's runtime container, proxies
// the first request, and gets out of the way: once the container exists its
// labels register the route directly at the proxy layer, so steady-state
// traffic never comes back here.
type LazyStart struct {
	resolver Resolver
	starter  Starter
	domain   string
	client   *http.Client
	logger   zerolog.Logger
}

// NewLazyStart creates the catch-all handler for the given base domain
func NewLazyStart(resolver Resolver, starter Starter, domain string) *LazyStart {
	return &LazyStart{
		resolver: resolver,
		starter:  starter,
		domain:   strings.ToLower(domain),
		client:   &http.Client{Timeout: upstreamTimeout},
		logger:   log.WithComponent("lazystart"),
	}
}

func (l *LazyStart) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sub, ok := l.subdomain(r.Host)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	app, err := l.resolver.GetApplicationBySubdomain(r.Context(), sub)
	if err != nil {
		if err == store.ErrNotFound {
			http.Error(w, "unknown application", http.StatusNotFound)
		} else {
			l.logger.Error().Err(err).Str("subdomain", sub).Msg("failed to resolve application")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	metrics.ColdStartsTotal.Inc()
	l.logger.Info().Str("app_id", app.AppID).Str("path", r.URL.Path).Msg("cold start triggered by request")

	if _, err := l.starter.StartAppContainer(r.Context(), app); err != nil {
		l.logger.Error().Err(err).Str("app_id", app.AppID).Msg("lazy start failed")
		http.Error(w, "application failed to start", http.StatusBadGateway)
		return
	}

	l.forward(w, r, app)
}

// subdomain extracts the app subdomain from the Host header. The base
// domain itself, foreign hosts, nested subdomains and web buckets are
// rejected; those are not lazy-startable.
func (l *LazyStart) subdomain(host string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	if host == l.domain {
		return "", false
	}
	sub, found := strings.CutSuffix(host, "."+l.domain)
	if !found || sub == "" || strings.Contains(sub, ".") || strings.HasPrefix(sub, "web-") {
		return "", false
	}
	return sub, true
}

// forward replays the original request against the now-ready runtime
func (l *LazyStart) forward(w http.ResponseWriter, r *http.Request, app *types.Application) {
	target := fmt.Sprintf("http://%s:%d%s", types.RuntimeContainerName(app.AppID), types.RuntimePort, r.URL.RequestURI())
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	req.Header = r.Header.Clone()
	req.Header.Set("X-Forwarded-Host", r.Host)

	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Error().Err(err).Str("app_id", app.AppID).Msg("failed to proxy request to runtime")
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		l.logger.Warn().Err(err).Str("app_id", app.AppID).Msg("failed to stream upstream response")
	}
}
