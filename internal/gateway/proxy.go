package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/cornerstone/cornerstone-backend/pkg/config"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	pkghttp "github.com/cornerstone/cornerstone-backend/pkg/httputil"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// Proxy handles reverse proxying to backend services. Authentication and
// permission checks stay with the services; the gateway only forwards the
// Authorization header and session cookie untouched.
type Proxy struct {
	log            *logger.Logger
	authProxy      *httputil.ReverseProxy
	inventoryProxy *httputil.ReverseProxy
}

// NewProxy creates a new proxy instance
func NewProxy(cfg *config.ServicesConfig, log *logger.Logger) (*Proxy, error) {
	p := &Proxy{log: log.WithComponent("proxy")}

	var err error
	if p.authProxy, err = p.createProxy("auth-service", cfg.AuthServiceURL); err != nil {
		return nil, err
	}
	if p.inventoryProxy, err = p.createProxy("inventory-service", cfg.InventoryServiceURL); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Proxy) createProxy(service, targetURL string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(targetURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid %s url %q", service, targetURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = target.Host
		if id := pkghttp.GetRequestID(req.Context()); id != "" {
			req.Header.Set("X-Request-ID", id)
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.log.Error().Err(err).Str("upstream", service).Str("path", r.URL.Path).Msg("proxy error")
		pkghttp.Error(w, errors.Unavailable(service))
	}

	return proxy, nil
}

// ForwardToAuth forwards requests to the auth service
func (p *Proxy) ForwardToAuth(w http.ResponseWriter, r *http.Request) {
	p.authProxy.ServeHTTP(w, r)
}

// ForwardToInventory forwards requests to the inventory service
func (p *Proxy) ForwardToInventory(w http.ResponseWriter, r *http.Request) {
	p.inventoryProxy.ServeHTTP(w, r)
}

// Routes mounts the public API under /api/v1
func (p *Proxy) Routes(r chi.Router) {
	r.HandleFunc("/auth", p.ForwardToAuth)
	r.HandleFunc("/auth/*", p.ForwardToAuth)
	r.HandleFunc("/inventory", p.ForwardToInventory)
	r.HandleFunc("/inventory/*", p.ForwardToInventory)
}
