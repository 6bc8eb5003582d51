package schedule

import (
	"net/http"
	"net/url"

	"github.com/koding/websocketproxy"

	"github.com/EL-HOUSS-BRAHIM/watch-party-backend-sub002/party"
)

// LoadBalancedReverseProxy is a reverse proxy that serves as an entry
// point for multiple backend servers
type LoadBalancedReverseProxy struct {
	reg ReadOnlyStorage
}

// NewLoadBalancedReverseProxy creates a new reverse proxy routing on
// the given party registry
func NewLoadBalancedReverseProxy(partyReg ReadOnlyStorage) *LoadBalancedReverseProxy {
	return &LoadBalancedReverseProxy{reg: partyReg}
}

// ProxyBackend resolves the backend URL for a connection from the
// party id in its query string. Unknown parties yield nil and the
// proxy rejects the connection.
func (r *LoadBalancedReverseProxy) ProxyBackend() func(*http.Request) *url.URL {
	return func(req *http.Request) *url.URL {
		q := req.URL.Query()
		pid := q.Get("party")
		target := ""
		if pid != "" {
			target, _ = r.reg.Get(pid)
		}
		if target == "" {
			return nil
		}
		u := *BackendWSScheme
		u.Host = target
		u.Fragment = req.URL.Fragment
		u.Path = req.URL.Path
		u.RawQuery = req.URL.RawQuery
		return &u
	}
}

// GetProxy returns a websocket reverse proxy object with
// registry-backed backend selection
func (r *LoadBalancedReverseProxy) GetProxy() *websocketproxy.WebsocketProxy {
	return &websocketproxy.WebsocketProxy{
		Backend:  r.ProxyBackend(),
		Upgrader: party.GetWSUpgrader(),
	}
}
