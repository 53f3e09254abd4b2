package proxy

import (
	"net"
	"net/http"
	"strings"

	"github.com/coxyhq/coxy/internal/version"
)

// hop-by-hop headers per RFC 7230 section 6.1; these describe a single
// connection and must not be forwarded in either direction
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

var (
	proxiedByHeader = version.Name + "/" + version.Version
	viaHeader       = "1.1 " + version.ShortName + "/" + version.Version
)

func isHopByHop(name string) bool {
	_, ok := hopByHopHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// copyRequestHeaders forwards the client's headers onto the outbound
// request, dropping hop-by-hop headers and anything named by the client's
// own Connection header.
func copyRequestHeaders(proxyReq, originalReq *http.Request) {
	connectionTokens := connectionHeaderTokens(originalReq.Header)

	for name, values := range originalReq.Header {
		if isHopByHop(name) {
			continue
		}
		if _, drop := connectionTokens[http.CanonicalHeaderKey(name)]; drop {
			continue
		}

		if len(values) == 1 {
			// fast path for single values (the common case)
			proxyReq.Header.Set(name, values[0])
		} else {
			headerValues := make([]string, len(values))
			copy(headerValues, values)
			proxyReq.Header[name] = headerValues
		}
	}

	addProxyHeaders(proxyReq, originalReq)
}

// copyResponseHeaders copies the upstream's response headers verbatim onto
// the client response, minus hop-by-hop headers. Transfer-Encoding is left
// to the server to negotiate with the client.
func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	connectionTokens := connectionHeaderTokens(resp.Header)

	for name, values := range resp.Header {
		if isHopByHop(name) {
			continue
		}
		if _, drop := connectionTokens[http.CanonicalHeaderKey(name)]; drop {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
}

func connectionHeaderTokens(h http.Header) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				tokens[http.CanonicalHeaderKey(token)] = struct{}{}
			}
		}
	}
	return tokens
}

func addProxyHeaders(proxyReq, originalReq *http.Request) {
	protocol := "http"
	if originalReq.TLS != nil {
		protocol = "https"
	}

	proxyReq.Header.Set("X-Forwarded-Host", originalReq.Host)
	proxyReq.Header.Set("X-Forwarded-Proto", protocol)

	if ip, _, err := net.SplitHostPort(originalReq.RemoteAddr); err == nil {
		proxyReq.Header.Set("X-Forwarded-For", ip)
	}

	proxyReq.Header.Set("X-Proxied-By", proxiedByHeader)
	proxyReq.Header.Set("Via", viaHeader)
}
