package util

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
)

// GenerateRequestID produces a short human-readable request identifier.
// Rowing-flavoured because coxy only ever puts one rower in each boat.
func GenerateRequestID() string {
	strokes := []string{
		"sculling", "feathering", "catching", "driving", "gliding",
		"steering", "drifting", "surging", "coasting", "crabbing",
	}
	shells := []string{
		"skiff", "wherry", "launch", "gig", "dinghy",
		"single", "shell", "cutter", "dory", "punt",
	}

	shell := shells[rand.Intn(len(shells))]
	stroke := strokes[rand.Intn(len(strokes))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", shell, stroke, suffix)
}

// GetClientIP extracts the caller's IP from the request, preferring the
// socket address. Proxy headers are not trusted here; coxy is expected to be
// the first hop in front of the backends.
func GetClientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return strings.TrimSpace(r.RemoteAddr)
}
