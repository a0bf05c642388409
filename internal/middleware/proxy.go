package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies installs an IP extractor that honors X-Real-IP and
// X-Forwarded-For only when the direct peer falls inside one of the given
// CIDR ranges.
//
// Without this config, c.RealIP() would always return the proxy's IP
// instead of the actual client. Session fingerprinting, rate limiting,
// and audit logging all depend on accurate client IPs, so getting this
// wrong either locks every user behind the proxy to one fingerprint or
// lets an attacker spoof theirs.
//
// Typical ranges for a containerized deployment:
//   - "127.0.0.1/8"    -- localhost (docker host)
//   - "10.0.0.0/8"     -- Docker default bridge network
//   - "172.16.0.0/12"  -- Docker default bridge network (alternative range)
//   - "192.168.0.0/16" -- common LAN range
//   - "fd00::/8"       -- IPv6 private range
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	e.IPExtractor = trustedIPExtractor(parseCIDRs(trustedCIDRs))
}

// parseCIDRs parses the configured ranges, dropping any that do not parse.
// Runs once at startup.
func parseCIDRs(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		nets = append(nets, network)
	}
	return nets
}

func trustedIPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	return func(req *http.Request) string {
		peer := peerIP(req.RemoteAddr)
		if !inRanges(peer, trusted) {
			// Direct connection from an untrusted address; forwarding
			// headers could say anything, so ignore them.
			return peer
		}

		if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}

		// X-Forwarded-For is a comma separated chain; the leftmost entry
		// is the original client.
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}

		return peer
	}
}

// peerIP strips the port from a "host:port" RemoteAddr.
func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func inRanges(ipStr string, ranges []*net.IPNet) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, network := range ranges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
