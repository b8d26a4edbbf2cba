package validator

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

type blockedNetwork struct {
	network *net.IPNet
	reason  string
}

// BlockedNetworks contains IP ranges remote inputs may not resolve to
var BlockedNetworks = mustNetworks(map[string]string{
	"127.0.0.0/8":    "localhost access not allowed",
	"::1/128":        "localhost access not allowed",
	"10.0.0.0/8":     "private network access not allowed",
	"172.16.0.0/12":  "private network access not allowed",
	"192.168.0.0/16": "private network access not allowed",
	"fc00::/7":       "private network access not allowed",
	"169.254.0.0/16": "link-local access not allowed",
	"fe80::/10":      "link-local access not allowed",
	"0.0.0.0/8":      "unspecified address not allowed",
})

func mustNetworks(cidrs map[string]string) []blockedNetwork {
	out := make([]blockedNetwork, 0, len(cidrs))
	for cidr, reason := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid blocked network %q: %v", cidr, err))
		}
		out = append(out, blockedNetwork{network: network, reason: reason})
	}
	return out
}

// IsBlockedIP checks if an IP address is in a blocked network range
func IsBlockedIP(ipStr string) bool {
	_, blocked := blockReason(net.ParseIP(ipStr))
	return blocked
}

func blockReason(ip net.IP) (string, bool) {
	if ip == nil {
		return "", false
	}
	for _, b := range BlockedNetworks {
		if b.network.Contains(ip) {
			return b.reason, true
		}
	}
	return "", false
}

// Resolver looks up host addresses; *net.Resolver satisfies it
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// ValidateHTTPURI rejects http(s) URIs whose host resolves into a blocked
// network. A nil resolver uses net.DefaultResolver.
func ValidateHTTPURI(ctx context.Context, uri string, resolver Resolver) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid URI: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("expected http or https scheme")
	}

	hostname := parsed.Hostname()
	if ip := net.ParseIP(hostname); ip != nil {
		if reason, blocked := blockReason(ip); blocked {
			return fmt.Errorf("access denied: %s (%s)", hostname, reason)
		}
		return nil
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return fmt.Errorf("failed to resolve hostname: %w", err)
	}

	for _, addr := range addrs {
		if reason, blocked := blockReason(addr.IP); blocked {
			return fmt.Errorf("access denied: %s resolves to %s (%s)", hostname, addr.IP, reason)
		}
	}
	return nil
}
