package permissions

import (
	"net"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultBlockedHosts are always denied, regardless of manifest
// configuration, to prevent SSRF against cloud metadata endpoints and
// private network ranges (spec §9 "network deny list cannot be
// overridden by a plugin").
var DefaultBlockedHosts = []string{
	"169.254.169.254/32",
	"169.254.169.253/32",
	"metadata.google.internal",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

// CheckNetwork checks whether host (optionally "host:port") may be
// reached under pc's network permission.
func CheckNetwork(pc *PermissionContext, host string) error {
	return emit(pc, "network", host, checkNetwork(pc, host))
}

func checkNetwork(pc *PermissionContext, host string) error {
	if pc == nil {
		return &DeniedError{Class: "network", Message: "no permission context"}
	}
	netPerm := pc.Spec.Network
	if !netPerm.Enabled {
		return &DeniedError{Class: "network", Message: "network access disabled"}
	}

	hostname := stripPort(host)

	blocked := append(append([]string{}, DefaultBlockedHosts...), netPerm.Deny...)
	for _, pattern := range blocked {
		if matchesHostPattern(hostname, pattern) {
			return &DeniedError{Class: "network", Message: "host is blocked"}
		}
	}

	if len(netPerm.Allow) == 0 && len(netPerm.AllowCIDRs) == 0 {
		return &DeniedError{Class: "network", Message: "no allowed hosts configured"}
	}

	for _, pattern := range netPerm.Allow {
		if matchesHostPattern(hostname, pattern) {
			return nil
		}
	}
	for _, cidr := range netPerm.AllowCIDRs {
		if matchesCIDR(hostname, cidr) {
			return nil
		}
	}

	return &DeniedError{Class: "network", Allowed: netPerm.Allow, Message: "host not in allowed patterns"}
}

func matchesHostPattern(hostname, pattern string) bool {
	if strings.Contains(pattern, "/") {
		return matchesCIDR(hostname, pattern)
	}
	if strings.Contains(pattern, "*") {
		glob := strings.ReplaceAll(pattern, "*", "**")
		matched, err := doublestar.Match(glob, hostname)
		return err == nil && matched
	}
	return strings.EqualFold(hostname, pattern)
}

func matchesCIDR(hostname, cidr string) bool {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}
	return ipNet.Contains(ip)
}

// stripPort removes a trailing ":port" from host, handling bracketed and
// bare IPv6 addresses.
func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if idx := strings.LastIndex(host, "]"); idx != -1 {
			return host[1:idx]
		}
	}
	if strings.Count(host, ":") > 1 {
		return host
	}
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
