// internal/security/urlpolicy.go
package security

import (
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Hostnames that always resolve to the local machine regardless of DNS.
var localhostAliases = map[string]struct{}{
	"localhost":             {},
	"localhost.localdomain": {},
	"ip6-localhost":         {},
	"ip6-loopback":          {},
}

// ValidateURL enforces the navigation policy: http/https only, a resolvable
// host shape, and no loopback/private/link-local targets so a navigation can
// never be turned into a request against internal infrastructure. Extra deny
// hosts extend the built-in rules. The check is purely syntactic; it never
// touches the network.
func (s *Screener) ValidateURL(raw string, denyHosts []string) schemas.URLCheck {
	if strings.TrimSpace(raw) == "" {
		return reject("URL is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return reject(fmt.Sprintf("URL is malformed: %v", err))
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return reject(fmt.Sprintf("scheme %q is not allowed; only http and https are supported", u.Scheme))
	}

	if u.User != nil {
		// user@host URLs are a classic trick for smuggling a different
		// destination past a naive host check.
		return reject("URLs with embedded credentials are not allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return reject("URL has no host")
	}

	// Normalize internationalized hostnames to their ASCII (punycode) form so
	// homograph variants hit the same policy rules.
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}

	if _, local := localhostAliases[host]; local || strings.HasSuffix(host, ".localhost") {
		return reject("URL targets the local machine")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if r := checkAddr(addr.Unmap()); r != "" {
			return reject(r)
		}
	} else if addr, ok := parseLegacyIPv4(host); ok {
		// The browser normalizes decimal ("2130706433"), hex ("0x7f000001"),
		// octal ("0177.0.0.1"), and shorthand ("127.1") hosts to a dotted
		// quad before connecting, so these spellings must pass the same
		// range checks as the canonical form.
		if r := checkAddr(addr); r != "" {
			return reject(r)
		}
	} else if isNumericHost(host) {
		// Entirely numeric but not a parseable address. Never a DNS name,
		// so nothing legitimate is lost by refusing it.
		return reject("numeric host is not a valid address")
	}

	for _, deny := range denyHosts {
		deny = strings.ToLower(strings.TrimSpace(deny))
		if deny == "" {
			continue
		}
		if host == deny || strings.HasSuffix(host, "."+deny) {
			return reject(fmt.Sprintf("host %q is blocked by policy", host))
		}
	}

	return schemas.URLCheck{Valid: true}
}

// checkAddr returns a rejection reason for literal addresses in forbidden
// ranges, or "" when the address is routable.
func checkAddr(addr netip.Addr) string {
	switch {
	case addr.IsLoopback():
		return "URL targets a loopback address"
	case addr.IsPrivate():
		return "URL targets a private network address"
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		// Covers 169.254.0.0/16, including cloud metadata services.
		return "URL targets a link-local address"
	case addr.IsUnspecified():
		return "URL targets the unspecified address"
	case addr.IsMulticast():
		return "URL targets a multicast address"
	}
	return ""
}

// parseLegacyIPv4 parses the alternate IPv4 spellings the URL standard still
// admits: plain decimal, hex and octal labels, and fewer than four labels
// where the last one fills the remaining bytes.
func parseLegacyIPv4(host string) (netip.Addr, bool) {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	if len(labels) == 0 || len(labels) > 4 {
		return netip.Addr{}, false
	}

	parts := make([]uint64, len(labels))
	for i, label := range labels {
		n, ok := parseIPv4Number(label)
		if !ok {
			return netip.Addr{}, false
		}
		parts[i] = n
	}

	var v uint64
	for i, n := range parts[:len(parts)-1] {
		if n > 0xff {
			return netip.Addr{}, false
		}
		v |= n << (8 * uint(3-i))
	}
	last := parts[len(parts)-1]
	if last >= 1<<(8*uint(5-len(parts))) {
		return netip.Addr{}, false
	}
	v |= last

	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}), true
}

// parseIPv4Number reads one label the way the URL standard does: a "0x"
// prefix is hex, a leading zero is octal, anything else decimal.
func parseIPv4Number(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	base := 10
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s, base = s[2:], 16
		if s == "" {
			// A bare "0x" label is zero in the URL standard.
			return 0, true
		}
	} else if len(s) > 1 && s[0] == '0' {
		s, base = s[1:], 8
	}
	n, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, false
	}
	return n, true
}

// isNumericHost reports whether every label of the host is a decimal, hex,
// or octal number, which rules out a real DNS name.
func isNumericHost(host string) bool {
	labels := strings.Split(strings.TrimSuffix(host, "."), ".")
	for _, label := range labels {
		if !isNumericLabel(label) {
			return false
		}
	}
	return len(labels) > 0
}

func isNumericLabel(s string) bool {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		for _, r := range s[2:] {
			if !isHexDigit(r) {
				return false
			}
		}
		return true
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func reject(reason string) schemas.URLCheck {
	return schemas.URLCheck{Valid: false, Reason: reason}
}
