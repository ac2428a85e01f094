package addrutil

import (
	"net/netip"
	"strings"
)

// StripMask drops a "/mask" suffix from an address as reported by a packet
// filter, e.g. "1.2.3.4/32" or "1.2.3.4/255.255.255.255".
func StripMask(addr string) string {
	a := strings.TrimSpace(addr)
	if i := strings.IndexByte(a, '/'); i >= 0 {
		a = a[:i]
	}
	return a
}

// ParseIPv4 accepts a plain dotted IPv4 address and returns its canonical form.
func ParseIPv4(addr string) (string, bool) {
	a := strings.TrimSpace(addr)
	if a == "" {
		return "", false
	}
	ip, err := netip.ParseAddr(a)
	if err != nil || !ip.Is4() {
		return "", false
	}
	return ip.String(), true
}

// SplitList splits a comma separated address list and strips masks.
// Entries like "Any" or empty fields are dropped.
func SplitList(list string) []string {
	var out []string
	for _, f := range strings.Split(list, ",") {
		a := StripMask(f)
		if a == "" || strings.EqualFold(a, "any") {
			continue
		}
		out = append(out, a)
	}
	return out
}
