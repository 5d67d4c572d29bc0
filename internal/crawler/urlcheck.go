package crawler

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// The crawler only ever fetches plain public web pages. The checks here
// stop a search result or redirect from pointing it at the host's own
// network: odd schemes, non-default ports, internal hostnames, and names
// that resolve into private address space.

var fetchablePorts = map[string]bool{"": true, "80": true, "443": true}

var internalHostSuffixes = []string{".localhost", ".local", ".internal"}

// fc00::/7 is IPv6 unique-local space.
var uniqueLocalV6 = netip.MustParsePrefix("fc00::/7")

func checkFetchURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return nil, fmt.Errorf("scheme %q is not fetchable", u.Scheme)
	case u.Hostname() == "":
		return nil, fmt.Errorf("url %q has no host", raw)
	case !fetchablePorts[u.Port()]:
		return nil, fmt.Errorf("port %s is not fetchable", u.Port())
	}
	if err := checkFetchHost(u.Hostname()); err != nil {
		return nil, err
	}
	return u, nil
}

func checkFetchHost(host string) error {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return fmt.Errorf("empty host")
	}
	if host == "localhost" {
		return fmt.Errorf("host %q is internal", host)
	}
	for _, suffix := range internalHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("host %q is internal", host)
		}
	}
	if ip, err := netip.ParseAddr(host); err == nil && !publicAddr(ip.Unmap()) {
		return fmt.Errorf("address %s is not public", ip)
	}
	return nil
}

// publicAddr reports whether ip is a globally routable unicast address.
func publicAddr(ip netip.Addr) bool {
	if !ip.IsValid() || ip.IsUnspecified() {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsMulticast() {
		return false
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return !uniqueLocalV6.Contains(ip)
}

// guardedDialer re-runs the host policy at connect time, after DNS, so a
// public-looking hostname cannot resolve into a private address.
func guardedDialer(timeout time.Duration) func(context.Context, string, string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			host = address
		}
		if err := checkFetchHost(host); err != nil {
			return nil, err
		}
		// Address literals were already vetted above; hostnames get
		// resolved and every returned address checked.
		if _, parseErr := netip.ParseAddr(host); parseErr != nil {
			ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			}
			if len(ips) == 0 {
				return nil, fmt.Errorf("host %q did not resolve", host)
			}
			for _, ip := range ips {
				if !publicAddr(ip.Unmap()) {
					return nil, fmt.Errorf("host %q resolves to non-public address %s", host, ip)
				}
			}
		}
		return dialer.DialContext(ctx, network, address)
	}
}
