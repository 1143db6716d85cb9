package security

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnsafeEndpoint is returned for outbound URLs that could reach
// internal infrastructure.
var ErrUnsafeEndpoint = errors.New("unsafe endpoint")

var blockedHosts = []string{"localhost", "metadata.google.internal", "metadata.google"}

// ValidateWebhookURL checks that a notification target is safe for
// server-side delivery. Private, loopback, link-local and unspecified
// addresses are refused, both as literals and after DNS resolution.
// With requireTLS set only https is accepted.
func ValidateWebhookURL(rawURL string, requireTLS bool) error {
	host, err := parseTarget(rawURL, requireTLS)
	if err != nil {
		return err
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve host %s", ErrUnsafeEndpoint, host)
	}
	for _, s := range ips {
		if ip := net.ParseIP(s); ip != nil {
			if err := checkIP(ip); err != nil {
				return fmt.Errorf("host %q resolves to blocked address: %w", host, err)
			}
		}
	}
	return nil
}

func parseTarget(rawURL string, requireTLS bool) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL format", ErrUnsafeEndpoint)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !requireTLS:
	case u.Scheme == "http":
		return "", fmt.Errorf("%w: https is required", ErrUnsafeEndpoint)
	default:
		return "", fmt.Errorf("%w: scheme must be http or https", ErrUnsafeEndpoint)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: URL must have a host", ErrUnsafeEndpoint)
	}

	host := u.Hostname()
	for _, b := range blockedHosts {
		if strings.EqualFold(host, b) {
			return "", fmt.Errorf("%w: host %q is not allowed", ErrUnsafeEndpoint, host)
		}
	}
	return host, nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("%w: loopback address", ErrUnsafeEndpoint)
	case ip.IsPrivate():
		return fmt.Errorf("%w: private address", ErrUnsafeEndpoint)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: link-local address", ErrUnsafeEndpoint)
	case ip.IsUnspecified():
		return fmt.Errorf("%w: unspecified address", ErrUnsafeEndpoint)
	}
	return nil
}
