// Package urlguard vets page URLs that arrive from remote callers before
// anything fetches them, and bounds how much of a response body is read.
package urlguard

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxPageBody caps a fetched page body (10 MiB).
const MaxPageBody int64 = 10 << 20

// ErrPrivateTarget is returned when a URL points at a loopback, link-local
// or private address.
var ErrPrivateTarget = errors.New("urlguard: URL targets a private or loopback address")

// ErrScheme is returned for anything but http and https.
var ErrScheme = errors.New("urlguard: only http and https URLs can be replayed")

// ErrTooLarge is returned by ReadLimited when the body exceeds its cap.
var ErrTooLarge = errors.New("urlguard: body too large")

// Resolver looks up the addresses of a host.
type Resolver func(host string) ([]string, error)

// Guard checks URLs. The zero value resolves through net.LookupHost.
type Guard struct {
	Resolve Resolver
}

// Check is Guard{}.Check.
func Check(rawURL string) error { return Guard{}.Check(rawURL) }

// Check rejects a URL whose scheme is not http(s), that has no host, or
// whose host is or resolves to a private address. A host that does not
// resolve is let through; the fetch itself will fail.
func (g Guard) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("urlguard: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("urlguard: URL has no host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if private(ip) {
			return ErrPrivateTarget
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return ErrPrivateTarget
	}

	resolve := g.Resolve
	if resolve == nil {
		resolve = net.LookupHost
	}
	addrs, err := resolve(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && private(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateTarget, host, a)
		}
	}
	return nil
}

// ReadLimited reads r to the end, failing with ErrTooLarge past max bytes.
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

func private(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
