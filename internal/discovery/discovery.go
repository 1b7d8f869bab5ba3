package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Z-Wave JS Server advertises itself over mDNS.
const (
	serviceType = "_zwave-js-server._tcp"
	domain      = "local."

	// defaultScanTimeout bounds one scan window.
	defaultScanTimeout = 2 * time.Second
)

// Server is one Z-Wave JS Server found on the local network.
type Server struct {
	Instance  string
	Host      string
	Port      int
	Addresses []string

	// Endpoint is the ready-to-dial ws:// URL.
	Endpoint string
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Scan browses the local network for Z-Wave JS Servers for one bounded
// window and returns every distinct instance found. An empty result is
// not an error.
func Scan(ctx context.Context, timeout time.Duration, logger Logger) ([]Server, error) {
	if timeout <= 0 {
		timeout = defaultScanTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(scanCtx, serviceType, domain, entries, removed)
	}()

	var servers []Server
	seen := make(map[string]bool)

collect:
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				break collect
			}
			s := fromEntry(entry)
			if s.Endpoint == "" || seen[s.Instance] {
				continue
			}
			seen[s.Instance] = true
			servers = append(servers, s)
			if logger != nil {
				logger.Info("discovered server", "instance", s.Instance, "endpoint", s.Endpoint)
			}

		case <-removed:
			// A scan snapshot ignores departures.

		case <-scanCtx.Done():
			break collect
		}
	}

	// The window expiring is the normal way a scan ends; only report
	// browse failures.
	select {
	case err := <-browseErr:
		if err != nil && ctx.Err() == nil && len(servers) == 0 {
			return nil, fmt.Errorf("discovery: browse %s: %w", serviceType, err)
		}
	default:
	}

	return servers, nil
}

func fromEntry(entry *zeroconf.ServiceEntry) Server {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return Server{
		Instance:  entry.Instance,
		Host:      entry.HostName,
		Port:      entry.Port,
		Addresses: addrs,
		Endpoint:  endpoint(entry.HostName, addrs, entry.Port),
	}
}

// endpoint builds the ws:// URL for a discovered server, preferring a
// plain IPv4 address over the advertised hostname.
func endpoint(host string, addrs []string, port int) string {
	target := strings.TrimSuffix(host, ".")
	for _, addr := range addrs {
		if !strings.Contains(addr, ":") { // first IPv4
			target = addr
			break
		}
	}
	if target == "" || port == 0 {
		return ""
	}
	return fmt.Sprintf("ws://%s:%d", target, port)
}
