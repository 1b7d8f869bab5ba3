// Package discovery finds Z-Wave JS Servers on the local network via
// mDNS. A scan runs for a bounded window and returns the ws:// endpoints
// it saw, for use when no server address is configured.
package discovery
