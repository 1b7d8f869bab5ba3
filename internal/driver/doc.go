// Package driver is the command boundary between external integrations
// and the bridge. It addresses devices by {type}.{controller}.{node}
// entity identifiers, dispatches a fixed command set per entity type and
// translates value scales at the boundary: external brightness is 0-255,
// everything behind the router is 0-100.
//
// The router holds no connection state and never retries; errors from
// the bridge surface unchanged.
package driver
