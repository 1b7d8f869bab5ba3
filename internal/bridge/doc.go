// Package bridge supervises the Z-Wave JS Server connection and exposes
// the network's switch and cover nodes as controllable devices.
//
// The Bridge owns a zwave.Transport and replaces it when it fails: a
// watchdog goroutine probes the server on a fixed interval and, after
// repeated failures or an immediate close notification, tears the
// transport down and runs a bounded reconnect cycle. One connection loss
// produces exactly one EventDisconnected; a successful recovery follows
// with exactly one EventConnected, with no events for the attempts in
// between.
//
// Device commands (ControlLight, ControlCover, ...) are issued exactly
// once. A command caught by a connection failure returns an error and is
// never replayed after reconnect, so an actuation can not fire twice.
package bridge
