// Package store persists configured controller records in SQLite, so a
// server found by discovery or added through the API survives restarts.
package store
