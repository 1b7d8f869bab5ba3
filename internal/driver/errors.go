package driver

import "errors"

var (
	// ErrInvalidEntityID is returned when an entity identifier does not
	// have the {type}.{controller}.{node} shape.
	ErrInvalidEntityID = errors.New("driver: invalid entity identifier")

	// ErrUnknownEntity is returned when an identifier is well formed but
	// addresses a controller or entity type this router does not serve.
	ErrUnknownEntity = errors.New("driver: unknown entity")

	// ErrUnknownCommand is returned for commands outside the dispatch
	// table of the addressed entity type.
	ErrUnknownCommand = errors.New("driver: unknown command")

	// ErrInvalidParam is returned when a command parameter is missing or
	// out of range.
	ErrInvalidParam = errors.New("driver: invalid command parameter")
)
