package vss

import (
	"github.com/oklog/ulid/v2"
)

// Id is a process-local trace identifier, not part of the wire protocol.
// CommandProcessor stamps one per request so a single request can be
// followed across log lines; the wire protocol uses the client-supplied
// requestId for that purpose instead.
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}
