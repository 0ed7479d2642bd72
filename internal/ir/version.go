package ir

// Version constants for the wire protocol and persisted records.
const (
	// WireVersion is carried on every transport message.
	WireVersion = "1"

	// Version is the shoplist release version.
	Version = "0.1.0"
)
