package ingest

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.  Their values double
// as the skip reasons reported in Stats.
const (
	// ErrMalformedRecord indicates a row with too few columns.
	ErrMalformedRecord = ErrorKind("malformed_record")

	// ErrInvalidPrefix indicates a prefix that does not parse.
	ErrInvalidPrefix = ErrorKind("invalid_prefix")

	// ErrUnsupportedFamily indicates IPv6 evidence, which is not
	// aggregated.
	ErrUnsupportedFamily = ErrorKind("unsupported_family")

	// ErrInvalidOrigin indicates an origin that is not a positive 32-bit
	// ASN.
	ErrInvalidOrigin = ErrorKind("invalid_origin")

	// ErrInvalidSource indicates an unknown source kind.
	ErrInvalidSource = ErrorKind("invalid_source")

	// ErrInvalidAnnounced indicates an announced flag that is not a
	// boolean.
	ErrInvalidAnnounced = ErrorKind("invalid_announced")

	// ErrInvalidDate indicates a date in neither accepted layout.
	ErrInvalidDate = ErrorKind("invalid_date")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a rejected evidence record.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
