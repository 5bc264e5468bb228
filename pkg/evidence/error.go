package evidence

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrInvalidPrefixBits indicates a prefix bit string contained
	// characters other than '0' and '1'.
	ErrInvalidPrefixBits = ErrorKind("ErrInvalidPrefixBits")

	// ErrInvalidOrigin indicates an origin ASN of zero.
	ErrInvalidOrigin = ErrorKind("ErrInvalidOrigin")

	// ErrInvalidSourceKind indicates a source kind outside the closed set.
	ErrInvalidSourceKind = ErrorKind("ErrInvalidSourceKind")

	// ErrCorruptTrie indicates a serialized trie failed validation.
	ErrCorruptTrie = ErrorKind("ErrCorruptTrie")

	// ErrUnsupportedVersion indicates a serialized trie was written with a
	// format version this package does not understand.
	ErrUnsupportedVersion = ErrorKind("ErrUnsupportedVersion")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an evidence trie error.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason
// for the error by checking the underlying error.
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

// makeError creates an Error given a set of arguments.
func makeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}
