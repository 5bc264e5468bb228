package decision

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

	// ErrInvalidPrefix indicates a textual prefix could not be parsed.
	ErrInvalidPrefix = ErrorKind("ErrInvalidPrefix")

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

// Error identifies a decision trie error.
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
