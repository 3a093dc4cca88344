package store

import "errors"

// Store errors. Protocol handlers map each of these to a status code; any
// other error is reported to clients as an I/O failure.
var (
	// ErrNotFound reports a file id that no longer exists.
	ErrNotFound = errors.New("store: file not found")

	// ErrNoEntry reports a directory entry that does not exist.
	ErrNoEntry = errors.New("store: no such entry")

	// ErrPermission reports an operation the caller is not allowed to do.
	ErrPermission = errors.New("store: permission denied")

	// ErrExist reports a name that is already taken.
	ErrExist = errors.New("store: entry exists")

	// ErrNotEmpty reports removal of a directory that still has entries.
	ErrNotEmpty = errors.New("store: directory not empty")

	// ErrIsDir reports a file operation applied to a directory.
	ErrIsDir = errors.New("store: is a directory")

	// ErrNotDir reports a directory operation applied to a non-directory.
	ErrNotDir = errors.New("store: not a directory")

	// ErrNameTooLong reports a name component over MaxNameLen bytes.
	ErrNameTooLong = errors.New("store: name too long")

	// ErrNoSpace reports that the capacity or object limit is exhausted.
	ErrNoSpace = errors.New("store: no space left")

	// ErrReadOnly reports a mutation of a read-only store.
	ErrReadOnly = errors.New("store: read-only")

	// ErrInvalid reports an argument the store cannot act on.
	ErrInvalid = errors.New("store: invalid argument")
)
