package store

import "context"

// MetadataStore persists the file table and the directory index.
//
// Implementations run fn inside a transaction: Update commits every change
// fn made when it returns nil and discards them otherwise.
type MetadataStore interface {
	View(ctx context.Context, fn func(tx MetadataTx) error) error
	Update(ctx context.Context, fn func(tx MetadataTx) error) error

	// NextID allocates a file id that has never been handed out.
	NextID() (uint64, error)

	Close() error
}

// MetadataTx is the view of a MetadataStore inside a transaction.
type MetadataTx interface {
	// Get returns a copy of the file record, or ErrNotFound.
	Get(id uint64) (*FileInfo, error)

	// Insert stores a new file record.
	Insert(info *FileInfo) error

	// Put overwrites an existing file record.
	Put(info *FileInfo) error

	// Delete drops a file record.
	Delete(id uint64) error

	// Child resolves name in dir, or returns ErrNoEntry.
	Child(dir uint64, name string) (uint64, error)

	// Link adds the entry name -> id to dir.
	Link(dir uint64, name string, id uint64) error

	// Unlink removes the entry name from dir.
	Unlink(dir uint64, name string, id uint64) error

	// Children lists entries of dir with an id above startAfter in id
	// order. At most limit ids are returned; more reports whether others
	// follow. A limit of zero or less means no limit.
	Children(dir, startAfter uint64, limit int) (ids []uint64, more bool, err error)

	// Count returns the number of file records.
	Count() (uint64, error)

	// ForEach calls fn with every file record in no particular order and
	// stops at the first error fn returns.
	ForEach(fn func(info *FileInfo) error) error
}

// ContentStore holds file bytes keyed by content id.
type ContentStore interface {
	// ReadAt returns up to n bytes at offset. Content that was never
	// written reads as empty.
	ReadAt(ctx context.Context, id string, offset uint64, n uint32) ([]byte, error)

	// WriteAt stores data at offset, zero filling any gap.
	WriteAt(ctx context.Context, id string, offset uint64, data []byte) error

	// Delete drops the content. Deleting unknown content is not an error.
	Delete(ctx context.Context, id string) error

	// Sync flushes buffered data of id to durable storage.
	Sync(ctx context.Context, id string) error

	// Usage reports how much space the content occupies.
	Usage(ctx context.Context) (Usage, error)
}

// ContentLister is implemented by content stores that can enumerate the
// ids they hold.
type ContentLister interface {
	List(ctx context.Context) ([]string, error)
}

// Usage is the space accounting of a ContentStore. Stores without an
// intrinsic limit report a zero Capacity.
type Usage struct {
	Capacity uint64
	Used     uint64
}
