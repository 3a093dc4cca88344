package badger

import "encoding/binary"

// Key namespace
// =============
//
// Prefix   Key                               Value
// -------------------------------------------------------------------
// "f:"     f:<id>                            FileInfo (JSON)
// "n:"     n:<dir><name>                     child id
// "e:"     e:<dir><child>                    child name
// "cnt:"   cnt:files                         number of file records
// "seq:"   seq:ids                           id sequence lease
//
// Ids are encoded as 8 bytes big-endian so a prefix scan over "e:<dir>"
// yields the entries of a directory in ascending id order, which is the
// order readdir cookies resume from.

const (
	prefixFile  = "f:"
	prefixName  = "n:"
	prefixEntry = "e:"

	keyFileCount = "cnt:files"
	keySequence  = "seq:ids"
)

func encodeID(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func decodeID(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func keyFile(id uint64) []byte {
	return append([]byte(prefixFile), encodeID(id)...)
}

func keyName(dir uint64, name string) []byte {
	k := append([]byte(prefixName), encodeID(dir)...)
	return append(k, name...)
}

func keyEntryPrefix(dir uint64) []byte {
	return append([]byte(prefixEntry), encodeID(dir)...)
}

func keyEntry(dir, child uint64) []byte {
	return append(keyEntryPrefix(dir), encodeID(child)...)
}
