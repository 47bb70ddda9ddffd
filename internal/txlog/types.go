package txlog

import (
	"encoding/binary"
	"fmt"
)

// Tid identifies a committed transaction. Tids are derived from commit time and
// are strictly increasing across the log; the zero value means "start of log".
type Tid uint64

// Oid identifies a stored object.
type Oid uint64

// Bytes returns the 8-byte big-endian wire form of the tid.
func (t Tid) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t))
	return b
}

// TidFromBytes decodes an 8-byte big-endian tid.
func TidFromBytes(b []byte) (Tid, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("tid must be 8 bytes, got %d", len(b))
	}
	return Tid(binary.BigEndian.Uint64(b)), nil
}

func (t Tid) IsZero() bool { return t == 0 }

func (t Tid) String() string { return fmt.Sprintf("%016x", uint64(t)) }

// Bytes returns the 8-byte big-endian wire form of the oid.
func (o Oid) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(o))
	return b
}

// OidFromBytes decodes an 8-byte big-endian oid.
func OidFromBytes(b []byte) (Oid, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("oid must be 8 bytes, got %d", len(b))
	}
	return Oid(binary.BigEndian.Uint64(b)), nil
}

// Status is the single-byte transaction status recorded by the storage.
type Status byte

const (
	// StatusNormal marks an ordinary committed transaction.
	StatusNormal Status = ' '
	// StatusPacked marks a transaction rewritten by a storage pack.
	StatusPacked Status = 'p'
)

// Transaction is one committed entry in the log. It is immutable once
// committed; readers share it and must not modify it.
type Transaction struct {
	ID          Tid    `json:"id"`
	Status      Status `json:"status"`
	User        []byte `json:"user,omitempty"`
	Description []byte `json:"description,omitempty"`
	// Extension is an opaque, already-serialized mapping carried through
	// verbatim for wire compatibility.
	Extension []byte   `json:"extension,omitempty"`
	Changes   []Change `json:"changes,omitempty"`
}

// Change is one object revision within a transaction. Data always holds the
// object's state for this revision; Blob is set in addition when the object is
// blob-backed, in which case the blob bytes travel as chunks. A non-zero
// CopiedFrom means the revision's payload was already delivered for that
// transaction and no new data follows it on the wire.
type Change struct {
	Oid          Oid    `json:"oid"`
	Serial       Tid    `json:"serial"`
	VersionLabel []byte `json:"versionLabel,omitempty"` // legacy, normally empty
	CopiedFrom   Tid    `json:"copiedFrom,omitempty"`
	Data         []byte `json:"data,omitempty"`
	Blob         *Blob  `json:"blob,omitempty"`
}

// Blob is the chunked payload of a blob-backed change. Concatenating Chunks in
// order reproduces the blob's exact byte content.
type Blob struct {
	Chunks [][]byte `json:"chunks"`
}

// BlockCount returns the number of chunks the blob travels as.
func (b *Blob) BlockCount() int {
	if b == nil {
		return 0
	}
	return len(b.Chunks)
}

// Size returns the total blob size in bytes.
func (b *Blob) Size() int64 {
	if b == nil {
		return 0
	}
	var n int64
	for _, c := range b.Chunks {
		n += int64(len(c))
	}
	return n
}
