// Package wire implements the replication wire format: length-prefixed frames
// carrying either a pickled structured message or raw payload bytes. It is
// the only package that knows the byte-level layout.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	pickle "github.com/kisielk/og-rek"

	"github.com/replistream/replistream/internal/txlog"
)

// MaxFrameSize caps a single frame's body. Anything larger is a framing
// error, not a legitimate message.
const MaxFrameSize = 1 << 30

// Structured message type tags. Each transaction travels as a T header,
// one S or B message per object change (each followed by its raw payload
// frames), and a closing C marker.
const (
	TagTransaction = "T"
	TagStore       = "S"
	TagBlobStore   = "B"
	TagCommit      = "C"
)

// pickleProtocol is fixed so that the same record always serializes to the
// same bytes.
const pickleProtocol = 2

func writeFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return newError(ErrFrameTooLarge, "%d bytes", len(body))
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, newError(ErrFrameTooLarge, "%d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func pickleValue(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := pickle.NewEncoderWithConfig(&buf, &pickle.EncoderConfig{
		Protocol: pickleProtocol,
	})
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unpickleValue(body []byte) (interface{}, error) {
	return pickle.NewDecoder(bytes.NewReader(body)).Decode()
}

// Encoder writes wire frames to w. Writes go straight through; on a network
// connection a slow peer exerts backpressure on the caller.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Handshake writes a structured string message. Replicas send their requested
// protocol identifier this way.
func (e *Encoder) Handshake(protocol string) error {
	body, err := pickleValue(protocol)
	if err != nil {
		return err
	}
	return writeFrame(e.w, body)
}

// Raw writes b as an opaque raw message.
func (e *Encoder) Raw(b []byte) error {
	return writeFrame(e.w, b)
}

// Transaction writes the T header for t. Change payloads and the commit
// marker follow separately.
func (e *Encoder) Transaction(t *txlog.Transaction) error {
	body, err := pickleValue(pickle.Tuple{TagTransaction, pickle.Tuple{
		pickle.Bytes(t.ID.Bytes()),
		pickle.Bytes([]byte{byte(t.Status)}),
		pickle.Bytes(t.User),
		pickle.Bytes(t.Description),
		pickle.Bytes(t.Extension),
	}})
	if err != nil {
		return err
	}
	return writeFrame(e.w, body)
}

// Change writes one object change: its S or B header, the raw state message,
// and for blob-backed changes every blob chunk in order.
func (e *Encoder) Change(c *txlog.Change) error {
	copied := interface{}(pickle.None{})
	if !c.CopiedFrom.IsZero() {
		copied = pickle.Bytes(c.CopiedFrom.Bytes())
	}

	var header pickle.Tuple
	if c.Blob != nil {
		header = pickle.Tuple{TagBlobStore, pickle.Tuple{
			pickle.Bytes(c.Oid.Bytes()),
			pickle.Bytes(c.Serial.Bytes()),
			pickle.Bytes(c.VersionLabel),
			copied,
			int64(c.Blob.BlockCount()),
		}}
	} else {
		header = pickle.Tuple{TagStore, pickle.Tuple{
			pickle.Bytes(c.Oid.Bytes()),
			pickle.Bytes(c.Serial.Bytes()),
			pickle.Bytes(c.VersionLabel),
			copied,
		}}
	}

	body, err := pickleValue(header)
	if err != nil {
		return err
	}
	if err = writeFrame(e.w, body); err != nil {
		return err
	}

	if err = writeFrame(e.w, c.Data); err != nil {
		return err
	}
	if c.Blob != nil {
		for _, chunk := range c.Blob.Chunks {
			if err = writeFrame(e.w, chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit writes the C marker closing the current transaction.
func (e *Encoder) Commit() error {
	body, err := pickleValue(pickle.Tuple{TagCommit, pickle.Tuple{pickle.None{}}})
	if err != nil {
		return err
	}
	return writeFrame(e.w, body)
}

// EncodeTransaction writes the full wire representation of t: the header,
// every change with its payloads in source order, then the commit marker.
func (e *Encoder) EncodeTransaction(t *txlog.Transaction) error {
	if err := e.Transaction(t); err != nil {
		return err
	}
	for i := range t.Changes {
		if err := e.Change(&t.Changes[i]); err != nil {
			return err
		}
	}
	return e.Commit()
}
