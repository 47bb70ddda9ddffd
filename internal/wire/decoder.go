package wire

import (
	"bufio"
	"io"

	pickle "github.com/kisielk/og-rek"

	"github.com/replistream/replistream/internal/txlog"
)

// Message is one decoded structured message. Exactly one of Txn / Change is
// set for T / S+B tags; a C marker sets neither.
type Message struct {
	Tag string
	// Txn carries the header fields of a T message; its Changes slice is
	// always empty.
	Txn *txlog.Transaction
	// Change carries the identity fields of an S or B message; the raw
	// payload frames that follow it are read separately via Raw.
	Change *txlog.Change
	// BlockCount is the number of blob chunk frames following a B
	// message's state frame.
	BlockCount int
}

// Decoder reads wire frames from r. Reads block until a whole frame is
// available; a truncated frame is never returned partially.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Handshake reads a structured string message.
func (d *Decoder) Handshake() (string, error) {
	body, err := readFrame(d.r)
	if err != nil {
		return "", err
	}
	v, err := unpickleValue(body)
	if err != nil {
		return "", newError(ErrBadMessage, "handshake %q", body)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case pickle.Bytes:
		return string(s), nil
	}
	return "", newError(ErrBadMessage, "handshake %q", body)
}

// Raw reads one opaque raw message.
func (d *Decoder) Raw() ([]byte, error) {
	return readFrame(d.r)
}

// Next reads and decodes the next structured message.
func (d *Decoder) Next() (*Message, error) {
	body, err := readFrame(d.r)
	if err != nil {
		return nil, err
	}

	v, err := unpickleValue(body)
	if err != nil {
		return nil, newError(ErrBadMessage, "undecodable frame: %v", err)
	}
	tup, ok := v.(pickle.Tuple)
	if !ok || len(tup) != 2 {
		return nil, newError(ErrBadMessage, "expected (tag, payload) tuple")
	}
	tag, ok := tup[0].(string)
	if !ok {
		return nil, newError(ErrBadMessage, "non-string tag %v", tup[0])
	}
	payload, ok := tup[1].(pickle.Tuple)
	if !ok {
		return nil, newError(ErrBadMessage, "tag %s: non-tuple payload", tag)
	}

	switch tag {
	case TagTransaction:
		txn, err := decodeTransaction(payload)
		if err != nil {
			return nil, err
		}
		return &Message{Tag: tag, Txn: txn}, nil
	case TagStore:
		change, err := decodeChange(payload, 4)
		if err != nil {
			return nil, err
		}
		return &Message{Tag: tag, Change: change}, nil
	case TagBlobStore:
		change, err := decodeChange(payload, 5)
		if err != nil {
			return nil, err
		}
		count, ok := payload[4].(int64)
		if !ok || count < 0 {
			return nil, newError(ErrBadMessage, "tag B: bad block count %v", payload[4])
		}
		return &Message{Tag: tag, Change: change, BlockCount: int(count)}, nil
	case TagCommit:
		return &Message{Tag: tag}, nil
	}
	return nil, newError(ErrBadMessage, "unknown tag %q", tag)
}

func decodeTransaction(payload pickle.Tuple) (*txlog.Transaction, error) {
	if len(payload) != 5 {
		return nil, newError(ErrBadMessage, "tag T: %d fields", len(payload))
	}
	id, err := fieldTid(payload[0])
	if err != nil {
		return nil, err
	}
	status, err := fieldBytes(payload[1])
	if err != nil || len(status) != 1 {
		return nil, newError(ErrBadMessage, "tag T: bad status %v", payload[1])
	}
	user, err := fieldBytes(payload[2])
	if err != nil {
		return nil, err
	}
	description, err := fieldBytes(payload[3])
	if err != nil {
		return nil, err
	}
	extension, err := fieldBytes(payload[4])
	if err != nil {
		return nil, err
	}
	return &txlog.Transaction{
		ID:          id,
		Status:      txlog.Status(status[0]),
		User:        user,
		Description: description,
		Extension:   extension,
	}, nil
}

func decodeChange(payload pickle.Tuple, want int) (*txlog.Change, error) {
	if len(payload) != want {
		return nil, newError(ErrBadMessage, "store message: %d fields, want %d", len(payload), want)
	}
	oidBytes, err := fieldBytes(payload[0])
	if err != nil {
		return nil, err
	}
	oid, err := txlog.OidFromBytes(oidBytes)
	if err != nil {
		return nil, newError(ErrBadMessage, "%v", err)
	}
	serial, err := fieldTid(payload[1])
	if err != nil {
		return nil, err
	}
	label, err := fieldBytes(payload[2])
	if err != nil {
		return nil, err
	}

	var copied txlog.Tid
	if _, isNone := payload[3].(pickle.None); !isNone {
		copied, err = fieldTid(payload[3])
		if err != nil {
			return nil, err
		}
	}

	return &txlog.Change{
		Oid:          oid,
		Serial:       serial,
		VersionLabel: label,
		CopiedFrom:   copied,
	}, nil
}

func fieldBytes(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case pickle.Bytes:
		return []byte(b), nil
	case string:
		return []byte(b), nil
	}
	return nil, newError(ErrBadMessage, "expected bytes, got %T", v)
}

func fieldTid(v interface{}) (txlog.Tid, error) {
	b, err := fieldBytes(v)
	if err != nil {
		return 0, err
	}
	tid, err := txlog.TidFromBytes(b)
	if err != nil {
		return 0, newError(ErrBadMessage, "%v", err)
	}
	return tid, nil
}
