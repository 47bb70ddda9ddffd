package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	pickle "github.com/kisielk/og-rek"
	"github.com/stretchr/testify/require"

	"github.com/replistream/replistream/internal/txlog"
)

func testTransaction() *txlog.Transaction {
	return &txlog.Transaction{
		ID:          0x0102030405060708,
		Status:      txlog.StatusNormal,
		User:        []byte("alice"),
		Description: []byte("checkpoint"),
		Extension:   []byte{0x80, 0x02, 0x7d, 0x2e},
		Changes: []txlog.Change{
			{
				Oid:  7,
				Data: []byte("object-state"),
			},
			{
				Oid:        8,
				CopiedFrom: 0x0101010101010101,
				Data:       []byte{},
			},
			{
				Oid:  9,
				Data: []byte("current-state"),
				Blob: &txlog.Blob{Chunks: [][]byte{[]byte("hel"), []byte("lo")}},
			},
		},
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Handshake("zrs2.1"))

	got, err := NewDecoder(&buf).Handshake()
	require.NoError(t, err)
	require.Equal(t, "zrs2.1", got)
}

func TestRawRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Raw([]byte("opaque")))
	require.NoError(t, enc.Raw(nil))

	dec := NewDecoder(&buf)
	got, err := dec.Raw()
	require.NoError(t, err)
	require.Equal(t, []byte("opaque"), got)

	got, err = dec.Raw()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestTransactionRoundTrip(t *testing.T) {
	t.Parallel()

	txn := testTransaction()
	for i := range txn.Changes {
		txn.Changes[i].Serial = txn.ID
	}

	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).EncodeTransaction(txn))

	dec := NewDecoder(&buf)

	msg, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, TagTransaction, msg.Tag)
	require.Equal(t, txn.ID, msg.Txn.ID)
	require.Equal(t, txn.Status, msg.Txn.Status)
	require.Equal(t, txn.User, msg.Txn.User)
	require.Equal(t, txn.Description, msg.Txn.Description)
	require.Equal(t, txn.Extension, msg.Txn.Extension)

	// Plain change: S header then one raw state message.
	msg, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, TagStore, msg.Tag)
	require.Equal(t, txlog.Oid(7), msg.Change.Oid)
	require.Equal(t, txn.ID, msg.Change.Serial)
	require.True(t, msg.Change.CopiedFrom.IsZero())
	state, err := dec.Raw()
	require.NoError(t, err)
	require.Equal(t, []byte("object-state"), state)

	// Back-reference: the copied-from tid travels, the state is empty.
	msg, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, TagStore, msg.Tag)
	require.Equal(t, txlog.Tid(0x0101010101010101), msg.Change.CopiedFrom)
	state, err = dec.Raw()
	require.NoError(t, err)
	require.Empty(t, state)

	// Blob change: B header, raw state, then the announced chunk count.
	msg, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, TagBlobStore, msg.Tag)
	require.Equal(t, txlog.Oid(9), msg.Change.Oid)
	require.Equal(t, 2, msg.BlockCount)
	state, err = dec.Raw()
	require.NoError(t, err)
	require.Equal(t, []byte("current-state"), state)

	var blob []byte
	for i := 0; i < msg.BlockCount; i++ {
		chunk, err := dec.Raw()
		require.NoError(t, err)
		blob = append(blob, chunk...)
	}
	require.Equal(t, []byte("hello"), blob)

	msg, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, TagCommit, msg.Tag)
}

func TestDeterministicEncoding(t *testing.T) {
	t.Parallel()

	txn := testTransaction()

	var first, second bytes.Buffer
	require.NoError(t, NewEncoder(&first).EncodeTransaction(txn))
	require.NoError(t, NewEncoder(&second).EncodeTransaction(txn))
	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestReadFrame_tooLarge(t *testing.T) {
	t.Parallel()

	hdr := make([]byte, 4)
	binary.BigEndian.PutUint32(hdr, uint32(MaxFrameSize)+1)

	_, err := readFrame(bytes.NewReader(hdr))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame_truncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("full frame")))
	short := buf.Bytes()[:buf.Len()-3]

	_, err := readFrame(bytes.NewReader(short))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecoder_Next_malformed(t *testing.T) {
	t.Parallel()

	frame := func(t *testing.T, v interface{}) *bytes.Buffer {
		t.Helper()
		body, err := pickleValue(v)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, writeFrame(&buf, body))
		return &buf
	}

	tests := map[string]*bytes.Buffer{
		"unknown tag":       frame(t, pickle.Tuple{"X", pickle.Tuple{}}),
		"non-tuple message": frame(t, "not a message"),
		"non-string tag":    frame(t, pickle.Tuple{int64(1), pickle.Tuple{}}),
		"short payload":     frame(t, pickle.Tuple{TagTransaction, pickle.Tuple{}}),
		"bad tid width": frame(t, pickle.Tuple{TagTransaction, pickle.Tuple{
			pickle.Bytes("abc"), pickle.Bytes(" "), pickle.Bytes(""),
			pickle.Bytes(""), pickle.Bytes(""),
		}}),
	}

	for name, buf := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewDecoder(buf).Next()
			require.ErrorIs(t, err, ErrBadMessage)
		})
	}

	t.Run("unpicklable body", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeFrame(&buf, []byte{0xff, 0xfe, 0xfd}))
		_, err := NewDecoder(&buf).Next()
		require.ErrorIs(t, err, ErrBadMessage)
	})
}
