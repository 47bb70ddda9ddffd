package primary

import (
	"context"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/replistream/replistream/internal/txlog"
	"github.com/replistream/replistream/internal/wire"
)

// session serves one replica connection. It runs the two-step handshake
// (protocol identifier, then resume id) and then streams transactions in
// commit order until the connection goes away or the server stops. Every
// failure is contained to this session; the server keeps accepting.
type session struct {
	id     string
	conn   net.Conn
	source LogSource
	dec    *wire.Decoder
	enc    *wire.Encoder
	ctx    context.Context
	cancel context.CancelFunc
	remove func(*session)
}

func (s *session) run() {
	defer s.close()

	protocol, err := s.dec.Handshake()
	if err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("replica handshake failed")
		return
	}
	if err = acceptProtocol(protocol, s.source.BlobsEnabled()); err != nil {
		// Permanent rejection: nothing is streamed, the replica is not
		// retried.
		log.Warn().Str("session", s.id).Str("protocol", protocol).
			Msg("rejecting replica: unsupported protocol")
		return
	}

	raw, err := s.dec.Raw()
	if err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("replica sent no resume id")
		return
	}
	after, err := txlog.TidFromBytes(raw)
	if err != nil {
		err = newError(ErrBadResumeID, "%d bytes", len(raw))
		log.Warn().Err(err).Str("session", s.id).Msg("replica handshake failed")
		return
	}

	log.Info().Str("session", s.id).Str("protocol", protocol).
		Str("resume", after.String()).Msg("replica streaming")

	// The replica sends nothing after the handshake; keep reading only to
	// notice a peer close promptly even while the stream idles.
	go s.watchPeer()

	s.stream(after)
}

// stream tails the log from the resume point. When the cursor catches up with
// the head it suspends on the source's commit notification; socket writes
// block on a slow replica, which only delays this session.
func (s *session) stream(after txlog.Tid) {
	it := s.source.Iterate(after)
	for {
		txn, err := it.Next(s.ctx)
		if err != nil {
			// Server stop, peer close, or source shutdown.
			return
		}
		if err = s.enc.EncodeTransaction(txn); err != nil {
			log.Debug().Err(err).Str("session", s.id).Str("tid", txn.ID.String()).
				Msg("replica write failed")
			return
		}
	}
}

func (s *session) watchPeer() {
	buf := make([]byte, 512)
	for {
		if _, err := s.conn.Read(buf); err != nil {
			s.cancel()
			_ = s.conn.Close()
			return
		}
	}
}

func (s *session) close() {
	s.cancel()
	_ = s.conn.Close()
	s.remove(s)
	log.Info().Str("session", s.id).Msg("replica disconnected")
}
