// Package primary implements the serving side of the replication protocol: a
// TCP listener that hands each replica connection its own session streaming
// the committed transaction log from the replica's resume point.
package primary

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/replistream/replistream/internal/txlog"
	"github.com/replistream/replistream/internal/wire"
)

const serverName = "replication primary"

//go:generate mockgen -destination=conn_mock.go -package=primary net Conn

// LogSource is the committed-transaction log sessions stream from. Sessions
// share it read-only; each holds its own cursor.
type LogSource interface {
	// Iterate returns an independent cursor over transactions with id
	// strictly greater than after.
	Iterate(after txlog.Tid) *txlog.Iterator
	// BlobsEnabled reports whether the log may contain blob-backed changes,
	// which raises the minimum protocol version replicas must speak.
	BlobsEnabled() bool
}

type Server struct {
	address   string
	port      int
	source    LogSource
	keepalive time.Duration

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	sessions map[*session]struct{}
	active   sync.WaitGroup
}

type Config struct {
	Address string
	Port    int
	Source  LogSource
	// KeepalivePeriod, when positive, enables TCP keepalive probes on
	// replica connections so a vanished peer is noticed even while the
	// stream idles. Zero leaves liveness to the transport.
	KeepalivePeriod time.Duration
}

func (c *Config) validate() error {
	var errGrp []error

	if c.Address == "" {
		errGrp = append(errGrp, errors.New("address is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errGrp = append(errGrp, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.Source == nil {
		errGrp = append(errGrp, errors.New("log source is required"))
	}

	return errors.Join(errGrp...)
}

// New returns a new primary server. It does not bind until Start.
func New(cfg *Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address:   cfg.Address,
		port:      cfg.Port,
		source:    cfg.Source,
		keepalive: cfg.KeepalivePeriod,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[*session]struct{}),
	}, nil
}

// Start binds the listening socket and begins accepting replica connections.
// It returns once bound; a port already in use surfaces here.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener

	log.Info().Str("address", listener.Addr().String()).Msg("replication primary listening")

	s.active.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.active.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("failed to accept replica connection")
			continue
		}
		s.startSession(conn)
	}
}

func (s *Server) startSession(conn net.Conn) {
	if s.keepalive > 0 {
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(s.keepalive)
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		source: s.source,
		dec:    wire.NewDecoder(conn),
		enc:    wire.NewEncoder(conn),
		ctx:    ctx,
		cancel: cancel,
		remove: s.dropSession,
	}

	s.mu.Lock()
	// A connection can be accepted concurrently with Stop; once the server
	// context is cancelled the close loop has already run, so registering
	// here would leak a session Stop never closes.
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	log.Info().Str("session", sess.id).Str("remote", conn.RemoteAddr().String()).
		Msg("replica connected")

	s.active.Add(1)
	go func() {
		defer s.active.Done()
		sess.run()
	}()
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// Addr returns the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every live session, then waits for the
// sessions to run down through their normal close path.
func (s *Server) Stop() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for sess := range s.sessions {
		_ = sess.conn.Close()
	}
	s.mu.Unlock()

	s.active.Wait()
	return err
}

// Name returns the name of the server.
func (s *Server) Name() string {
	return serverName
}
