package txlog

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const storeName = "transaction log"

// Store is the in-process committed-transaction log the primary streams from.
// It is append-only: transactions are immutable once committed, and any number
// of readers iterate it concurrently without locking each other out.
type Store struct {
	mu     sync.RWMutex
	txns   []*Transaction
	head   Tid
	commit chan struct{} // closed and replaced on every commit
	closed bool

	blobs   bool
	journal *Journal
	now     func() time.Time
}

type Config struct {
	// Blobs enables blob-backed changes. A store serving blobs requires
	// replicas to speak a blob-capable protocol version.
	Blobs bool
	// Journal, when set, durably records every commit and is replayed on
	// Start.
	Journal *Journal
}

func (c *Config) validate() error {
	// Both fields are optional.
	return nil
}

func New(cfg *Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Store{
		commit:  make(chan struct{}),
		blobs:   cfg.Blobs,
		journal: cfg.Journal,
		now:     time.Now,
	}, nil
}

// BlobsEnabled reports whether the store serves blob-backed changes.
func (s *Store) BlobsEnabled() bool { return s.blobs }

// Head returns the id of the newest committed transaction, zero when the log
// is empty.
func (s *Store) Head() Tid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// Commit assigns the next time-derived tid to txn, records it durably when a
// journal is configured, appends it to the log, and wakes every waiting
// reader. The assigned tid is strictly greater than every tid committed
// before it.
func (s *Store) Commit(txn *Transaction) (Tid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	if !s.blobs {
		for _, c := range txn.Changes {
			if c.Blob != nil {
				return 0, newError(ErrBlobsDisabled, "oid %d", c.Oid)
			}
		}
	}

	txn.ID = s.nextTid()
	if txn.Status == 0 {
		txn.Status = StatusNormal
	}
	for i := range txn.Changes {
		txn.Changes[i].Serial = txn.ID
	}

	if s.journal != nil {
		if err := s.journal.Append(txn); err != nil {
			return 0, err
		}
	}

	s.append(txn)
	return txn.ID, nil
}

// Restore appends an already-identified transaction, typically during journal
// replay. The id must advance the log head.
func (s *Store) Restore(txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if txn.ID <= s.head {
		return newError(ErrOutOfOrder, "tid %v not after head %v", txn.ID, s.head)
	}
	s.append(txn)
	return nil
}

// append must be called with the write lock held.
func (s *Store) append(txn *Transaction) {
	s.txns = append(s.txns, txn)
	s.head = txn.ID

	// Broadcast: everyone selecting on the old channel wakes up.
	close(s.commit)
	s.commit = make(chan struct{})
}

// nextTid must be called with the write lock held. Tids track wall-clock
// nanoseconds but never move backwards, so a clock step cannot reorder the
// log.
func (s *Store) nextTid() Tid {
	t := Tid(s.now().UnixNano())
	if t <= s.head {
		t = s.head + 1
	}
	return t
}

// watch returns a channel closed at the next commit.
func (s *Store) watch() (<-chan struct{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commit, s.closed
}

// after returns the first committed transaction with id > id, if any.
func (s *Store) after(id Tid) (*Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := sort.Search(len(s.txns), func(i int) bool {
		return s.txns[i].ID > id
	})
	if i == len(s.txns) {
		return nil, false
	}
	return s.txns[i], true
}

// Start replays the configured journal into the store.
func (s *Store) Start() error {
	if s.journal == nil {
		return nil
	}

	var n int
	err := s.journal.Replay(func(txn *Transaction) error {
		if err := s.Restore(txn); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int("transactions", n).Str("head", s.Head().String()).
			Msg("transaction log restored from journal")
	}
	return nil
}

// Stop closes the store: waiting readers wake with ErrStoreClosed and further
// commits are refused.
func (s *Store) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.commit)
	s.commit = make(chan struct{})
	s.mu.Unlock()

	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

// Name returns the name of the store.
func (s *Store) Name() string {
	return storeName
}
