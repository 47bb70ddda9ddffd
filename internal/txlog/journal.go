package txlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	defaultJournalDirectory = "journal"
	defaultJournalFile      = "transactions.log"

	replayBufferSize = 1 << 20
)

// Journal durably records committed transactions, one JSON entry per line.
// It exists so the primary can restore its log across restarts; replicas
// never read it.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	path string
}

type JournalConfig struct {
	// Path where the journal directory will be created
	Path string
}

func (c *JournalConfig) validate() error {
	var errGrp []error
	if c.Path == "" {
		errGrp = append(errGrp, errors.New("journal path cannot be empty"))
	}
	return errors.Join(errGrp...)
}

func NewJournal(cfg *JournalConfig) (*Journal, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	path := filepath.Join(cfg.Path, defaultJournalDirectory, defaultJournalFile)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Journal{
		file: file,
		path: path,
	}, nil
}

// Append records a committed transaction. The write happens before the
// transaction becomes visible to readers, so a replayed journal never
// contains a transaction the log did not expose.
func (j *Journal) Append(txn *Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	jsonData, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	if _, err = j.file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write to journal: %w", err)
	}

	return nil
}

// Replay reads the journal from the start and hands each transaction to
// apply, in recorded order. A malformed entry (for example a torn final
// write) is skipped with a warning rather than failing the replay. Entries
// are read line by line with no size cap: anything Append accepted must
// replay, blob transactions included.
func (j *Journal) Replay(apply func(*Transaction) error) error {
	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, replayBufferSize)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			var txn Transaction
			if err := json.Unmarshal(line, &txn); err != nil {
				log.Warn().Err(err).Msg("skipping malformed journal entry")
			} else if err := apply(&txn); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
