package txlog

import "context"

// Iterator is an independent cursor over the committed log. Each session holds
// its own; iterators never block one another.
type Iterator struct {
	store *Store
	pos   Tid // id of the last transaction returned
}

// Iterate returns a cursor yielding every committed transaction with id
// strictly greater than after, in commit order. Passing the zero tid replays
// the whole log.
func (s *Store) Iterate(after Tid) *Iterator {
	return &Iterator{store: s, pos: after}
}

// Next returns the next committed transaction. When the cursor is caught up
// with the log head it blocks until a new transaction commits, the store is
// closed, or ctx is done. The returned transaction is shared and read-only.
func (it *Iterator) Next(ctx context.Context) (*Transaction, error) {
	for {
		if txn, ok := it.store.after(it.pos); ok {
			it.pos = txn.ID
			return txn, nil
		}

		ch, closed := it.store.watch()
		if closed {
			return nil, ErrStoreClosed
		}
		// A commit may have landed between the miss and grabbing the
		// channel.
		if txn, ok := it.store.after(it.pos); ok {
			it.pos = txn.ID
			return txn, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// TryNext is the non-blocking variant of Next; ok is false when the cursor is
// caught up.
func (it *Iterator) TryNext() (*Transaction, bool) {
	txn, ok := it.store.after(it.pos)
	if ok {
		it.pos = txn.ID
	}
	return txn, ok
}

// Pos returns the id of the last transaction the cursor delivered.
func (it *Iterator) Pos() Tid { return it.pos }
