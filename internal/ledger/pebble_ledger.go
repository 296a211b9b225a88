package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"
)

var errClosed = errors.New("pebble ledger closed")

// PebbleLedger stores blobs in an embedded pebble database. Pebble allows
// a single process per directory, so the mutex is enough to make
// CompareAndSwap atomic.
type PebbleLedger struct {
	mu      sync.Mutex
	db      *pebble.DB
	address string
}

func OpenPebble(dir, address string) (*PebbleLedger, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleLedger{db: db, address: address}, nil
}

func (l *PebbleLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func (l *PebbleLedger) IsAvailable(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db != nil && ctx.Err() == nil
}

func (l *PebbleLedger) GetData(ctx context.Context, key string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(ctx, key)
}

func (l *PebbleLedger) SetData(ctx context.Context, key string, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.set(ctx, key, value)
}

func (l *PebbleLedger) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, err := l.get(ctx, key)
	if err != nil {
		return false, err
	}
	if !sameValue(cur, prev) {
		return false, nil
	}
	if err := l.set(ctx, key, next); err != nil {
		return false, err
	}
	return true, nil
}

func (l *PebbleLedger) Address() string {
	return l.address
}

func (l *PebbleLedger) get(ctx context.Context, key string) ([]byte, error) {
	if err := l.check(ctx); err != nil {
		return nil, unavailable("get", key, err)
	}
	val, closer, err := l.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	defer closer.Close()
	return clone(val), nil
}

func (l *PebbleLedger) set(ctx context.Context, key string, value []byte) error {
	if err := l.check(ctx); err != nil {
		return unavailable("set", key, err)
	}
	if err := l.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (l *PebbleLedger) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.db == nil {
		return errClosed
	}
	return nil
}
