// Package ledger provides the opaque key/value store that offers are
// persisted in. Backends store raw bytes under string keys and know nothing
// about the values they hold.
package ledger

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ksred/fhenergy-api/internal/types"
)

// Ledger is the durable blob store. GetData returns nil without error when
// the key has never been written.
type Ledger interface {
	IsAvailable(ctx context.Context) bool
	GetData(ctx context.Context, key string) ([]byte, error)
	SetData(ctx context.Context, key string, value []byte) error
	// Address is the ledger's self-reported contract address.
	Address() string
}

// Swapper is implemented by ledgers that can write a key conditionally.
// CompareAndSwap stores next only if the current value equals prev and
// reports whether the write happened. An empty prev matches an absent key.
type Swapper interface {
	CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error)
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %v", types.ErrStorageUnavailable, op, key, err)
}

func sameValue(a, b []byte) bool {
	return bytes.Equal(a, b)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
