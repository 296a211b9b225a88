package offers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/rs/zerolog/log"

	"github.com/ksred/fhenergy-api/internal/ledger"
	"github.com/ksred/fhenergy-api/internal/types"
)

// Ledger keys. Other collaborators read these directly, so the names are fixed.
const (
	IndexKey        = "energy_keys"
	recordKeyPrefix = "energy_"
)

// defaultAppendAttempts bounds index append retries on compare-and-swap conflicts.
const defaultAppendAttempts = 8

// RecordKey returns the ledger key holding the record with the given id.
func RecordKey(id string) string {
	return recordKeyPrefix + id
}

// Diagnostic describes a blob that could not be used. It never aborts a listing.
type Diagnostic struct {
	Key     string `json:"key"`
	Problem string `json:"problem"`
}

func (d Diagnostic) String() string {
	return d.Key + ": " + d.Problem
}

// storedRecord is the serialized shape of a record blob. Pointer fields are
// required; a nil after decoding means the field was missing.
type storedRecord struct {
	Energy      *string           `json:"energy"`
	Price       *string           `json:"price"`
	Timestamp   *int64            `json:"timestamp"`
	Owner       *string           `json:"owner"`
	Type        *types.OfferType  `json:"type"`
	Status      types.OrderStatus `json:"status,omitempty"`
	MatchedWith string            `json:"matchedWith,omitempty"`
}

func encodeRecord(rec *types.OrderRecord) ([]byte, error) {
	stored := storedRecord{
		Energy:      &rec.EncryptedEnergy,
		Price:       &rec.EncryptedPrice,
		Timestamp:   &rec.Timestamp,
		Owner:       &rec.Owner,
		Type:        &rec.Type,
		Status:      rec.Status,
		MatchedWith: rec.MatchedWith,
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

func decodeRecord(id string, raw []byte) (*types.OrderRecord, error) {
	var stored storedRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&stored); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedData, err)
	}

	var missing []string
	if stored.Energy == nil || *stored.Energy == "" {
		missing = append(missing, "energy")
	}
	if stored.Price == nil || *stored.Price == "" {
		missing = append(missing, "price")
	}
	if stored.Timestamp == nil {
		missing = append(missing, "timestamp")
	}
	if stored.Owner == nil || *stored.Owner == "" {
		missing = append(missing, "owner")
	}
	if stored.Type == nil {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields %v", types.ErrMalformedData, missing)
	}

	// Records written before status tracking have no status field.
	status := stored.Status
	if status == "" {
		status = types.StatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrMalformedData, status)
	}
	if !stored.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", types.ErrMalformedData, *stored.Type)
	}
	if stored.MatchedWith != "" && status == types.StatusPending {
		return nil, fmt.Errorf("%w: pending record carries matchedWith", types.ErrMalformedData)
	}

	return &types.OrderRecord{
		ID:              id,
		EncryptedEnergy: *stored.Energy,
		EncryptedPrice:  *stored.Price,
		Timestamp:       *stored.Timestamp,
		Owner:           *stored.Owner,
		Type:            *stored.Type,
		Status:          status,
		MatchedWith:     stored.MatchedWith,
	}, nil
}

// Store maps record ids to records kept as blobs in the ledger and
// maintains the key index. All mutations go through mu; when the ledger
// supports compare-and-swap, writes are conditional as well so that other
// processes sharing the ledger cannot silently overwrite them.
type Store struct {
	ledger         ledger.Ledger
	mu             sync.Mutex
	appendAttempts int
}

func NewStore(l ledger.Ledger) *Store {
	return &Store{
		ledger:         l,
		appendAttempts: defaultAppendAttempts,
	}
}

// Ledger returns the backing ledger.
func (s *Store) Ledger() ledger.Ledger {
	return s.ledger
}

// ListIDs returns the ids in the key index. A missing or empty index is an
// empty market; a malformed one is reported as a diagnostic and read as empty.
func (s *Store) ListIDs(ctx context.Context) ([]string, []Diagnostic, error) {
	ids, _, diag, err := s.readIndex(ctx)
	if err != nil {
		return nil, nil, err
	}
	if diag != nil {
		return ids, []Diagnostic{*diag}, nil
	}
	return ids, nil, nil
}

// Get reads one record. Absent records return nil; malformed ones return
// nil with a diagnostic. Only ledger failures are errors.
func (s *Store) Get(ctx context.Context, id string) (*types.OrderRecord, *Diagnostic, error) {
	rec, _, diag, err := s.read(ctx, id)
	return rec, diag, err
}

// Put writes a record blob without touching the index. An existing record
// keeps its id, ciphertexts, timestamp, owner and type; Put fails with
// ErrValidation if rec would change them.
func (s *Store) Put(ctx context.Context, rec *types.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, raw, _, err := s.read(ctx, rec.ID)
	if err != nil {
		return err
	}
	if current != nil {
		if err := checkImmutable(current, rec); err != nil {
			return err
		}
	}
	return s.write(ctx, rec, raw)
}

// AppendToIndex adds id to the key index unless it is already present.
func (s *Store) AppendToIndex(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendToIndex(ctx, id)
}

// Create appends the record's id to the index and then writes the record.
// It never replaces an existing record: an id that is already taken fails
// with ErrConcurrentModification.
func (s *Store) Create(ctx context.Context, rec *types.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.ledger.GetData(ctx, RecordKey(rec.ID))
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: record %s already exists", types.ErrConcurrentModification, rec.ID)
	}
	if err := s.appendToIndex(ctx, rec.ID); err != nil {
		return fmt.Errorf("append %s to index: %w", rec.ID, err)
	}
	if err := s.write(ctx, rec, nil); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	return nil
}

// Update applies fn to the current record and writes the result back. fn
// sees a copy and may only change status and matchedWith. If the blob
// changes between the read and the write, Update fails with
// ErrConcurrentModification and nothing is written.
func (s *Store) Update(ctx context.Context, id string, fn func(rec *types.OrderRecord) error) (*types.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, raw, diag, err := s.read(ctx, id)
	if err != nil {
		return nil, err
	}
	if diag != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrMalformedData, diag.Problem)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, id)
	}

	next := *current
	if err := fn(&next); err != nil {
		return nil, err
	}
	if err := checkImmutable(current, &next); err != nil {
		return nil, err
	}

	if err := s.write(ctx, &next, raw); err != nil {
		return nil, err
	}
	return &next, nil
}

// ListAll loads every indexed record, newest first. Records sharing a
// timestamp keep index order. Missing and malformed records are skipped and
// reported as diagnostics.
func (s *Store) ListAll(ctx context.Context) ([]types.OrderRecord, []Diagnostic, error) {
	ids, diags, err := s.ListIDs(ctx)
	if err != nil {
		return nil, nil, err
	}

	records := make([]types.OrderRecord, 0, len(ids))
	for _, id := range ids {
		rec, diag, err := s.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if diag != nil {
			diags = append(diags, *diag)
			continue
		}
		if rec == nil {
			diags = append(diags, Diagnostic{Key: RecordKey(id), Problem: "indexed record is missing"})
			continue
		}
		records = append(records, *rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	return records, diags, nil
}

func (s *Store) read(ctx context.Context, id string) (*types.OrderRecord, []byte, *Diagnostic, error) {
	key := RecordKey(id)
	raw, err := s.ledger.GetData(ctx, key)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(raw) == 0 {
		return nil, raw, nil, nil
	}
	rec, err := decodeRecord(id, raw)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("skipping malformed record")
		return nil, raw, &Diagnostic{Key: key, Problem: err.Error()}, nil
	}
	return rec, raw, nil, nil
}

// write stores rec if its blob still equals expected; an empty expected
// means the record must not exist yet. Every record write goes through here.
// Ledgers without compare-and-swap get the same check from a read under mu.
func (s *Store) write(ctx context.Context, rec *types.OrderRecord, expected []byte) error {
	key := RecordKey(rec.ID)
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	if swapper, ok := s.ledger.(ledger.Swapper); ok {
		swapped, err := swapper.CompareAndSwap(ctx, key, expected, encoded)
		if err != nil {
			return err
		}
		if !swapped {
			return fmt.Errorf("%w: %s changed underneath the write", types.ErrConcurrentModification, key)
		}
		return nil
	}

	current, err := s.ledger.GetData(ctx, key)
	if err != nil {
		return err
	}
	if !bytes.Equal(current, expected) {
		return fmt.Errorf("%w: %s changed underneath the write", types.ErrConcurrentModification, key)
	}
	return s.ledger.SetData(ctx, key, encoded)
}

// readIndex returns the deduplicated ids along with the raw blob they were
// decoded from.
func (s *Store) readIndex(ctx context.Context) ([]string, []byte, *Diagnostic, error) {
	raw, err := s.ledger.GetData(ctx, IndexKey)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []string{}, raw, nil, nil
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		log.Warn().Err(err).Str("key", IndexKey).Msg("key index is malformed, treating as empty")
		return []string{}, raw, &Diagnostic{
			Key:     IndexKey,
			Problem: fmt.Sprintf("%v: %v", types.ErrMalformedData, err),
		}, nil
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	return unique, raw, nil, nil
}

func (s *Store) appendToIndex(ctx context.Context, id string) error {
	swapper, atomic := s.ledger.(ledger.Swapper)

	for attempt := 0; attempt < s.appendAttempts; attempt++ {
		ids, raw, _, err := s.readIndex(ctx)
		if err != nil {
			return err
		}
		for _, existing := range ids {
			if existing == id {
				return nil
			}
		}

		encoded, err := json.Marshal(append(ids, id))
		if err != nil {
			return err
		}
		if !atomic {
			return s.ledger.SetData(ctx, IndexKey, encoded)
		}

		swapped, err := swapper.CompareAndSwap(ctx, IndexKey, raw, encoded)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
		log.Debug().Str("id", id).Int("attempt", attempt+1).Msg("key index changed underneath append, retrying")
	}
	return fmt.Errorf("%w: key index kept changing", types.ErrConcurrentModification)
}

var errImmutableField = errors.New("immutable field changed")

func checkImmutable(before, after *types.OrderRecord) error {
	if before.ID != after.ID ||
		before.EncryptedEnergy != after.EncryptedEnergy ||
		before.EncryptedPrice != after.EncryptedPrice ||
		before.Timestamp != after.Timestamp ||
		before.Owner != after.Owner ||
		before.Type != after.Type {
		return fmt.Errorf("%w: %w", types.ErrValidation, errImmutableField)
	}
	return nil
}
