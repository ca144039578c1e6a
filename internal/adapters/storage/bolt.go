package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	bolt "go.etcd.io/bbolt"
)

var ordersBucket = []byte("orders")

const (
	orderPrefix = "order:"
	claimPrefix = "claim:"
)

var errStopTx = errors.New("stop")

// BoltStore implements ports.OrderStore on a bbolt file. Orders live under
// "order:<id>" and fill leases under "claim:<id>" in one bucket. bbolt runs a
// single writer transaction at a time, which makes create-if-absent and
// claim atomic.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens the database at path, creating it if needed.
func NewBoltStore(path string, opts *bolt.Options) (*BoltStore, error) {
	if opts == nil {
		opts = &bolt.Options{Timeout: time.Second}
	}
	db, err := bolt.Open(path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("storage.NewBoltStore: open %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(ordersBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewBoltStore: init bucket: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func orderKey(id string) []byte { return []byte(orderPrefix + id) }
func claimKey(id string) []byte { return []byte(claimPrefix + id) }

func (s *BoltStore) Create(_ context.Context, order domain.StoredOrder) error {
	record, err := encodeOrder(order)
	if err != nil {
		return fmt.Errorf("storage.Create: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ordersBucket)
		if b.Get(orderKey(order.ID)) != nil {
			return domain.ErrConflict
		}
		return b.Put(orderKey(order.ID), record)
	})
	if errors.Is(err, domain.ErrConflict) {
		return err
	}
	if err != nil {
		return fmt.Errorf("storage.Create: put %s: %w", order.ID, err)
	}
	return nil
}

func (s *BoltStore) Get(_ context.Context, id string) (domain.StoredOrder, error) {
	var record []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(ordersBucket).Get(orderKey(id)); v != nil {
			record = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return domain.StoredOrder{}, fmt.Errorf("storage.Get: %s: %w", id, err)
	}
	if record == nil {
		return domain.StoredOrder{}, domain.ErrNotFound
	}
	order, err := decodeOrder(record)
	if err != nil {
		return domain.StoredOrder{}, fmt.Errorf("storage.Get: %w", err)
	}
	return order, nil
}

// List scans the "order:" prefix; results come back in key order.
func (s *BoltStore) List(_ context.Context) ([]domain.StoredOrder, error) {
	var out []domain.StoredOrder
	prefix := []byte(orderPrefix)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(ordersBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			order, err := decodeOrder(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			out = append(out, order)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage.List: %w", err)
	}
	return out, nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ordersBucket)
		if err := b.Delete(orderKey(id)); err != nil {
			return err
		}
		return b.Delete(claimKey(id))
	}); err != nil {
		return fmt.Errorf("storage.Delete: %s: %w", id, err)
	}
	return nil
}

func (s *BoltStore) Claim(_ context.Context, id, owner string, ttl time.Duration) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ordersBucket)
		if b.Get(orderKey(id)) == nil {
			return domain.ErrNotFound
		}
		now := s.now()
		if raw := b.Get(claimKey(id)); raw != nil {
			var c claim
			if err := json.Unmarshal(raw, &c); err != nil {
				return fmt.Errorf("decode claim: %w", err)
			}
			if c.activeAt(now) {
				return domain.ErrAlreadyFilling
			}
		}
		raw, err := json.Marshal(claim{Owner: owner, ExpiresAt: now.Add(ttl)})
		if err != nil {
			return err
		}
		return b.Put(claimKey(id), raw)
	})
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyFilling) {
		return err
	}
	if err != nil {
		return fmt.Errorf("storage.Claim: %s: %w", id, err)
	}
	return nil
}

func (s *BoltStore) Release(_ context.Context, id, owner string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ordersBucket)
		raw := b.Get(claimKey(id))
		if raw == nil {
			return errStopTx
		}
		var c claim
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("decode claim: %w", err)
		}
		if c.Owner != owner {
			return errStopTx
		}
		return b.Delete(claimKey(id))
	})
	if err != nil && !errors.Is(err, errStopTx) {
		return fmt.Errorf("storage.Release: %s: %w", id, err)
	}
	return nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
