package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
)

var (
	bucketRequests = []byte("purchase_requests")
	bucketNumbers  = []byte("pr_numbers")
	bucketByNumber = []byte("pr_by_number")
)

// BoltStore persists purchase requests in an embedded BoltDB file, one JSON
// document per request. Bolt allows a single writer at a time, so every
// Update is serialised and the read-modify-write inside it is atomic.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to open bolt store")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRequests, bucketNumbers, bucketByNumber} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to initialise bolt buckets")
	}
	return &BoltStore{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(_ context.Context, pr *PurchaseRequest) error {
	if pr.Version == 0 {
		pr.Version = 1
	}
	data, err := json.Marshal(pr)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode purchase request")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		if b.Get([]byte(pr.ID)) != nil {
			return errors.New(errors.ErrCodeConflict, "purchase request already exists").WithDetail("id", pr.ID)
		}
		idx := tx.Bucket(bucketByNumber)
		if idx.Get([]byte(pr.Number)) != nil {
			return errors.New(errors.ErrCodeConflict, "purchase request number already used").WithDetail("number", pr.Number)
		}
		if err := idx.Put([]byte(pr.Number), []byte(pr.ID)); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to index purchase request number")
		}
		if err := b.Put([]byte(pr.ID), data); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to store purchase request")
		}
		return nil
	})
}

func (s *BoltStore) Get(_ context.Context, id string) (*PurchaseRequest, error) {
	var pr *PurchaseRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		pr, err = decodeRequest(tx.Bucket(bucketRequests).Get([]byte(id)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// Update runs fn inside a bolt write transaction. Returning an error from fn
// rolls the transaction back and leaves the stored document untouched.
func (s *BoltStore) Update(_ context.Context, id string, fn func(pr *PurchaseRequest) error) (*PurchaseRequest, error) {
	var updated *PurchaseRequest
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		pr, err := decodeRequest(b.Get([]byte(id)), id)
		if err != nil {
			return err
		}

		prevVersion := pr.Version
		if err := fn(pr); err != nil {
			return err
		}
		pr.Version = prevVersion + 1

		data, err := json.Marshal(pr)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode purchase request")
		}
		if err := b.Put([]byte(id), data); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to store purchase request")
		}
		updated = pr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *BoltStore) List(_ context.Context, filter ListFilter) ([]*PurchaseRequest, int, error) {
	var all []*PurchaseRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(k, v []byte) error {
			pr, err := decodeRequest(v, string(k))
			if err != nil {
				return err
			}
			all = append(all, pr)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	page, total := filterAndPage(all, filter)
	return page, total, nil
}

// NextNumber uses a nested bucket per department so its bolt sequence acts as
// the department counter.
func (s *BoltStore) NextNumber(_ context.Context, department string) (int64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketNumbers).CreateBucketIfNotExists([]byte(strings.ToUpper(department)))
		if err != nil {
			return err
		}
		seq, err = b.NextSequence()
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to allocate purchase request number")
	}
	return int64(seq), nil
}

func decodeRequest(data []byte, id string) (*PurchaseRequest, error) {
	if data == nil {
		return nil, errors.NotFound("purchase_request", id)
	}
	var pr PurchaseRequest
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to decode purchase request")
	}
	return &pr, nil
}
