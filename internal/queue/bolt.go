package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

type boltQueue struct {
	db *bolt.DB
}

// NewBoltQueue returns a queue persisted in a bbolt database at path: one
// bucket per board, sequence-numbered keys preserving append order.
func NewBoltQueue(path string) (Queue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &boltQueue{db: db}, nil
}

func (q *boltQueue) Append(ctx context.Context, boardID string, write PendingWrite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(boardID) == "" {
		return ErrInvalidInput
	}
	if err := write.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(write)
	if err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(boardID))
		if err != nil {
			return err
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

func (q *boltQueue) All(ctx context.Context, boardID string) ([]PendingWrite, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []PendingWrite
	err := q.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(boardID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			var write PendingWrite
			if err := json.Unmarshal(value, &write); err != nil {
				return err
			}
			out = append(out, write)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (q *boltQueue) Clear(ctx context.Context, boardID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(boardID)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(boardID))
	})
}

func (q *boltQueue) Close() error {
	return q.db.Close()
}

// sequenceKey encodes a bucket sequence number big-endian so bbolt's byte
// ordering matches append order.
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
