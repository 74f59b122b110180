// Package boltcache persists embedding vectors in a bbolt database.
// Each embedding model gets its own top-level bucket keyed by the embedded
// text, so vectors from different models never mix.
package boltcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"yashubustudio/termmap/resolver"
)

var errCorruptValue = errors.New("boltcache: corrupt vector value")

// Store implements resolver.VectorStore backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ resolver.VectorStore = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveVectors replaces the model's bucket with the given snapshot.
func (s *Store) SaveVectors(ctx context.Context, modelID string, vectors []resolver.CachedVector) error {
	if modelID == "" {
		return errors.New("boltcache: model id is required")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		name := []byte(modelID)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		for i, cv := range vectors {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if cv.Text == "" || len(cv.Vector) == 0 {
				continue
			}
			if err := b.Put([]byte(cv.Text), encodeValue(cv.Seq, cv.Vector)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadVectors returns the model's vectors in insertion order. A model that
// was never saved yields no vectors.
func (s *Store) LoadVectors(ctx context.Context, modelID string) ([]resolver.CachedVector, error) {
	var out []resolver.CachedVector
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(modelID))
		if b == nil {
			return nil
		}
		out = make([]resolver.CachedVector, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			seq, vec, err := decodeValue(v)
			if err != nil {
				return fmt.Errorf("%w: key %q", err, k)
			}
			out = append(out, resolver.CachedVector{Text: string(k), Vector: vec, Seq: seq})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Drop deletes every vector stored for modelID.
func (s *Store) Drop(modelID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		name := []byte(modelID)
		if tx.Bucket(name) == nil {
			return nil
		}
		return tx.DeleteBucket(name)
	})
}

// ModelStats reports the number of vectors stored per model.
func (s *Store) ModelStats() (map[string]int, error) {
	stats := make(map[string]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			stats[string(name)] = b.Stats().KeyN
			return nil
		})
	})
	return stats, err
}

// value layout: seq uint64 | dim uint32 | dim x float32, little endian.
func encodeValue(seq uint64, vec []float32) []byte {
	buf := make([]byte, 12+4*len(vec))
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(vec)))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[12+4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeValue(v []byte) (uint64, []float32, error) {
	if len(v) < 12 {
		return 0, nil, errCorruptValue
	}
	seq := binary.LittleEndian.Uint64(v[0:8])
	dim := int(binary.LittleEndian.Uint32(v[8:12]))
	if len(v) != 12+4*dim {
		return 0, nil, errCorruptValue
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(v[12+4*i:]))
	}
	return seq, vec, nil
}
