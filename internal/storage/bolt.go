package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailwatch/internal/model"
	logx "tailwatch/pkg/logx"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTenants = []byte("tenants")
	bucketOrder   = []byte("tenant_order")
	bucketStates  = []byte("states")
)

// boltStore keeps each document as a bucket. Tenant order lives in its own
// bucket keyed by a big-endian sequence so cursor order equals insert order.
type boltStore struct {
	db  *bolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = filepath.Join(strings.TrimSpace(cfg.Dir), "tailwatch.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTenants, bucketOrder, bucketStates} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *boltStore) LoadTenants(ctx context.Context) ([]model.Tenant, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []model.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketTenants)
		return tx.Bucket(bucketOrder).ForEach(func(_, id []byte) error {
			raw := docs.Get(id)
			if raw == nil {
				return nil
			}
			var t model.Tenant
			if err := json.Unmarshal(raw, &t); err != nil {
				return fmt.Errorf("tenant %s: %w", id, err)
			}
			t.ID = string(id)
			out = append(out, t)
			return nil
		})
	})
	return out, err
}

func (s *boltStore) SaveTenants(ctx context.Context, tenants []model.Tenant) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payloads := make([][]byte, len(tenants))
	for i, t := range tenants {
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		payloads[i] = b
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := recreate(tx, bucketTenants); err != nil {
			return err
		}
		if err := recreate(tx, bucketOrder); err != nil {
			return err
		}
		docs := tx.Bucket(bucketTenants)
		order := tx.Bucket(bucketOrder)
		for i, t := range tenants {
			if err := docs.Put([]byte(t.ID), payloads[i]); err != nil {
				return err
			}
			if err := order.Put(seqKey(uint64(i)), []byte(t.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) LoadStates(ctx context.Context) (map[string]*model.NotificationState, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	out := map[string]*model.NotificationState{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStates).ForEach(func(k, v []byte) error {
			st := model.NewNotificationState()
			if err := json.Unmarshal(v, st); err != nil {
				return fmt.Errorf("state %s: %w", k, err)
			}
			out[string(k)] = st
			return nil
		})
	})
	return out, err
}

func (s *boltStore) SaveStates(ctx context.Context, states map[string]*model.NotificationState) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	ids := sortedStateIDs(states)
	payloads := make([][]byte, len(ids))
	for i, id := range ids {
		st := states[id]
		if st == nil {
			st = model.NewNotificationState()
		}
		b, err := json.Marshal(st)
		if err != nil {
			return err
		}
		payloads[i] = b
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := recreate(tx, bucketStates); err != nil {
			return err
		}
		bkt := tx.Bucket(bucketStates)
		for i, id := range ids {
			if err := bkt.Put([]byte(id), payloads[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// recreate empties a bucket inside the caller's transaction.
func recreate(tx *bolt.Tx, name []byte) error {
	if tx.Bucket(name) != nil {
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
	}
	_, err := tx.CreateBucket(name)
	return err
}

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
