package gamestate

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"pkg.purge.dev/purge-engine/codec"
)

// Storage reads and writes snapshots under a namespaced redis key, so multiple engine
// instances can share one redis.
type Storage struct {
	client    redis.Cmdable
	namespace string
}

func NewStorage(client redis.Cmdable, namespace string) *Storage {
	return &Storage{
		client:    client,
		namespace: namespace,
	}
}

func (s *Storage) snapshotKey() string {
	return "purge:" + s.namespace + ":snapshot"
}

// SaveSnapshot overwrites the stored snapshot atomically (a single SET).
func (s *Storage) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	bz, err := codec.Encode(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.snapshotKey(), bz, 0).Err(); err != nil {
		return eris.Wrap(err, "save snapshot")
	}
	return nil
}

// LoadSnapshot returns the stored snapshot, or found=false when none exists.
func (s *Storage) LoadSnapshot(ctx context.Context) (snap *Snapshot, found bool, err error) {
	bz, err := s.client.Get(ctx, s.snapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "load snapshot")
	}
	decoded, err := codec.Decode[Snapshot](bz)
	if err != nil {
		return nil, false, err
	}
	return &decoded, true, nil
}

// Clear deletes the stored snapshot.
func (s *Storage) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.snapshotKey()).Err(); err != nil {
		return eris.Wrap(err, "clear snapshot")
	}
	return nil
}
