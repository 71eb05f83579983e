package filestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/starford/keloia/internal/apperr"
)

// Redis implements Client with one hash per path holding content and
// version. Writes run in an optimistic WATCH/MULTI transaction on the key,
// so a concurrent writer from any process fails the transaction.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis returns a Redis client storing keys under prefix.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) key(path string) string {
	return r.prefix + path
}

// Read implements Client.
func (r *Redis) Read(ctx context.Context, path string) (*File, error) {
	vals, err := r.rdb.HMGet(ctx, r.key(path), "content", "version").Result()
	if err != nil {
		return nil, &apperr.TransportError{Op: OpRead, Path: path, Err: err}
	}
	content, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, apperr.ErrNotFound)
	}
	version, _ := vals[1].(string)
	return &File{Path: path, Content: []byte(content), Version: version}, nil
}

// Write implements Client.
func (r *Redis) Write(ctx context.Context, req WriteRequest) error {
	key := r.key(req.Path)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		version, exists, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := checkWrite(req.Path, req.Version, version, exists); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "content", req.Content, "version", uuid.NewString())
			return nil
		})
		return err
	}, key)
	return r.outcome(err, OpWrite, req.Path, req.Version)
}

// Remove implements Client.
func (r *Redis) Remove(ctx context.Context, req RemoveRequest) error {
	key := r.key(req.Path)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		version, exists, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := checkRemove(req.Path, req.Version, version, exists); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	return r.outcome(err, OpRemove, req.Path, req.Version)
}

func currentVersion(ctx context.Context, tx *redis.Tx, key string) (string, bool, error) {
	v, err := tx.HGet(ctx, key, "version").Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) outcome(err error, op, path, expected string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return &apperr.ConflictError{Path: path, ExpectedVersion: expected}
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrNotFound):
		return err
	default:
		return &apperr.TransportError{Op: op, Path: path, Err: err}
	}
}
