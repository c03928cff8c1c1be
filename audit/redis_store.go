package audit

import (
	"context"
	"slices"

	"github.com/go-redis/redis/v8"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/json"
)

// DefaultKey is the Redis list holding the audit trail.
const DefaultKey = "workforce:audit"

// RedisStore keeps records in a capped Redis list, newest at the head.
type RedisStore struct {
	client    redis.UniversalClient
	key       string
	retention int
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, key string, retention int) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, key: key, retention: retention}
}

// Append pushes rec and trims the list in one transaction.
func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeInvalid, "encode audit record")
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, raw)
		pipe.LTrim(ctx, s.key, 0, int64(s.retention-1))
		return nil
	})
	if err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeBackend, "append audit record").
			WithDetail("key", s.key)
	}
	return nil
}

// Recent skips entries that no longer decode rather than failing the read.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	items, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeBackend, "read audit records").
			WithDetail("key", s.key)
	}

	out := make([]Record, 0, len(items))
	for _, item := range items {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, errors.WrapWithType(err, errors.ErrorTypeBackend, "count audit records")
	}
	return int(n), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeBackend, "ping audit store")
	}
	return nil
}

// Verify fails when the key exists with a type other than list.
func (s *RedisStore) Verify(ctx context.Context) error {
	typ, err := s.client.Type(ctx, s.key).Result()
	if err != nil {
		return errors.WrapWithType(err, errors.ErrorTypeBackend, "inspect audit key")
	}
	if typ != "none" && typ != "list" {
		return errors.NewInvalid("key", s.key, "holds a "+typ+", want a list")
	}
	return nil
}
