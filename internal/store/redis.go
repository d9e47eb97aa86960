/**
 * @description
 * Redis implementation of the `Store` interface. This is the shared backend for
 * multi-instance deployments: the nonce check runs as a server-side Lua script so the
 * compare and the write cannot interleave with another instance, idempotency keys are
 * reserved with SET NX, and enqueue writes the job record and the queue entry in one
 * MULTI/EXEC block.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and script runner.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/remitchain/relayer-service/internal/domain"
)

var setNonceIfGreaterScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local incoming = tonumber(ARGV[1])
if incoming <= current then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// RedisStore keeps all relayer state under a common key prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "relayer"
	}
	return &RedisStore{client: client, prefix: trimmedPrefix}
}

// Client exposes the underlying connection for components that share it, such as the
// intake rate limiter.
func (r *RedisStore) Client() redis.UniversalClient { return r.client }

func (r *RedisStore) Backend() string { return BackendRedis }

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) queueKey() string { return r.prefix + ":queue" }

func (r *RedisStore) jobKey(id string) string { return r.prefix + ":job:" + id }

func (r *RedisStore) idempotencyKey(key string) string { return r.prefix + ":idempotency:" + key }

func (r *RedisStore) nonceKey(sender string) string { return r.prefix + ":nonce:" + sender }

func (r *RedisStore) SetNonceIfGreater(ctx context.Context, sender string, nonce uint64) (bool, error) {
	if err := checkNonce(nonce); err != nil {
		return false, err
	}
	result, err := setNonceIfGreaterScript.Run(ctx, r.client, []string{r.nonceKey(sender)}, strconv.FormatUint(nonce, 10)).Int64()
	if err != nil {
		return false, fmt.Errorf("nonce script: %w", err)
	}
	return result == 1, nil
}

func (r *RedisStore) CurrentNonce(ctx context.Context, sender string) (uint64, error) {
	raw, err := r.client.Get(ctx, r.nonceKey(sender)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt nonce for %s: %w", sender, err)
	}
	return value, nil
}

func (r *RedisStore) ReserveIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) (*domain.IdempotencyRecord, bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, err
	}
	redisKey := r.idempotencyKey(key)

	// The existing record can expire between SETNX and GET; retry a few times before
	// giving up.
	for i := 0; i < 3; i++ {
		reserved, err := r.client.SetNX(ctx, redisKey, data, ttl).Result()
		if err != nil {
			return nil, false, err
		}
		if reserved {
			return nil, true, nil
		}

		raw, err := r.client.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		var existing domain.IdempotencyRecord
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, false, fmt.Errorf("corrupt idempotency record %s: %w", key, err)
		}
		return &existing, false, nil
	}
	return nil, false, fmt.Errorf("idempotency key %s kept expiring during reservation", key)
}

func (r *RedisStore) CompleteIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.idempotencyKey(key), data, ttl).Err()
}

func (r *RedisStore) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.idempotencyKey(key)).Err()
}

func (r *RedisStore) EnqueueJob(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(job.ID), data, 0)
		pipe.RPush(ctx, r.queueKey(), job.ID)
		return nil
	})
	return err
}

func (r *RedisStore) RequeueJobFront(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(job.ID), data, 0)
		pipe.LPush(ctx, r.queueKey(), job.ID)
		return nil
	})
	return err
}

func (r *RedisStore) PopJobID(ctx context.Context) (string, bool, error) {
	id, err := r.client.LPop(ctx, r.queueKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r *RedisStore) SaveJob(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.jobKey(job.ID), data, 0).Err()
}

func (r *RedisStore) LoadJob(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := r.client.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", id, err)
	}
	return &job, nil
}

func (r *RedisStore) QueueDepth(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.queueKey()).Result()
}
