package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jambasimaging/bizdesk/internal/common"
	"github.com/jambasimaging/bizdesk/internal/server/models"
	"github.com/jambasimaging/bizdesk/internal/timex"
	"github.com/redis/go-redis/v9"
)

// updateRetries bounds optimistic retries when a watched session changes
// under an Update.
const updateRetries = 5

// NewRedisClient parses a redis:// URL and returns a client for it.
func NewRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// RedisStore keeps each session as a JSON value that expires with the
// session itself.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	clock  timex.Clock
}

func NewRedisStore(client redis.UniversalClient, clock timex.Clock) *RedisStore {
	return &RedisStore{client: client, prefix: "bizdesk:session:", clock: clock}
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) decode(b []byte) (*models.CredentialSession, error) {
	s := &models.CredentialSession{}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.Expired(r.clock()) {
		return nil, common.ErrSessionNotFound
	}
	return s, nil
}

func (r *RedisStore) encode(s *models.CredentialSession) ([]byte, time.Duration, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, 0, fmt.Errorf("encode session: %w", err)
	}
	return b, s.ExpiresAt.Sub(r.clock()), nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.CredentialSession, error) {
	b, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	return r.decode(b)
}

func (r *RedisStore) Save(ctx context.Context, s *models.CredentialSession) error {
	b, ttl, err := r.encode(s)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return r.Delete(ctx, s.ID)
	}
	if err := r.client.Set(ctx, r.key(s.ID), b, ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Update is a WATCH/MULTI transaction on the session key, retried when a
// concurrent writer wins the race.
func (r *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*models.CredentialSession, error) {
	key := r.key(id)

	var (
		out    *models.CredentialSession
		fnErr  error
		txFunc = func(tx *redis.Tx) error {
			b, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return common.ErrSessionNotFound
			}
			if err != nil {
				return fmt.Errorf("redis error: %w", err)
			}
			s, err := r.decode(b)
			if err != nil {
				return err
			}

			save, ferr := fn(s)
			out, fnErr = s, ferr
			if !save {
				return nil
			}

			data, ttl, err := r.encode(s)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				if ttl <= 0 {
					p.Del(ctx, key)
					return nil
				}
				p.Set(ctx, key, data, ttl)
				return nil
			})
			return err
		}
	)

	for i := 0; i < updateRetries; i++ {
		err := r.client.Watch(ctx, txFunc, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, fnErr
	}
	return nil, fmt.Errorf("redis error: session %s: too much contention", id)
}

// RedisLockoutStore keeps an attempt counter and a lock marker per identity.
// The counter's TTL is the attempt window; Reserve runs as a Lua script so
// processes sharing the Redis never race on one identity.
type RedisLockoutStore struct {
	client redis.UniversalClient
	prefix string
	clock  timex.Clock
}

func NewRedisLockoutStore(client redis.UniversalClient, clock timex.Clock) *RedisLockoutStore {
	return &RedisLockoutStore{client: client, prefix: "bizdesk:lockout:", clock: clock}
}

func (r *RedisLockoutStore) countKey(identity string) string { return r.prefix + identity + ":count" }
func (r *RedisLockoutStore) lockKey(identity string) string  { return r.prefix + identity + ":until" }

func (r *RedisLockoutStore) Get(ctx context.Context, identity string) (*models.LockoutCounter, error) {
	pipe := r.client.Pipeline()
	count := pipe.Get(ctx, r.countKey(identity))
	ttl := pipe.PTTL(ctx, r.countKey(identity))
	until := pipe.Get(ctx, r.lockKey(identity))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	now := r.clock()
	c := &models.LockoutCounter{Identity: identity}

	if n, err := count.Int(); err == nil {
		c.FailedAttempts = n
		if d := ttl.Val(); d > 0 {
			c.WindowEndsAt = now.Add(d)
		}
	}
	if v, err := until.Result(); err == nil {
		ns, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("lockout marker for %s: %w", identity, perr)
		}
		c.LockedUntil = time.Unix(0, ns).UTC()
	}
	return c, nil
}

// reserveScript checks the lock marker and counts the attempt in one step.
// KEYS: count, marker. ARGV: max, lockout in ms, marker value to set when
// this attempt reaches max. Replies {granted, attempts, marker}.
var reserveScript = redis.NewScript(`
local marker = redis.call('GET', KEYS[2])
if marker then
	return {0, tonumber(redis.call('GET', KEYS[1]) or '0'), marker}
end
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
if n >= tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[2])
	return {1, n, ARGV[3]}
end
return {1, n, ''}
`)

func (r *RedisLockoutStore) Reserve(ctx context.Context, identity string, max int, lockout time.Duration) (*models.LockoutCounter, bool, error) {
	now := r.clock()
	until := now.Add(lockout)
	keys := []string{r.countKey(identity), r.lockKey(identity)}
	reply, err := reserveScript.Run(ctx, r.client, keys,
		max, lockout.Milliseconds(), strconv.FormatInt(until.UnixNano(), 10)).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("redis error: %w", err)
	}
	if len(reply) != 3 {
		return nil, false, fmt.Errorf("redis error: unexpected reserve reply %v", reply)
	}

	granted, _ := reply[0].(int64)
	attempts, _ := reply[1].(int64)
	marker, _ := reply[2].(string)

	c := &models.LockoutCounter{Identity: identity, FailedAttempts: int(attempts)}
	if granted == 1 {
		c.WindowEndsAt = until
	}
	if marker != "" {
		ns, perr := strconv.ParseInt(marker, 10, 64)
		if perr != nil {
			return nil, false, fmt.Errorf("lockout marker for %s: %w", identity, perr)
		}
		c.LockedUntil = time.Unix(0, ns).UTC()
	}
	return c, granted == 1, nil
}

func (r *RedisLockoutStore) Reset(ctx context.Context, identity string) error {
	if err := r.client.Del(ctx, r.countKey(identity), r.lockKey(identity)).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}
