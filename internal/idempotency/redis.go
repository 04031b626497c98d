package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Values are "p|<fingerprint>|<nonce>" while pending and
// "d|<fingerprint>|<order id>" once completed. The pending value doubles as
// the claim token.
const (
	pendingTag = "p"
	doneTag    = "d"
	sep        = "|"
)

var (
	completeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisStore is a Store shared between instances through Redis.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	pendingTTL time.Duration
	ttl        time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a RedisStore keeping keys under prefix. Pending
// claims expire after pendingTTL and completed keys after ttl.
func NewRedisStore(client *redis.Client, prefix string, pendingTTL, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, pendingTTL: pendingTTL, ttl: ttl}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

func encodeValue(tag, fingerprint, value string) string {
	return tag + sep + fingerprint + sep + value
}

func decodeValue(v string) (tag, fingerprint, value string, err error) {
	parts := strings.SplitN(v, sep, 3)
	if len(parts) != 3 {
		return "", "", "", errors.Errorf("malformed idempotency value %q", v)
	}
	return parts[0], parts[1], parts[2], nil
}

func (s *RedisStore) Begin(ctx context.Context, key, fingerprint string) (Claim, error) {
	token := encodeValue(pendingTag, fingerprint, uuid.NewString())

	// A key may expire between SetNX and Get, so retry once.
	for range 2 {
		ok, err := s.client.SetNX(ctx, s.key(key), token, s.pendingTTL).Result()
		if err != nil {
			return Claim{}, errors.Wrap(err, "claim key")
		}
		if ok {
			return Claim{Token: token}, nil
		}

		v, err := s.client.Get(ctx, s.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Claim{}, errors.Wrap(err, "read key")
		}

		tag, fp, value, err := decodeValue(v)
		if err != nil {
			return Claim{}, err
		}
		switch {
		case fp != fingerprint:
			return Claim{}, ErrKeyReused
		case tag == pendingTag:
			return Claim{}, ErrInFlight
		default:
			return Claim{OrderID: value}, nil
		}
	}
	return Claim{}, ErrInFlight
}

func (s *RedisStore) Complete(ctx context.Context, key, token, orderID string) error {
	_, fingerprint, _, err := decodeValue(token)
	if err != nil {
		return err
	}

	done := encodeValue(doneTag, fingerprint, orderID)
	n, err := completeScript.Run(ctx, s.client, []string{s.key(key)}, token, done, s.ttl.Milliseconds()).Int()
	if err != nil {
		return errors.Wrap(err, "complete key")
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(key)}, token).Err(); err != nil {
		return errors.Wrap(err, "release key")
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
