package ledger

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// redisCompareAndSwapScript swaps a key atomically.
// KEYS[1] = ledger key
// ARGV[1] = expected current value ("" matches a missing key)
// ARGV[2] = new value
var redisCompareAndSwapScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == false then
    cur = ""
end
if cur ~= ARGV[1] then
    return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`)

// RedisLedger stores blobs as plain redis strings under the ledger key.
type RedisLedger struct {
	client  *redis.Client
	address string
}

func NewRedisLedger(addr, password string, db int, address string) *RedisLedger {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLedger{client: rdb, address: address}
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

func (l *RedisLedger) IsAvailable(ctx context.Context) bool {
	return l.client.Ping(ctx).Err() == nil
}

func (l *RedisLedger) GetData(ctx context.Context, key string) ([]byte, error) {
	val, err := l.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	return val, nil
}

func (l *RedisLedger) SetData(ctx context.Context, key string, value []byte) error {
	if err := l.client.Set(ctx, key, value, 0).Err(); err != nil {
		return unavailable("set", key, err)
	}
	return nil
}

func (l *RedisLedger) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	res, err := redisCompareAndSwapScript.Run(ctx, l.client, []string{key}, prev, next).Int()
	if err != nil {
		return false, unavailable("compare-and-swap", key, err)
	}
	return res == 1, nil
}

func (l *RedisLedger) Address() string {
	return l.address
}
