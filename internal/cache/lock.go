package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/studiolink/smshub/internal/util"
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock is a single-holder lease on a redis key shared by all instances.
type Lock struct {
	rdb LockClient
	key string
	ttl time.Duration
}

// LockClient is the redis surface Lock needs.
type LockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

func NewLock(rdb LockClient, key string, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// TryAcquire takes the lease if nobody holds it. The returned release func is
// safe to call after the lease expired.
func (l *Lock) TryAcquire(ctx context.Context) (release func(), ok bool, err error) {
	token := util.NewID()
	ok, err = l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		_ = unlockScript.Run(context.WithoutCancel(ctx), l.rdb, []string{l.key}, token).Err()
	}, true, nil
}
