package cache

import (
	"context"
	"time"

	"storefront/internal/usecase"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 自分のトークンが入っているときだけ消す
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// 処理中の冪等キーを SETNX で押さえる。TTLが切れたら自動で外れる。
// 値は取得ごとのトークンで、解除は取得した本人だけができる。
type RedisIdempotencyLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotencyLock(rdb *redis.Client, ttl time.Duration) *RedisIdempotencyLock {
	return &RedisIdempotencyLock{rdb: rdb, ttl: ttl}
}

func lockKey(scope, key string) string {
	return "idemp:order:" + scope + ":" + key
}

func (l *RedisIdempotencyLock) TryLock(ctx context.Context, scope, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKey(scope, key), token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// TTL切れの後に別のリクエストが取ったロックは消さない
func (l *RedisIdempotencyLock) Unlock(ctx context.Context, scope, key, token string) error {
	return unlockScript.Run(ctx, l.rdb, []string{lockKey(scope, key)}, token).Err()
}

var _ usecase.IdempotencyLocker = (*RedisIdempotencyLock)(nil)
