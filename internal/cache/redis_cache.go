package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/campus-parking/internal/scoring"
)

// Redis backs ScoreCache with a shared Redis so multiple API processes
// see the same scores and invalidations. Each user has a set of the
// keys their profile participated in; invalidation deletes the set's
// members.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	ctx    context.Context
}

func NewRedis(addr, password string, ttl time.Duration) *Redis {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &Redis{client: c, ttl: ttl, ctx: context.Background()}
}

func userKeysKey(userID string) string { return "score:user:" + userID }

func (r *Redis) Get(key string) (scoring.Score, bool) {
	b, err := r.client.Get(r.ctx, key).Bytes()
	if err != nil {
		return scoring.Score{}, false
	}
	var s scoring.Score
	if err := json.Unmarshal(b, &s); err != nil {
		return scoring.Score{}, false
	}
	return s, true
}

func (r *Redis) Set(key string, users []string, s scoring.Score) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	pipe := r.client.Pipeline()
	pipe.Set(r.ctx, key, b, r.ttl)
	for _, u := range users {
		pipe.SAdd(r.ctx, userKeysKey(u), key)
		pipe.Expire(r.ctx, userKeysKey(u), 2*r.ttl)
	}
	_, _ = pipe.Exec(r.ctx)
}

func (r *Redis) InvalidateUser(userID string) {
	keys, err := r.client.SMembers(r.ctx, userKeysKey(userID)).Result()
	if err != nil {
		return
	}
	if len(keys) > 0 {
		_ = r.client.Del(r.ctx, keys...).Err()
	}
	_ = r.client.Del(r.ctx, userKeysKey(userID)).Err()
}
