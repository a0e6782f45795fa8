package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key 佈局
//
//	post:views:{postId}       → 整數計數（滑動 30 天 TTL）
//	viewed:{userId}:{postId}  → 已計數標記（1 年 TTL）
//	popular:posts             → Sorted Set，member = postId，score = 計數
const (
	PopularPostsKey = "popular:posts"
	SyncLockKey     = "lock:sync-views"
)

// ViewsKey 文章瀏覽計數的 key
func ViewsKey(postID string) string {
	return fmt.Sprintf("post:views:%s", postID)
}

// ViewedKey 用戶已瀏覽標記的 key
func ViewedKey(userID, postID string) string {
	return fmt.Sprintf("viewed:%s:%s", userID, postID)
}

// FastStore 快速計數儲存
//
// 只暴露單 key / 單 member 的原子操作，不使用多 key 事務。
// 生產環境由 Redis 實作，測試使用記憶體版本（testutils.FakeStore）。
type FastStore interface {
	// Get 讀取整數值，key 不存在時返回 (0, false, nil)
	Get(ctx context.Context, key string) (int64, bool, error)
	// Incr 原子加一，返回新值（不存在時從 0 開始）
	Incr(ctx context.Context, key string) (int64, error)
	// Expire 設定（或重設）過期時間
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// SetNX 僅在 key 不存在時寫入，返回是否寫入成功
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete 僅在值相符時刪除
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	// Del 刪除 key
	Del(ctx context.Context, keys ...string) error
	// ZAdd 寫入 member 分數（存在則覆蓋）
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZRevRange 依分數由高到低返回 [start, stop] 區間的 member
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ZRem 移除 member
	ZRem(ctx context.Context, key, member string) error
	// Ping 連線檢查
	Ping(ctx context.Context) error
}

// compareAndDeleteScript 釋放鎖時確認持有者
//
// KEYS[1]: 鎖的 key
// ARGV[1]: 持有者 token
var compareAndDeleteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore 使用 go-redis 實作 FastStore
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 創建 Redis 儲存
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get 讀取整數值
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Incr 原子加一
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return val, nil
}

// Expire 設定過期時間
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// SetNX 對應 SET key value NX EX ttl
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete 以 Lua 腳本保證比較與刪除的原子性
func (s *RedisStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// Del 刪除 key
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// ZAdd 更新排行榜分數
func (s *RedisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("redis zadd %s: %w", key, err)
	}
	return nil
}

// ZRevRange 依分數倒序讀取
func (s *RedisStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := s.client.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange %s: %w", key, err)
	}
	return members, nil
}

// ZRem 移除 member
func (s *RedisStore) ZRem(ctx context.Context, key, member string) error {
	if err := s.client.ZRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis zrem %s: %w", key, err)
	}
	return nil
}

// Ping 連線檢查
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
