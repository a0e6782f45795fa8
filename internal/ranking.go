package internal

import (
	"context"
	"fmt"
	"time"
)

// Ranking 瀏覽計數與人氣排行榜
//
// 每次計數後同步更新 popular:posts 的分數，讓排行榜分數
// 始終等於 post:views:{id} 的當前值，Top-K 查詢為 O(log N + K)。
type Ranking struct {
	store FastStore
	ttl   time.Duration
}

// NewRanking 創建排行榜
func NewRanking(store FastStore, counterTTL time.Duration) *Ranking {
	return &Ranking{store: store, ttl: counterTTL}
}

// RecordView 計數加一並更新排行榜，返回新計數
//
// 只有在 Ledger.RegisterView 返回 true 時呼叫。
// 每次計數都會重設 TTL（滑動過期），30 天無人瀏覽的計數器才會被清除。
func (r *Ranking) RecordView(ctx context.Context, postID string) (int64, error) {
	key := ViewsKey(postID)

	count, err := r.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("increment views: %w", err)
	}

	if err := r.store.ZAdd(ctx, PopularPostsKey, postID, float64(count)); err != nil {
		return count, fmt.Errorf("update ranking: %w", err)
	}

	if err := r.store.Expire(ctx, key, r.ttl); err != nil {
		return count, fmt.Errorf("refresh views ttl: %w", err)
	}

	return count, nil
}

// Count 讀取快速儲存中的計數，不存在或已過期時為 0
func (r *Ranking) Count(ctx context.Context, postID string) (int64, error) {
	count, _, err := r.store.Get(ctx, ViewsKey(postID))
	if err != nil {
		return 0, fmt.Errorf("get views: %w", err)
	}
	return count, nil
}

// Top 依分數倒序返回前 limit 個文章 ID
func (r *Ranking) Top(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	ids, err := r.store.ZRevRange(ctx, PopularPostsKey, 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("read ranking: %w", err)
	}
	return ids, nil
}

// Remove 刪除文章時清理計數器與排行榜
func (r *Ranking) Remove(ctx context.Context, postID string) error {
	if err := r.store.Del(ctx, ViewsKey(postID)); err != nil {
		return fmt.Errorf("delete views: %w", err)
	}
	if err := r.store.ZRem(ctx, PopularPostsKey, postID); err != nil {
		return fmt.Errorf("remove from ranking: %w", err)
	}
	return nil
}
