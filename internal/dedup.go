package internal

import (
	"context"
	"fmt"
	"time"
)

// Ledger 瀏覽去重帳本
//
// 每個 (user, post) 最多只計一次：
//
//	viewed:{userId}:{postId} 存在 → 已計數
//	不存在 → SET NX EX 寫入標記並允許計數
//
// SET NX 同時完成「檢查」與「寫入」，同一用戶的併發請求只有一個會拿到 true。
// 標記寫入後若後續 INCR 失敗，該次瀏覽永久遺失（不補償），換取不重複計數。
type Ledger struct {
	store FastStore
	ttl   time.Duration
}

// NewLedger 創建去重帳本
func NewLedger(store FastStore, markerTTL time.Duration) *Ledger {
	return &Ledger{store: store, ttl: markerTTL}
}

// RegisterView 登記一次瀏覽，返回是否應該增加計數
//
// 匿名用戶（userID 為空）永遠不計數。
func (l *Ledger) RegisterView(ctx context.Context, userID, postID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	created, err := l.store.SetNX(ctx, ViewedKey(userID, postID), "1", l.ttl)
	if err != nil {
		return false, fmt.Errorf("set viewed marker: %w", err)
	}

	return created, nil
}
