package internal

import (
	"context"
	"log/slog"
)

// Merger 讀取路徑的計數合併
//
// 持久化計數只在同步時前進，快速儲存可能因過期或重置而歸零，
// 兩者取最大值，對客戶端呈現單調不減的瀏覽數。
type Merger struct {
	ranking *Ranking
	logger  *slog.Logger
}

// NewMerger 創建合併器
func NewMerger(ranking *Ranking, logger *slog.Logger) *Merger {
	return &Merger{ranking: ranking, logger: logger}
}

// DisplayCount 返回 max(durable, fast)
//
// 快速儲存失敗時降級為 durable，不向呼叫者返回錯誤。
func (m *Merger) DisplayCount(ctx context.Context, postID string, durable int64) int64 {
	fast, err := m.ranking.Count(ctx, postID)
	if err != nil {
		m.logger.WarnContext(ctx, "fast store unavailable, using durable count",
			"post_id", postID,
			"error", err)
		return max(durable, 0)
	}

	return max(durable, fast)
}
