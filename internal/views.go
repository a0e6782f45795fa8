// Package internal 實現文章瀏覽計數與人氣排行的核心功能
//
// 系統設計問題：
//
//	如何在高頻瀏覽下即時計數、每位用戶只計一次，並讓資料庫保有權威計數？
//
// 核心挑戰：
//  1. 寫入頻繁：每次瀏覽都寫資料庫無法承受
//  2. 去重：同一用戶對同一文章只計一次
//  3. 雙儲存漂移：Redis 計數領先資料庫，兩者需要定期對齊
//  4. 可用性：Redis 故障時讀取路徑不能出錯
//
// 設計方案：
//
//	Redis INCR + Sorted Set 即時計數與排行
//	SET NX EX 去重標記（一年）
//	讀取時取 max(資料庫, Redis)，對客戶端單調不減
//	排程同步排行榜前 K 名回寫 PostgreSQL
package internal

import (
	"context"
	"log/slog"

	apperrors "github.com/koopa0/system-design/14-view-counter/pkg/errors"
)

// ViewResult POST /views/{postId} 的回應
type ViewResult struct {
	ViewCount   int64  `json:"viewCount"`
	PostID      string `json:"postId"`
	Incremented bool   `json:"incremented"`
}

// ViewCount GET /views/{postId} 的回應
type ViewCount struct {
	ViewCount int64  `json:"viewCount"`
	PostID    string `json:"postId"`
}

// ViewService 瀏覽登記流程
//
//	文章存在檢查 → Ledger.RegisterView → (true) Ranking.RecordView
//
// 寫入路徑優先可用性：去重或計數失敗時只記錄日誌，
// 仍返回盡力而為的計數，不向客戶端返回錯誤。
type ViewService struct {
	posts   *PostStore
	ledger  *Ledger
	ranking *Ranking
	logger  *slog.Logger
}

// NewViewService 創建瀏覽服務
func NewViewService(posts *PostStore, ledger *Ledger, ranking *Ranking, logger *slog.Logger) *ViewService {
	return &ViewService{
		posts:   posts,
		ledger:  ledger,
		ranking: ranking,
		logger:  logger,
	}
}

// Register 登記一次瀏覽
//
// 只有文章不存在時返回錯誤（NotFound）。
func (s *ViewService) Register(ctx context.Context, userID, postID string) (ViewResult, error) {
	if postID == "" {
		return ViewResult{}, apperrors.ErrInvalidPostID
	}

	if _, err := s.posts.GetPost(ctx, postID); err != nil {
		if apperrors.IsNotFound(err) {
			return ViewResult{}, err
		}
		// 資料庫不可用時無法確認文章存在，仍照常計數
		s.logger.WarnContext(ctx, "post lookup failed, counting anyway",
			"post_id", postID,
			"error", err)
	}

	result := ViewResult{PostID: postID}

	shouldIncrement, err := s.ledger.RegisterView(ctx, userID, postID)
	if err != nil {
		s.logger.WarnContext(ctx, "dedup ledger unavailable",
			"post_id", postID,
			"error", err)
		result.ViewCount = s.currentOrZero(ctx, postID)
		return result, nil
	}

	if !shouldIncrement {
		result.ViewCount = s.currentOrZero(ctx, postID)
		return result, nil
	}

	count, err := s.ranking.RecordView(ctx, postID)
	if err != nil {
		// 標記已寫入但計數失敗：這次瀏覽遺失，不補償
		s.logger.WarnContext(ctx, "record view failed",
			"post_id", postID,
			"count", count,
			"error", err)
		if count == 0 {
			result.ViewCount = s.currentOrZero(ctx, postID)
			return result, nil
		}
	}

	result.ViewCount = count
	result.Incremented = count > 0
	return result, nil
}

// Current 讀取快速儲存的計數，失敗時為 0
func (s *ViewService) Current(ctx context.Context, postID string) ViewCount {
	return ViewCount{
		ViewCount: s.currentOrZero(ctx, postID),
		PostID:    postID,
	}
}

func (s *ViewService) currentOrZero(ctx context.Context, postID string) int64 {
	count, err := s.ranking.Count(ctx, postID)
	if err != nil {
		s.logger.WarnContext(ctx, "read view count failed",
			"post_id", postID,
			"error", err)
		return 0
	}
	return count
}
