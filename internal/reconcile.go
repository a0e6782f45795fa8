package internal

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/system-design/14-view-counter/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ViewCountWriter 寫入權威計數
type ViewCountWriter interface {
	SetViewCount(ctx context.Context, postID string, count int64) (bool, error)
}

// SyncOptions 同步作業參數
type SyncOptions struct {
	TopK           int           // 讀取排行榜前 K 名（≤ 1000）
	Concurrency    int           // 同時寫入的文章數
	LockTTL        time.Duration // 0 表示不加鎖
	PerPostTimeout time.Duration
}

// SyncResult 同步結果
type SyncResult struct {
	Candidates  int `json:"candidates"`
	SyncedCount int `json:"syncedCount"`
}

// Reconciler 將快速儲存的計數批量寫回 PostgreSQL
//
// 流程：
//
//	取得執行鎖 → 讀取 popular:posts 前 K 名 → 並發讀取計數並覆寫 posts.view_count
//
// 設計考量：
//
//  1. 為什麼只讀排行榜而不是 SCAN post:views:*？
//     全 key 掃描成本與總 key 數成正比，排行榜 Top-K 為 O(log N + K)。
//     排名 K 之後的文章本次不同步，其讀取路徑仍由 max(durable, fast) 保證正確顯示。
//
//  2. 為什麼覆寫而不是取最大值？
//     快速儲存是計數來源，覆寫讓重跑具冪等性；
//     代價是快速儲存被重置後可能把較大的持久值覆寫成較小值。
//
//  3. 部分失敗：
//     單篇失敗只記錄日誌並跳過，不中斷整批，也不在本次重試。
//     排行榜條目仍在，下次排程自然重試。
type Reconciler struct {
	ranking *Ranking
	store   FastStore
	posts   ViewCountWriter
	opts    SyncOptions
	logger  *slog.Logger
}

// NewReconciler 創建同步作業
func NewReconciler(ranking *Ranking, store FastStore, posts ViewCountWriter, opts SyncOptions, logger *slog.Logger) *Reconciler {
	if opts.TopK <= 0 || opts.TopK > MaxTopK {
		opts.TopK = DefaultTopK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Reconciler{
		ranking: ranking,
		store:   store,
		posts:   posts,
		opts:    opts,
		logger:  logger,
	}
}

// SyncPopularViews 執行一次同步
//
// 只有無法取得排行榜（或執行鎖）時返回錯誤；單篇文章失敗不會使整批失敗。
func (r *Reconciler) SyncPopularViews(ctx context.Context) (SyncResult, error) {
	start := time.Now()

	release, err := r.acquireLock(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	defer release()

	postIDs, err := r.ranking.Top(ctx, r.opts.TopK)
	if err != nil {
		return SyncResult{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "fetch popular posts")
	}

	result := SyncResult{Candidates: len(postIDs)}
	if len(postIDs) == 0 {
		r.logger.InfoContext(ctx, "no posts to sync")
		return result, nil
	}

	var (
		synced atomic.Int64
		g      errgroup.Group
	)
	g.SetLimit(r.opts.Concurrency)

	for _, postID := range postIDs {
		g.Go(func() error {
			if r.syncOne(ctx, postID) {
				synced.Add(1)
			}
			// 單篇失敗不回傳錯誤，避免影響其他文章
			return nil
		})
	}
	_ = g.Wait()

	result.SyncedCount = int(synced.Load())

	r.logger.InfoContext(ctx, "view counts synced",
		"candidates", result.Candidates,
		"synced", result.SyncedCount,
		"duration", time.Since(start))

	return result, nil
}

// syncOne 同步單篇文章，返回是否寫入成功
func (r *Reconciler) syncOne(ctx context.Context, postID string) bool {
	if r.opts.PerPostTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.PerPostTimeout)
		defer cancel()
	}

	count, err := r.ranking.Count(ctx, postID)
	if err != nil {
		r.logger.WarnContext(ctx, "skip post: read fast count failed",
			"post_id", postID,
			"error", err)
		return false
	}
	if count <= 0 {
		return false
	}

	updated, err := r.posts.SetViewCount(ctx, postID, count)
	if err != nil {
		r.logger.WarnContext(ctx, "skip post: write durable count failed",
			"post_id", postID,
			"count", count,
			"error", err)
		return false
	}
	if !updated {
		// 文章已從資料庫刪除但排行榜仍有殘留
		r.logger.DebugContext(ctx, "skip post: not found in durable store", "post_id", postID)
		return false
	}

	return true
}

// acquireLock 取得同步執行鎖，返回釋放函數
func (r *Reconciler) acquireLock(ctx context.Context) (func(), error) {
	if r.opts.LockTTL <= 0 {
		return func() {}, nil
	}

	token := uuid.NewString()
	ok, err := r.store.SetNX(ctx, SyncLockKey, token, r.opts.LockTTL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "acquire sync lock")
	}
	if !ok {
		return nil, apperrors.ErrSyncInProgress
	}

	return func() {
		// 請求 context 可能已取消，釋放鎖改用獨立 context
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()

		if _, err := r.store.CompareAndDelete(releaseCtx, SyncLockKey, token); err != nil {
			r.logger.Warn("failed to release sync lock", "error", err)
		}
	}, nil
}
