package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Syncer 執行一次同步
type Syncer interface {
	SyncPopularViews(ctx context.Context) (SyncResult, error)
}

// SyncScheduler 行程內同步排程器
//
// 沒有外部 cron 的部署才需要啟用。多個實例同時啟用時，
// 由 Reconciler 的執行鎖保證同一時間只有一個實例在同步。
type SyncScheduler struct {
	syncer   Syncer
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewSyncScheduler 創建同步排程器
//
// 每次同步的超時為間隔的一半；lockTTL > 0 時不超過執行鎖的有效期，
// 避免鎖過期後仍在寫入而與其他實例重疊。
func NewSyncScheduler(syncer Syncer, interval, lockTTL time.Duration, logger *slog.Logger) *SyncScheduler {
	timeout := interval / 2
	if lockTTL > 0 && (timeout <= 0 || lockTTL < timeout) {
		timeout = lockTTL
	}

	return &SyncScheduler{
		syncer:   syncer,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Timeout 每次同步的超時
func (s *SyncScheduler) Timeout() time.Duration {
	return s.timeout
}

// Start 啟動排程器，interval 必須為正
func (s *SyncScheduler) Start() {
	go s.run()
}

// Stop 停止排程器並等待進行中的同步結束
func (s *SyncScheduler) Stop() {
	s.once.Do(func() {
		close(s.stop)
	})
	<-s.done
}

func (s *SyncScheduler) run() {
	defer close(s.done)

	s.logger.Info("sync scheduler started",
		"interval", s.interval,
		"first_run", time.Now().Add(s.interval).Format("2006-01-02 15:04:05"))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce()

		case <-s.stop:
			s.logger.Info("sync scheduler stopped")
			return
		}
	}
}

// runOnce 執行一次同步
func (s *SyncScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	// 停止時取消進行中的同步
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := s.syncer.SyncPopularViews(ctx)
	if err != nil {
		s.logger.Warn("scheduled sync failed", "error", err)
		return
	}

	s.logger.Info("scheduled sync completed",
		"candidates", result.Candidates,
		"synced", result.SyncedCount)
}
