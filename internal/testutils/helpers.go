package testutils

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-view-counter/internal"
	"github.com/koopa0/system-design/14-view-counter/pkg/logger"
	"github.com/stretchr/testify/require"
)

// TestSyncSecret 測試用的同步密鑰
const TestSyncSecret = "test-cron-secret"

// DefaultTestConfig 返回測試用的預設配置
func DefaultTestConfig() *internal.Config {
	cfg := &internal.Config{}

	// Server 配置
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second

	// Redis 配置
	cfg.Redis.PoolSize = 10
	cfg.Redis.MinIdleConns = 5
	cfg.Redis.MaxRetries = 3
	cfg.Redis.ReadTimeout = 3 * time.Second
	cfg.Redis.WriteTimeout = 3 * time.Second

	// PostgreSQL 配置
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2

	// 計數配置
	cfg.Views.CounterTTL = internal.DefaultCounterTTL
	cfg.Views.MarkerTTL = internal.DefaultMarkerTTL

	// 同步配置
	cfg.Sync.Secret = TestSyncSecret
	cfg.Sync.TopK = internal.DefaultTopK
	cfg.Sync.Concurrency = 16
	cfg.Sync.LockTTL = time.Minute
	cfg.Sync.PerPostTimeout = time.Second

	cfg.Auth.UserHeader = "X-User-ID"

	// Log 配置
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	return cfg
}

// RecordingPublisher 記錄所有發布的通知
type RecordingPublisher struct {
	mu   sync.Mutex
	sent []internal.Notification
	Fail error
}

// Publish 實作 internal.Publisher
func (p *RecordingPublisher) Publish(_ context.Context, n internal.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return p.Fail
	}
	p.sent = append(p.sent, n)
	return nil
}

// Sent 已發布的通知
func (p *RecordingPublisher) Sent() []internal.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// App 以記憶體依賴組裝的完整服務
type App struct {
	Config     *internal.Config
	Store      *FakeStore
	Querier    *MockQuerier
	Publisher  *RecordingPublisher
	Posts      *internal.PostStore
	Ledger     *internal.Ledger
	Ranking    *internal.Ranking
	Merger     *internal.Merger
	Notifier   *internal.Notifier
	Views      *internal.ViewService
	PostSvc    *internal.PostService
	Reconciler *internal.Reconciler
	Handler    http.Handler
}

// NewApp 組裝測試用服務，subscribers 為新文章通知的接收者
func NewApp(t testing.TB, subscribers ...string) *App {
	t.Helper()

	cfg := DefaultTestConfig()
	log := logger.Discard()

	app := &App{
		Config:    cfg,
		Store:     NewFakeStore(),
		Querier:   NewMockQuerier(),
		Publisher: &RecordingPublisher{},
	}

	app.Posts = internal.NewPostStore(app.Querier, log)
	app.Ledger = internal.NewLedger(app.Store, cfg.Views.MarkerTTL)
	app.Ranking = internal.NewRanking(app.Store, cfg.Views.CounterTTL)
	app.Merger = internal.NewMerger(app.Ranking, log)
	app.Notifier = internal.NewNotifier(app.Posts, app.Publisher, log)
	app.Views = internal.NewViewService(app.Posts, app.Ledger, app.Ranking, log)
	app.PostSvc = internal.NewPostService(app.Posts, app.Ranking, app.Merger, app.Notifier, subscribers, log)
	app.Reconciler = internal.NewReconciler(app.Ranking, app.Store, app.Posts, internal.SyncOptions{
		TopK:           cfg.Sync.TopK,
		Concurrency:    cfg.Sync.Concurrency,
		LockTTL:        cfg.Sync.LockTTL,
		PerPostTimeout: cfg.Sync.PerPostTimeout,
	}, log)

	app.Handler = internal.NewHandler(app.Views, app.PostSvc, app.Reconciler, internal.HandlerOptions{
		SyncSecret: cfg.Sync.Secret,
		UserHeader: cfg.Auth.UserHeader,
		Checks:     map[string]internal.Pinger{"redis": app.Store},
	}, log).Routes()

	t.Cleanup(app.Notifier.Wait)

	return app
}

// MakeHTTPRequest 執行 HTTP 請求的輔助函數
func MakeHTTPRequest(t testing.TB, handler http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		if str, ok := body.(string); ok {
			bodyReader = strings.NewReader(str)
		} else {
			jsonBytes, err := json.Marshal(body)
			require.NoError(t, err)
			bodyReader = strings.NewReader(string(jsonBytes))
		}
	}

	req := httptest.NewRequest(method, path, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	return recorder
}

// ParseJSONResponse 解析 JSON 響應
func ParseJSONResponse(t testing.TB, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()

	err := json.NewDecoder(recorder.Body).Decode(target)
	require.NoError(t, err, "failed to parse JSON response")
}

// WaitForCondition 等待條件滿足
func WaitForCondition(t testing.TB, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// RunConcurrently 並發執行測試函數
func RunConcurrently(t testing.TB, concurrency int, iterations int, fn func(workerID, iteration int)) {
	t.Helper()

	var wg sync.WaitGroup
	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range iterations {
				fn(i, j)
			}
		}()
	}
	wg.Wait()
}
