package internal

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/system-design/14-view-counter/pkg/errors"
	"github.com/koopa0/system-design/14-view-counter/pkg/logger"
)

// maxBodyBytes 請求內容上限
const maxBodyBytes = 1 << 20

// Pinger 就緒檢查的依賴
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlerOptions HTTP 層設定
type HandlerOptions struct {
	SyncSecret string            // cron 端點的 Bearer token
	UserHeader string            // 上游認證代理寫入的用戶 header
	Checks     map[string]Pinger // /ready 檢查項目
}

// Handler HTTP 請求處理器
type Handler struct {
	views      *ViewService
	posts      *PostService
	reconciler *Reconciler
	opts       HandlerOptions
	logger     *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(views *ViewService, posts *PostService, reconciler *Reconciler, opts HandlerOptions, logger *slog.Logger) *Handler {
	if opts.UserHeader == "" {
		opts.UserHeader = "X-User-ID"
	}
	return &Handler{
		views:      views,
		posts:      posts,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈：請求 ID -> 身分 -> 日誌 -> 恢復 -> 業務處理
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.requestID(h.identity(h.loggerMiddleware(h.recoverer(handler))))
	}

	// 瀏覽計數
	mux.HandleFunc("POST /views/{postId}", wrap(h.registerView))
	mux.HandleFunc("GET /views/{postId}", wrap(h.getViews))

	// 文章
	// /posts/popular 比 /posts/{postId} 更具體，ServeMux 會優先匹配
	mux.HandleFunc("GET /posts", wrap(h.listPosts))
	mux.HandleFunc("GET /posts/popular", wrap(h.popular))
	mux.HandleFunc("GET /posts/my", wrap(h.myPosts))
	mux.HandleFunc("GET /posts/search", wrap(h.searchPosts))
	mux.HandleFunc("GET /posts/{postId}", wrap(h.getPost))
	mux.HandleFunc("POST /posts", wrap(h.createPost))
	mux.HandleFunc("DELETE /posts/{postId}", wrap(h.deletePost))

	// 留言
	mux.HandleFunc("GET /posts/{postId}/comments", wrap(h.listComments))
	mux.HandleFunc("POST /posts/{postId}/comments", wrap(h.createComment))
	mux.HandleFunc("PUT /comments/{commentId}", wrap(h.updateComment))
	mux.HandleFunc("DELETE /comments/{commentId}", wrap(h.deleteComment))

	// 排程同步
	mux.HandleFunc("GET /cron/sync-views", wrap(h.syncViews))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /ready", wrap(h.ready))

	return mux
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type syncResponse struct {
	Message     string `json:"message"`
	SyncedCount int    `json:"syncedCount"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// registerView 登記瀏覽，匿名用戶只返回當前計數
func (h *Handler) registerView(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("postId")
	userID := logger.UserID(r.Context())

	result, err := h.views.Register(r.Context(), userID, postID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// getViews 快速儲存中的計數
func (h *Handler) getViews(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.views.Current(r.Context(), r.PathValue("postId")))
}

// popular 人氣文章
func (h *Handler) popular(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.handleError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	posts, err := h.posts.Popular(r.Context(), limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, posts)
}

// listPosts 最新文章分頁
func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	result, err := h.posts.List(r.Context(), page)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// myPosts 目前用戶的文章
func (h *Handler) myPosts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	result, err := h.posts.ListByAuthor(r.Context(), logger.UserID(r.Context()), page)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// searchPosts 關鍵字搜尋
func (h *Handler) searchPosts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	result, err := h.posts.Search(r.Context(), r.URL.Query().Get("q"), page)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// parsePage 解析 page 與 limit 查詢參數，未提供時為 0（使用預設值）
func parsePage(r *http.Request) (PageRequest, error) {
	var page PageRequest
	for name, dst := range map[string]*int{"page": &page.Page, "limit": &page.Limit} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return PageRequest{}, apperrors.New(apperrors.ErrCodeInvalidInput, name+" must be a positive integer")
		}
		*dst = n
	}
	return page, nil
}

// getPost 文章詳情
func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.Get(r.Context(), r.PathValue("postId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, post)
}

// createPost 新增文章
func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	var req CreatePostInput
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	post, err := h.posts.Create(r.Context(), logger.UserID(r.Context()), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, post)
}

// deletePost 刪除文章
func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("postId")

	if err := h.posts.Delete(r.Context(), logger.UserID(r.Context()), postID); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, messageResponse{Message: "post deleted"})
}

// createComment 新增留言或回覆
func (h *Handler) createComment(w http.ResponseWriter, r *http.Request) {
	var req CreateCommentInput
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	comment, err := h.posts.AddComment(r.Context(), logger.UserID(r.Context()), r.PathValue("postId"), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, comment)
}

// listComments 文章留言
func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.posts.ListComments(r.Context(), r.PathValue("postId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, comments)
}

type updateCommentRequest struct {
	Content string `json:"content"`
}

// updateComment 修改留言
func (h *Handler) updateComment(w http.ResponseWriter, r *http.Request) {
	var req updateCommentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}

	comment, err := h.posts.UpdateComment(r.Context(), logger.UserID(r.Context()), r.PathValue("commentId"), req.Content)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, comment)
}

// deleteComment 刪除留言
func (h *Handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.posts.DeleteComment(r.Context(), logger.UserID(r.Context()), r.PathValue("commentId")); err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, messageResponse{Message: "comment deleted"})
}

// syncViews 由外部排程呼叫的同步端點
func (h *Handler) syncViews(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedCron(r) {
		h.logger.WarnContext(r.Context(), "unauthorized sync attempt", "remote", r.RemoteAddr)
		h.handleError(w, r, apperrors.ErrUnauthorized)
		return
	}

	result, err := h.reconciler.SyncPopularViews(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	message := fmt.Sprintf("Synced %d post view counts", result.SyncedCount)
	if result.Candidates == 0 {
		message = "No posts to sync"
	}

	h.respondJSON(w, http.StatusOK, syncResponse{
		Message:     message,
		SyncedCount: result.SyncedCount,
	})
}

// authorizedCron 以固定時間比較 Bearer token
func (h *Handler) authorizedCron(r *http.Request) bool {
	if h.opts.SyncSecret == "" {
		return false
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.SyncSecret)) == 1
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// ready 就緒檢查
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.opts.Checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
			h.respondJSON(w, http.StatusServiceUnavailable, errorResponse{
				Error: name + " not ready",
				Code:  apperrors.ErrCodeUnavailable,
			})
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "Ready")
}

// decode 解析 JSON 請求內容
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}

// 中間件

// requestID 產生或沿用請求 ID
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// identity 從上游認證代理的 header 讀取用戶，缺少時視為匿名
func (h *Handler) identity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(h.opts.UserHeader))
		if userID != "" {
			r = r.WithContext(logger.WithUserID(r.Context(), userID))
		}
		next(w, r)
	}
}

// loggerMiddleware 記錄請求日誌
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以捕獲狀態碼
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	}
}

// recoverer 恢復 panic
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.ErrorContext(r.Context(), "panic recovered", "error", err)
				h.respondJSON(w, http.StatusInternalServerError, errorResponse{
					Error: "internal server error",
					Code:  apperrors.ErrCodeInternal,
				})
			}
		}()
		next(w, r)
	}
}

// handleError 將錯誤轉為 HTTP 回應，5xx 才記錄錯誤日誌
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)

	resp := errorResponse{
		Error: "internal server error",
		Code:  apperrors.ErrCodeInternal,
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Code = appErr.Code
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}

	h.respondJSON(w, status, resp)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// responseWriter 包裝以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}
