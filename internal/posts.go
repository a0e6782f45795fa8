package internal

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koopa0/system-design/14-view-counter/internal/sqlc"
	apperrors "github.com/koopa0/system-design/14-view-counter/pkg/errors"
)

// 人氣榜與列表分頁限制
const (
	DefaultPopularLimit = 10
	MaxPopularLimit     = 100
	DefaultPageSize     = 10
	MaxPageSize         = 100
)

// PostView 對外的文章表示，view_count 已合併快速儲存
type PostView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"author_id"`
	ViewCount int64     `json:"view_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostDetail 文章詳情
type PostDetail struct {
	PostView
	CommentCount int64 `json:"comment_count"`
}

// CommentView 對外的留言表示
type CommentView struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PageRequest 分頁參數，page 從 1 開始
type PageRequest struct {
	Page  int
	Limit int
}

// Pagination 分頁資訊
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// PostPage 一頁文章
type PostPage struct {
	Posts      []PostView `json:"posts"`
	Pagination Pagination `json:"pagination"`
}

// CreatePostInput 新增文章參數
type CreatePostInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// CreateCommentInput 新增留言參數
type CreateCommentInput struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id,omitempty"`
}

// PostService 文章與留言
//
// 讀取路徑透過 Merger 呈現 max(durable, fast)；
// 發文、留言後的通知交給 Notifier 在背景派送。
type PostService struct {
	store       *PostStore
	ranking     *Ranking
	merger      *Merger
	notifier    *Notifier
	subscribers []string
	logger      *slog.Logger
}

// NewPostService 創建文章服務
func NewPostService(store *PostStore, ranking *Ranking, merger *Merger, notifier *Notifier, subscribers []string, logger *slog.Logger) *PostService {
	return &PostService{
		store:       store,
		ranking:     ranking,
		merger:      merger,
		notifier:    notifier,
		subscribers: subscribers,
		logger:      logger,
	}
}

// Create 新增文章並通知訂閱者
func (s *PostService) Create(ctx context.Context, authorID string, in CreatePostInput) (PostView, error) {
	if authorID == "" {
		return PostView{}, apperrors.ErrUnauthorized
	}

	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if title == "" || content == "" {
		return PostView{}, apperrors.New(apperrors.ErrCodeInvalidInput, "title and content are required")
	}

	post, err := s.store.CreatePost(ctx, sqlc.CreatePostParams{
		ID:       uuid.NewString(),
		Title:    title,
		Content:  content,
		AuthorID: authorID,
	})
	if err != nil {
		return PostView{}, err
	}

	for _, subscriber := range s.subscribers {
		if subscriber == authorID {
			continue
		}
		s.notifier.Send(ctx, Notification{
			Type:        NotificationNewPost,
			RecipientID: subscriber,
			PostID:      post.ID,
		})
	}

	return toPostView(post, post.ViewCount), nil
}

// Get 文章詳情，包含合併後的瀏覽數與留言數
func (s *PostService) Get(ctx context.Context, postID string) (PostDetail, error) {
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return PostDetail{}, err
	}

	commentCount, err := s.store.CountComments(ctx, postID)
	if err != nil {
		s.logger.WarnContext(ctx, "count comments failed",
			"post_id", postID,
			"error", err)
		commentCount = 0
	}

	return PostDetail{
		PostView:     toPostView(post, s.merger.DisplayCount(ctx, post.ID, post.ViewCount)),
		CommentCount: commentCount,
	}, nil
}

// Delete 刪除文章（僅作者）
//
// 先刪資料庫，再清除快速儲存的計數器與排行榜條目。
// 後者失敗只記錄日誌：殘留的排行榜條目在同步時會因文章不存在而被略過。
func (s *PostService) Delete(ctx context.Context, userID, postID string) error {
	if userID == "" {
		return apperrors.ErrUnauthorized
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != userID {
		return apperrors.ErrForbidden
	}

	if err := s.store.DeletePost(ctx, postID); err != nil {
		return err
	}

	if err := s.ranking.Remove(ctx, postID); err != nil {
		s.logger.WarnContext(ctx, "failed to clear fast store after delete",
			"post_id", postID,
			"error", err)
	}

	return nil
}

// Popular 依排行榜順序返回文章
//
// 排行榜不可用時返回空列表；排行榜中已不存在於資料庫的文章會被略過。
func (s *PostService) Popular(ctx context.Context, limit int) ([]PostView, error) {
	limit = normalizePopularLimit(limit)

	ids, err := s.ranking.Top(ctx, limit)
	if err != nil {
		s.logger.WarnContext(ctx, "ranking unavailable, returning empty list", "error", err)
		return []PostView{}, nil
	}
	if len(ids) == 0 {
		return []PostView{}, nil
	}

	posts, err := s.store.GetPosts(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]sqlc.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	result := make([]PostView, 0, len(ids))
	for _, id := range ids {
		post, ok := byID[id]
		if !ok {
			continue
		}
		result = append(result, toPostView(post, s.merger.DisplayCount(ctx, post.ID, post.ViewCount)))
	}

	return result, nil
}

// List 最新文章列表
//
// 列表只使用資料庫的 view_count，不查詢快速儲存；
// 即時計數只在詳情頁與人氣榜呈現，列表的數字由同步作業追上。
func (s *PostService) List(ctx context.Context, page PageRequest) (PostPage, error) {
	return s.list(ctx, PostFilter{}, page)
}

// ListByAuthor 目前用戶自己的文章
func (s *PostService) ListByAuthor(ctx context.Context, userID string, page PageRequest) (PostPage, error) {
	if userID == "" {
		return PostPage{}, apperrors.ErrUnauthorized
	}
	return s.list(ctx, PostFilter{AuthorID: userID}, page)
}

// Search 標題或內容包含關鍵字的文章（不分大小寫），空白關鍵字返回空頁
func (s *PostService) Search(ctx context.Context, query string, page PageRequest) (PostPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		page = normalizePage(page)
		return PostPage{
			Posts:      []PostView{},
			Pagination: Pagination{Page: 1, Limit: page.Limit},
		}, nil
	}
	return s.list(ctx, PostFilter{Query: likeEscaper.Replace(query)}, page)
}

// likeEscaper 跳脫 ILIKE 的萬用字元，讓關鍵字以字面比對
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (s *PostService) list(ctx context.Context, filter PostFilter, page PageRequest) (PostPage, error) {
	page = normalizePage(page)

	posts, total, err := s.store.ListPosts(ctx, filter, page.Limit, (page.Page-1)*page.Limit)
	if err != nil {
		return PostPage{}, err
	}

	views := make([]PostView, 0, len(posts))
	for _, p := range posts {
		views = append(views, toPostView(p, p.ViewCount))
	}

	return PostPage{
		Posts: views,
		Pagination: Pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      total,
			TotalPages: int((total + int64(page.Limit) - 1) / int64(page.Limit)),
		},
	}, nil
}

// ListComments 文章留言，依建立時間排序
func (s *PostService) ListComments(ctx context.Context, postID string) ([]CommentView, error) {
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		return nil, err
	}

	comments, err := s.store.ListComments(ctx, postID)
	if err != nil {
		return nil, err
	}

	result := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		result = append(result, toCommentView(c))
	}
	return result, nil
}

// UpdateComment 修改留言（僅作者）
func (s *PostService) UpdateComment(ctx context.Context, userID, commentID, content string) (CommentView, error) {
	if _, err := s.ownComment(ctx, userID, commentID); err != nil {
		return CommentView{}, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return CommentView{}, apperrors.New(apperrors.ErrCodeInvalidInput, "content is required")
	}

	comment, err := s.store.UpdateComment(ctx, commentID, content)
	if err != nil {
		return CommentView{}, err
	}
	return toCommentView(comment), nil
}

// DeleteComment 刪除留言（僅作者），其回覆一併刪除
func (s *PostService) DeleteComment(ctx context.Context, userID, commentID string) error {
	if _, err := s.ownComment(ctx, userID, commentID); err != nil {
		return err
	}
	return s.store.DeleteComment(ctx, commentID)
}

// ownComment 確認留言存在且屬於目前用戶
func (s *PostService) ownComment(ctx context.Context, userID, commentID string) (sqlc.Comment, error) {
	if userID == "" {
		return sqlc.Comment{}, apperrors.ErrUnauthorized
	}

	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return sqlc.Comment{}, err
	}
	if comment.AuthorID != userID {
		return sqlc.Comment{}, apperrors.ErrForbidden
	}
	return comment, nil
}

// AddComment 新增留言或回覆（只允許一層）
func (s *PostService) AddComment(ctx context.Context, authorID, postID string, in CreateCommentInput) (CommentView, error) {
	if authorID == "" {
		return CommentView{}, apperrors.ErrUnauthorized
	}

	content := strings.TrimSpace(in.Content)
	if content == "" {
		return CommentView{}, apperrors.New(apperrors.ErrCodeInvalidInput, "content is required")
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return CommentView{}, err
	}

	var parent *sqlc.Comment
	if in.ParentID != "" {
		p, err := s.store.GetComment(ctx, in.ParentID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return CommentView{}, apperrors.New(apperrors.ErrCodeInvalidInput, "parent comment not found")
			}
			return CommentView{}, err
		}
		if p.PostID != postID {
			return CommentView{}, apperrors.New(apperrors.ErrCodeInvalidInput, "parent comment not found")
		}
		if p.ParentID.Valid {
			return CommentView{}, apperrors.ErrNestedReply
		}
		parent = &p
	}

	params := sqlc.CreateCommentParams{
		ID:       uuid.NewString(),
		PostID:   postID,
		AuthorID: authorID,
		Content:  content,
	}
	if parent != nil {
		params.ParentID = pgtype.Text{String: parent.ID, Valid: true}
	}

	comment, err := s.store.CreateComment(ctx, params)
	if err != nil {
		return CommentView{}, err
	}

	// 回覆通知留言作者，留言通知文章作者；自己回覆自己不通知
	switch {
	case parent != nil && parent.AuthorID != authorID:
		s.notifier.Send(ctx, Notification{
			Type:        NotificationReply,
			RecipientID: parent.AuthorID,
			PostID:      postID,
			CommentID:   comment.ID,
		})
	case parent == nil && post.AuthorID != authorID:
		s.notifier.Send(ctx, Notification{
			Type:        NotificationComment,
			RecipientID: post.AuthorID,
			PostID:      postID,
			CommentID:   comment.ID,
		})
	}

	return toCommentView(comment), nil
}

func normalizePopularLimit(limit int) int {
	if limit <= 0 {
		return DefaultPopularLimit
	}
	return min(limit, MaxPopularLimit)
}

func normalizePage(page PageRequest) PageRequest {
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	page.Limit = min(page.Limit, MaxPageSize)

	// offset 必須放得進 int32
	maxPage := math.MaxInt32/page.Limit + 1
	page.Page = max(1, min(page.Page, maxPage))
	return page
}

func toPostView(p sqlc.Post, viewCount int64) PostView {
	return PostView{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		AuthorID:  p.AuthorID,
		ViewCount: viewCount,
		CreatedAt: p.CreatedAt.Time,
		UpdatedAt: p.UpdatedAt.Time,
	}
}

func toCommentView(c sqlc.Comment) CommentView {
	return CommentView{
		ID:        c.ID,
		PostID:    c.PostID,
		AuthorID:  c.AuthorID,
		Content:   c.Content,
		ParentID:  c.ParentID.String,
		CreatedAt: c.CreatedAt.Time,
		UpdatedAt: c.UpdatedAt.Time,
	}
}
