package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koopa0/system-design/14-view-counter/internal/sqlc"
	apperrors "github.com/koopa0/system-design/14-view-counter/pkg/errors"
)

// PostStore 持久化儲存（PostgreSQL）
//
// posts.view_count 是權威計數，只由同步作業寫入。
type PostStore struct {
	queries sqlc.Querier
	logger  *slog.Logger
}

// NewPostStore 創建持久化儲存
func NewPostStore(queries sqlc.Querier, logger *slog.Logger) *PostStore {
	return &PostStore{
		queries: queries,
		logger:  logger,
	}
}

// CreatePost 新增文章，view_count 由資料庫預設為 0
func (s *PostStore) CreatePost(ctx context.Context, params sqlc.CreatePostParams) (sqlc.Post, error) {
	post, err := s.queries.CreatePost(ctx, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "postgres create post failed",
			"post_id", params.ID,
			"error", err)
		return sqlc.Post{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "create post")
	}
	return post, nil
}

// GetPost 讀取文章
func (s *PostStore) GetPost(ctx context.Context, id string) (sqlc.Post, error) {
	post, err := s.queries.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sqlc.Post{}, apperrors.ErrPostNotFound
		}
		s.logger.ErrorContext(ctx, "postgres get post failed",
			"post_id", id,
			"error", err)
		return sqlc.Post{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "get post")
	}
	return post, nil
}

// GetPosts 批量讀取文章，不存在的 ID 會被略過，返回順序不保證
func (s *PostStore) GetPosts(ctx context.Context, ids []string) ([]sqlc.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	posts, err := s.queries.GetPostsByIDs(ctx, ids)
	if err != nil {
		s.logger.ErrorContext(ctx, "postgres get posts failed",
			"count", len(ids),
			"error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "get posts")
	}
	return posts, nil
}

// PostFilter 列表篩選條件，空字串表示不篩選
type PostFilter struct {
	AuthorID string
	Query    string // ILIKE 模式片段，呼叫者負責跳脫 % 與 _
}

func (f PostFilter) params() (pgtype.Text, pgtype.Text) {
	return pgtype.Text{String: f.AuthorID, Valid: f.AuthorID != ""},
		pgtype.Text{String: f.Query, Valid: f.Query != ""}
}

// ListPosts 依建立時間倒序分頁讀取文章，並返回符合條件的總數
//
// view_count 為資料庫中的權威值，不查詢快速儲存。
func (s *PostStore) ListPosts(ctx context.Context, filter PostFilter, limit, offset int) ([]sqlc.Post, int64, error) {
	authorID, query := filter.params()

	posts, err := s.queries.ListPosts(ctx, sqlc.ListPostsParams{
		AuthorID:  authorID,
		Query:     query,
		RowLimit:  int32(limit),
		RowOffset: int32(offset),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "postgres list posts failed", "error", err)
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "list posts")
	}

	total, err := s.queries.CountPosts(ctx, sqlc.CountPostsParams{
		AuthorID: authorID,
		Query:    query,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "postgres count posts failed", "error", err)
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "count posts")
	}

	return posts, total, nil
}

// DeletePost 刪除文章（留言由外鍵級聯刪除）
func (s *PostStore) DeletePost(ctx context.Context, id string) error {
	rows, err := s.queries.DeletePost(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "postgres delete post failed",
			"post_id", id,
			"error", err)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "delete post")
	}
	if rows == 0 {
		return apperrors.ErrPostNotFound
	}
	return nil
}

// SetViewCount 覆寫權威計數，返回是否有文章被更新
//
// 不與現有值比較：同步作業以快速儲存為準直接覆寫。
func (s *PostStore) SetViewCount(ctx context.Context, postID string, count int64) (bool, error) {
	rows, err := s.queries.SetPostViewCount(ctx, sqlc.SetPostViewCountParams{
		ID:        postID,
		ViewCount: count,
	})
	if err != nil {
		return false, fmt.Errorf("set view count: %w", err)
	}
	return rows > 0, nil
}

// CountComments 文章留言數
func (s *PostStore) CountComments(ctx context.Context, postID string) (int64, error) {
	n, err := s.queries.CountComments(ctx, postID)
	if err != nil {
		return 0, fmt.Errorf("count comments: %w", err)
	}
	return n, nil
}

// CreateComment 新增留言
func (s *PostStore) CreateComment(ctx context.Context, params sqlc.CreateCommentParams) (sqlc.Comment, error) {
	comment, err := s.queries.CreateComment(ctx, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "postgres create comment failed",
			"post_id", params.PostID,
			"error", err)
		return sqlc.Comment{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "create comment")
	}
	return comment, nil
}

// GetComment 讀取留言
func (s *PostStore) GetComment(ctx context.Context, id string) (sqlc.Comment, error) {
	comment, err := s.queries.GetComment(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sqlc.Comment{}, apperrors.ErrCommentNotFound
		}
		return sqlc.Comment{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "get comment")
	}
	return comment, nil
}

// ListComments 文章的全部留言，依建立時間排序
func (s *PostStore) ListComments(ctx context.Context, postID string) ([]sqlc.Comment, error) {
	comments, err := s.queries.ListComments(ctx, postID)
	if err != nil {
		s.logger.ErrorContext(ctx, "postgres list comments failed",
			"post_id", postID,
			"error", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "list comments")
	}
	return comments, nil
}

// UpdateComment 更新留言內容
func (s *PostStore) UpdateComment(ctx context.Context, id, content string) (sqlc.Comment, error) {
	comment, err := s.queries.UpdateComment(ctx, sqlc.UpdateCommentParams{
		ID:      id,
		Content: content,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sqlc.Comment{}, apperrors.ErrCommentNotFound
		}
		return sqlc.Comment{}, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "update comment")
	}
	return comment, nil
}

// DeleteComment 刪除留言（回覆由外鍵級聯刪除）
func (s *PostStore) DeleteComment(ctx context.Context, id string) error {
	rows, err := s.queries.DeleteComment(ctx, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "delete comment")
	}
	if rows == 0 {
		return apperrors.ErrCommentNotFound
	}
	return nil
}

// RecordNotification 寫入通知歷史
func (s *PostStore) RecordNotification(ctx context.Context, n Notification) error {
	err := s.queries.InsertNotification(ctx, sqlc.InsertNotificationParams{
		UserID:    n.RecipientID,
		Type:      string(n.Type),
		PostID:    pgtype.Text{String: n.PostID, Valid: n.PostID != ""},
		CommentID: pgtype.Text{String: n.CommentID, Valid: n.CommentID != ""},
	})
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
