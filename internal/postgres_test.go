package internal_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koopa0/system-design/14-view-counter/internal"
	"github.com/koopa0/system-design/14-view-counter/internal/sqlc"
	"github.com/koopa0/system-design/14-view-counter/internal/testutils"
	apperrors "github.com/koopa0/system-design/14-view-counter/pkg/errors"
	"github.com/koopa0/system-design/14-view-counter/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPostStore_Integration 以真實 PostgreSQL 驗證持久化儲存
func TestPostStore_Integration(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	store := internal.NewPostStore(sqlc.New(env.PostgresPool), logger.Discard())

	createPost := func(t *testing.T, id, author string) sqlc.Post {
		t.Helper()
		post, err := store.CreatePost(ctx, sqlc.CreatePostParams{
			ID:       id,
			Title:    "title " + id,
			Content:  "content " + id,
			AuthorID: author,
		})
		require.NoError(t, err)
		return post
	}

	t.Run("create and get post", func(t *testing.T) {
		env.TruncatePostgresTables(t)

		created := createPost(t, "P1", "alice")
		assert.Equal(t, int64(0), created.ViewCount)
		assert.True(t, created.CreatedAt.Valid)

		got, err := store.GetPost(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.AuthorID)
		assert.Equal(t, "title P1", got.Title)
	})

	t.Run("missing post maps to not found", func(t *testing.T) {
		env.TruncatePostgresTables(t)

		_, err := store.GetPost(ctx, "missing")
		assert.True(t, apperrors.IsNotFound(err))

		err = store.DeletePost(ctx, "missing")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("batch get skips unknown ids", func(t *testing.T) {
		env.TruncatePostgresTables(t)
		createPost(t, "A", "alice")
		createPost(t, "B", "bob")

		posts, err := store.GetPosts(ctx, []string{"A", "B", "ghost"})
		require.NoError(t, err)

		ids := make([]string, 0, len(posts))
		for _, p := range posts {
			ids = append(ids, p.ID)
		}
		assert.ElementsMatch(t, []string{"A", "B"}, ids)

		posts, err = store.GetPosts(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, posts)
	})

	t.Run("set view count overwrites", func(t *testing.T) {
		env.TruncatePostgresTables(t)
		createPost(t, "P1", "alice")

		updated, err := store.SetViewCount(ctx, "P1", 50)
		require.NoError(t, err)
		assert.True(t, updated)

		// 覆寫不取最大值
		updated, err = store.SetViewCount(ctx, "P1", 7)
		require.NoError(t, err)
		assert.True(t, updated)

		got, err := store.GetPost(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.ViewCount)

		updated, err = store.SetViewCount(ctx, "deleted", 10)
		require.NoError(t, err)
		assert.False(t, updated)
	})

	t.Run("comments cascade on delete", func(t *testing.T) {
		env.TruncatePostgresTables(t)
		createPost(t, "P1", "alice")

		top, err := store.CreateComment(ctx, sqlc.CreateCommentParams{
			ID:       "c1",
			PostID:   "P1",
			AuthorID: "bob",
			Content:  "first",
		})
		require.NoError(t, err)
		assert.False(t, top.ParentID.Valid)

		reply, err := store.CreateComment(ctx, sqlc.CreateCommentParams{
			ID:       "c2",
			PostID:   "P1",
			AuthorID: "alice",
			Content:  "reply",
			ParentID: pgtype.Text{String: "c1", Valid: true},
		})
		require.NoError(t, err)
		assert.Equal(t, "c1", reply.ParentID.String)

		n, err := store.CountComments(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		require.NoError(t, store.DeletePost(ctx, "P1"))

		_, err = store.GetComment(ctx, "c1")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("list posts newest first", func(t *testing.T) {
		env.TruncatePostgresTables(t)
		for i, id := range []string{"A", "B", "C"} {
			createPost(t, id, "alice")
			_, err := env.PostgresPool.Exec(ctx,
				"UPDATE posts SET created_at = NOW() - make_interval(hours => $1) WHERE id = $2", 10-i, id)
			require.NoError(t, err)
		}
		createPost(t, "D", "bob")

		posts, total, err := store.ListPosts(ctx, internal.PostFilter{}, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(4), total)
		require.Len(t, posts, 2)
		assert.Equal(t, "D", posts[0].ID)
		assert.Equal(t, "C", posts[1].ID)

		posts, _, err = store.ListPosts(ctx, internal.PostFilter{}, 2, 2)
		require.NoError(t, err)
		require.Len(t, posts, 2)
		assert.Equal(t, "B", posts[0].ID)
		assert.Equal(t, "A", posts[1].ID)

		posts, total, err = store.ListPosts(ctx, internal.PostFilter{AuthorID: "bob"}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, posts, 1)
		assert.Equal(t, "D", posts[0].ID)
	})

	t.Run("list posts by keyword", func(t *testing.T) {
		env.TruncatePostgresTables(t)
		_, err := store.CreatePost(ctx, sqlc.CreatePostParams{ID: "P1", Title: "100% Go", Content: "x", AuthorID: "alice"})
		require.NoError(t, err)
		_, err = store.CreatePost(ctx, sqlc.CreatePostParams{ID: "P2", Title: "1000 Go", Content: "GOLANG tips", AuthorID: "bob"})
		require.NoError(t, err)

		posts, total, err := store.ListPosts(ctx, internal.PostFilter{Query: "golang"}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, posts, 1)
		assert.Equal(t, "P2", posts[0].ID)

		// 跳脫後的 % 只比對字面
		posts, total, err = store.ListPosts(ctx, internal.PostFilter{Query: `100\%`}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, posts, 1)
		assert.Equal(t, "P1", posts[0].ID)
	})

	t.Run("update and delete comment", func(t *testing.T) {
		env.TruncatePostgresTables(t)
		createPost(t, "P1", "alice")
		for _, params := range []sqlc.CreateCommentParams{
			{ID: "c1", PostID: "P1", AuthorID: "bob", Content: "first"},
			{ID: "c2", PostID: "P1", AuthorID: "alice", Content: "reply", ParentID: pgtype.Text{String: "c1", Valid: true}},
			{ID: "c3", PostID: "P1", AuthorID: "carol", Content: "second"},
		} {
			_, err := store.CreateComment(ctx, params)
			require.NoError(t, err)
		}

		comments, err := store.ListComments(ctx, "P1")
		require.NoError(t, err)
		require.Len(t, comments, 3)
		assert.Equal(t, "c1", comments[0].ID)

		updated, err := store.UpdateComment(ctx, "c1", "edited")
		require.NoError(t, err)
		assert.Equal(t, "edited", updated.Content)
		assert.False(t, updated.UpdatedAt.Time.Before(updated.CreatedAt.Time))

		_, err = store.UpdateComment(ctx, "missing", "x")
		assert.True(t, apperrors.IsNotFound(err))

		require.NoError(t, store.DeleteComment(ctx, "c1"))
		assert.True(t, apperrors.IsNotFound(store.DeleteComment(ctx, "c1")))

		// 回覆隨留言刪除
		comments, err = store.ListComments(ctx, "P1")
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.Equal(t, "c3", comments[0].ID)
	})

	t.Run("comment on missing post fails", func(t *testing.T) {
		env.TruncatePostgresTables(t)

		_, err := store.CreateComment(ctx, sqlc.CreateCommentParams{
			ID:       "c1",
			PostID:   "ghost",
			AuthorID: "bob",
			Content:  "hi",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsUnavailable(err))
	})

	t.Run("record notification", func(t *testing.T) {
		env.TruncatePostgresTables(t)

		err := store.RecordNotification(ctx, internal.Notification{
			Type:        internal.NotificationNewPost,
			RecipientID: "bob",
			PostID:      "P1",
		})
		require.NoError(t, err)

		var (
			count     int
			commentID pgtype.Text
		)
		err = env.PostgresPool.QueryRow(ctx,
			"SELECT COUNT(*), MAX(comment_id) FROM notifications WHERE user_id = $1 AND type = $2",
			"bob", "new_post").Scan(&count, &commentID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.False(t, commentID.Valid)
	})
}

// TestReconciler_Integration 端到端：Redis 計數 → 同步 → PostgreSQL
func TestReconciler_Integration(t *testing.T) {
	env := testutils.SetupTestEnvironment(t)
	ctx := context.Background()

	fast := internal.NewRedisStore(env.RedisClient)
	posts := internal.NewPostStore(sqlc.New(env.PostgresPool), logger.Discard())
	ledger := internal.NewLedger(fast, internal.DefaultMarkerTTL)
	ranking := internal.NewRanking(fast, internal.DefaultCounterTTL)
	views := internal.NewViewService(posts, ledger, ranking, logger.Discard())
	reconciler := internal.NewReconciler(ranking, fast, posts, internal.SyncOptions{
		TopK:        10,
		Concurrency: 4,
	}, logger.Discard())

	for _, id := range []string{"A", "B"} {
		_, err := posts.CreatePost(ctx, sqlc.CreatePostParams{ID: id, Title: id, Content: id, AuthorID: "author"})
		require.NoError(t, err)
	}

	for _, user := range []string{"u1", "u2", "u3"} {
		_, err := views.Register(ctx, user, "A")
		require.NoError(t, err)
	}
	// 重複瀏覽不計數
	result, err := views.Register(ctx, "u1", "A")
	require.NoError(t, err)
	assert.False(t, result.Incremented)
	assert.Equal(t, int64(3), result.ViewCount)

	_, err = views.Register(ctx, "u1", "B")
	require.NoError(t, err)

	// 已刪除的文章：計數存在但資料列不存在
	_, err = ranking.RecordView(ctx, "ghost")
	require.NoError(t, err)

	sync, err := reconciler.SyncPopularViews(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sync.Candidates)
	assert.Equal(t, 2, sync.SyncedCount)

	a, err := posts.GetPost(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(3), a.ViewCount)

	b, err := posts.GetPost(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.ViewCount)
}
