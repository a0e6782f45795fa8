package internal_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-view-counter/internal"
	"github.com/koopa0/system-design/14-view-counter/internal/testutils"
	apperrors "github.com/koopa0/system-design/14-view-counter/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPostService_CommentNotifications 測試留言與回覆的通知對象
func TestPostService_CommentNotifications(t *testing.T) {
	tests := []struct {
		name          string
		author        string
		parentID      string
		expectedType  internal.NotificationType
		expectedTo    string
		expectNotices bool
	}{
		{
			name:          "comment notifies post author",
			author:        "bob",
			expectedType:  internal.NotificationComment,
			expectedTo:    "alice",
			expectNotices: true,
		},
		{
			name:   "author commenting own post is silent",
			author: "alice",
		},
		{
			name:          "reply notifies parent author",
			author:        "carol",
			parentID:      "top",
			expectedType:  internal.NotificationReply,
			expectedTo:    "bob",
			expectNotices: true,
		},
		{
			name:     "self reply is silent",
			author:   "bob",
			parentID: "top",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := testutils.NewApp(t)
			app.Querier.SeedPost("P1", "alice", 0)
			app.Querier.SeedComment("top", "P1", "bob", "")

			comment, err := app.PostSvc.AddComment(context.Background(), tt.author, "P1", internal.CreateCommentInput{
				Content:  "hello",
				ParentID: tt.parentID,
			})
			require.NoError(t, err)
			app.Notifier.Wait()

			sent := app.Publisher.Sent()
			if !tt.expectNotices {
				assert.Empty(t, sent)
				return
			}

			require.Len(t, sent, 1)
			assert.Equal(t, tt.expectedType, sent[0].Type)
			assert.Equal(t, tt.expectedTo, sent[0].RecipientID)
			assert.Equal(t, "P1", sent[0].PostID)
			assert.Equal(t, comment.ID, sent[0].CommentID)
		})
	}
}

// TestPostService_NewPostNotifications 新文章通知訂閱者，作者本人除外
func TestPostService_NewPostNotifications(t *testing.T) {
	app := testutils.NewApp(t, "alice", "bob", "carol")

	post, err := app.PostSvc.Create(context.Background(), "alice", internal.CreatePostInput{
		Title:   "  Hello  ",
		Content: "World",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Title)
	app.Notifier.Wait()

	sent := app.Publisher.Sent()
	require.Len(t, sent, 2)

	recipients := []string{sent[0].RecipientID, sent[1].RecipientID}
	assert.ElementsMatch(t, []string{"bob", "carol"}, recipients)
	for _, n := range sent {
		assert.Equal(t, internal.NotificationNewPost, n.Type)
		assert.Equal(t, post.ID, n.PostID)
	}

	assert.Len(t, app.Querier.Notifications(), 2)
}

// TestPostService_NotificationFailureDoesNotFailRequest 通知失敗不影響留言
func TestPostService_NotificationFailureDoesNotFailRequest(t *testing.T) {
	app := testutils.NewApp(t)
	app.Publisher.Fail = testutils.ErrInjected
	app.Querier.FailNotify = testutils.ErrInjected
	app.Querier.SeedPost("P1", "alice", 0)

	_, err := app.PostSvc.AddComment(context.Background(), "bob", "P1", internal.CreateCommentInput{Content: "hi"})
	require.NoError(t, err)
}

// TestPostService_Delete 測試刪除文章
func TestPostService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("fast store failure does not fail delete", func(t *testing.T) {
		app := testutils.NewApp(t)
		app.Querier.SeedPost("P1", "alice", 0)
		seedFast(t, app.Store, "P1", 3)
		app.Store.FailOn("del", testutils.ErrInjected)

		require.NoError(t, app.PostSvc.Delete(ctx, "alice", "P1"))
		assert.False(t, app.Querier.HasPost("P1"))
	})

	t.Run("missing post", func(t *testing.T) {
		app := testutils.NewApp(t)
		err := app.PostSvc.Delete(ctx, "alice", "nope")
		assert.True(t, apperrors.IsNotFound(err))
	})
}

// TestPostService_Popular 測試人氣榜查詢限制與降級
func TestPostService_Popular(t *testing.T) {
	ctx := context.Background()

	t.Run("limit is capped", func(t *testing.T) {
		app := testutils.NewApp(t)
		for i := range 150 {
			id := string(rune('a'+i%26)) + string(rune('a'+i/26))
			app.Querier.SeedPost(id, "author", 0)
			seedFast(t, app.Store, id, int64(i+1))
		}

		posts, err := app.PostSvc.Popular(ctx, 1000)
		require.NoError(t, err)
		assert.Len(t, posts, internal.MaxPopularLimit)

		posts, err = app.PostSvc.Popular(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, posts, internal.DefaultPopularLimit)
	})

	t.Run("durable store failure surfaces", func(t *testing.T) {
		app := testutils.NewApp(t)
		seedFast(t, app.Store, "P1", 1)
		app.Querier.ShouldFailNext = true
		app.Querier.FailError = testutils.ErrInjected

		_, err := app.PostSvc.Popular(ctx, 10)
		require.Error(t, err)
		assert.True(t, apperrors.IsUnavailable(err))
	})

	t.Run("fast store failure on count falls back to durable", func(t *testing.T) {
		app := testutils.NewApp(t)
		app.Querier.SeedPost("P1", "alice", 12)
		seedFast(t, app.Store, "P1", 30)
		app.Store.FailGetKey(internal.ViewsKey("P1"), testutils.ErrInjected)

		posts, err := app.PostSvc.Popular(ctx, 10)
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Equal(t, int64(12), posts[0].ViewCount)
	})
}

// TestPostService_List 列表只讀持久化計數，依建立時間新到舊
func TestPostService_List(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := func(t *testing.T, app *testutils.App, n int) {
		t.Helper()
		for i := range n {
			id := string(rune('a' + i))
			app.Querier.SeedPost(id, "author", int64(i))
			app.Querier.SetPostCreatedAt(id, base.Add(time.Duration(i)*time.Minute))
		}
	}

	t.Run("never reads the fast store", func(t *testing.T) {
		app := testutils.NewApp(t)
		app.Querier.SeedPost("P1", "alice", 7)
		seedFast(t, app.Store, "P1", 99)

		page, err := app.PostSvc.List(ctx, internal.PageRequest{})
		require.NoError(t, err)
		require.Len(t, page.Posts, 1)

		// 快速儲存的數字較大，列表仍顯示資料庫的值
		assert.Equal(t, int64(7), page.Posts[0].ViewCount)
		assert.Equal(t, int32(0), app.Store.GetCalls.Load())
	})

	t.Run("newest first with pagination", func(t *testing.T) {
		app := testutils.NewApp(t)
		seed(t, app, 5)

		page, err := app.PostSvc.List(ctx, internal.PageRequest{Page: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"e", "d"}, postIDs(page.Posts))
		assert.Equal(t, internal.Pagination{Page: 1, Limit: 2, Total: 5, TotalPages: 3}, page.Pagination)

		page, err = app.PostSvc.List(ctx, internal.PageRequest{Page: 3, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, postIDs(page.Posts))

		page, err = app.PostSvc.List(ctx, internal.PageRequest{Page: 4, Limit: 2})
		require.NoError(t, err)
		assert.Empty(t, page.Posts)
		assert.NotNil(t, page.Posts)
	})

	t.Run("page and limit are normalized", func(t *testing.T) {
		app := testutils.NewApp(t)
		seed(t, app, 3)

		page, err := app.PostSvc.List(ctx, internal.PageRequest{Page: -5, Limit: 0})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Pagination.Page)
		assert.Equal(t, internal.DefaultPageSize, page.Pagination.Limit)
		assert.Len(t, page.Posts, 3)

		page, err = app.PostSvc.List(ctx, internal.PageRequest{Page: math.MaxInt, Limit: 1000})
		require.NoError(t, err)
		assert.Equal(t, internal.MaxPageSize, page.Pagination.Limit)
		assert.Equal(t, math.MaxInt32/internal.MaxPageSize+1, page.Pagination.Page)
		assert.Empty(t, page.Posts)
	})

	t.Run("empty board", func(t *testing.T) {
		app := testutils.NewApp(t)

		page, err := app.PostSvc.List(ctx, internal.PageRequest{})
		require.NoError(t, err)
		assert.Empty(t, page.Posts)
		assert.Equal(t, int64(0), page.Pagination.Total)
		assert.Equal(t, 0, page.Pagination.TotalPages)
	})

	t.Run("durable store failure surfaces", func(t *testing.T) {
		app := testutils.NewApp(t)
		app.Querier.ShouldFailNext = true
		app.Querier.FailError = testutils.ErrInjected

		_, err := app.PostSvc.List(ctx, internal.PageRequest{})
		require.Error(t, err)
		assert.True(t, apperrors.IsUnavailable(err))
	})
}

// TestPostService_ListByAuthor 只列出目前用戶的文章
func TestPostService_ListByAuthor(t *testing.T) {
	ctx := context.Background()
	app := testutils.NewApp(t)
	app.Querier.SeedPost("A1", "alice", 0)
	app.Querier.SeedPost("A2", "alice", 0)
	app.Querier.SeedPost("B1", "bob", 0)

	_, err := app.PostSvc.ListByAuthor(ctx, "", internal.PageRequest{})
	assert.True(t, apperrors.IsUnauthorized(err))

	page, err := app.PostSvc.ListByAuthor(ctx, "alice", internal.PageRequest{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A1", "A2"}, postIDs(page.Posts))
	assert.Equal(t, int64(2), page.Pagination.Total)
}

// TestPostService_Search 測試關鍵字搜尋
func TestPostService_Search(t *testing.T) {
	ctx := context.Background()
	app := testutils.NewApp(t)
	app.Querier.SeedPost("go", "alice", 0)
	app.Querier.SeedPost("plain", "bob", 0)
	app.Querier.SeedPost("percent", "bob", 0)

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{name: "blank query returns empty page", query: "   ", expected: []string{}},
		{name: "matches title case-insensitively", query: "TITLE GO", expected: []string{"go"}},
		{name: "matches content", query: "content plain", expected: []string{"plain"}},
		{name: "wildcard is literal", query: "%", expected: []string{}},
		{name: "underscore is literal", query: "_", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := app.PostSvc.Search(ctx, tt.query, internal.PageRequest{})
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.expected, postIDs(page.Posts))
			assert.Equal(t, 1, page.Pagination.Page)
		})
	}
}

// TestPostService_Comments 測試留言列表、修改與刪除
func TestPostService_Comments(t *testing.T) {
	ctx := context.Background()

	t.Run("list in creation order", func(t *testing.T) {
		app := testutils.NewApp(t)
		app.Querier.SeedPost("P1", "alice", 0)
		app.Querier.SeedPost("P2", "alice", 0)
		app.Querier.SeedComment("c1", "P1", "bob", "")
		app.Querier.SeedComment("c2", "P1", "alice", "c1")
		app.Querier.SeedComment("other", "P2", "bob", "")

		comments, err := app.PostSvc.ListComments(ctx, "P1")
		require.NoError(t, err)
		require.Len(t, comments, 2)
		assert.Equal(t, "c1", comments[0].ID)
		assert.Equal(t, "c2", comments[1].ID)
		assert.Equal(t, "c1", comments[1].ParentID)
	})

	t.Run("list on post without comments", func(t *testing.T) {
		app := testutils.NewApp(t)
		app.Querier.SeedPost("P1", "alice", 0)

		comments, err := app.PostSvc.ListComments(ctx, "P1")
		require.NoError(t, err)
		assert.NotNil(t, comments)
		assert.Empty(t, comments)
	})

	t.Run("list on missing post", func(t *testing.T) {
		app := testutils.NewApp(t)
		_, err := app.PostSvc.ListComments(ctx, "nope")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("update", func(t *testing.T) {
		tests := []struct {
			name    string
			user    string
			id      string
			content string
			check   func(error) bool
		}{
			{name: "anonymous", id: "c1", content: "x", check: apperrors.IsUnauthorized},
			{name: "missing comment", user: "bob", id: "nope", content: "x", check: apperrors.IsNotFound},
			{name: "not the author", user: "alice", id: "c1", content: "x", check: apperrors.IsForbidden},
			{name: "empty content", user: "bob", id: "c1", content: "  ", check: apperrors.IsInvalidInput},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				app := testutils.NewApp(t)
				app.Querier.SeedPost("P1", "alice", 0)
				app.Querier.SeedComment("c1", "P1", "bob", "")

				_, err := app.PostSvc.UpdateComment(ctx, tt.user, tt.id, tt.content)
				require.Error(t, err)
				assert.True(t, tt.check(err))
			})
		}

		t.Run("author edits", func(t *testing.T) {
			app := testutils.NewApp(t)
			app.Querier.SeedPost("P1", "alice", 0)
			app.Querier.SeedComment("c1", "P1", "bob", "")

			comment, err := app.PostSvc.UpdateComment(ctx, "bob", "c1", "  edited  ")
			require.NoError(t, err)
			assert.Equal(t, "edited", comment.Content)
			assert.Equal(t, "P1", comment.PostID)
		})
	})

	t.Run("delete", func(t *testing.T) {
		app := testutils.NewApp(t)
		app.Querier.SeedPost("P1", "alice", 0)
		app.Querier.SeedComment("c1", "P1", "bob", "")
		app.Querier.SeedComment("r1", "P1", "alice", "c1")
		app.Querier.SeedComment("c2", "P1", "carol", "")

		assert.True(t, apperrors.IsUnauthorized(app.PostSvc.DeleteComment(ctx, "", "c1")))
		assert.True(t, apperrors.IsForbidden(app.PostSvc.DeleteComment(ctx, "alice", "c1")))
		assert.True(t, apperrors.IsNotFound(app.PostSvc.DeleteComment(ctx, "bob", "nope")))

		require.NoError(t, app.PostSvc.DeleteComment(ctx, "bob", "c1"))
		assert.False(t, app.Querier.HasComment("c1"))
		assert.False(t, app.Querier.HasComment("r1"))
		assert.True(t, app.Querier.HasComment("c2"))
	})
}

func postIDs(posts []internal.PostView) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}
