package testutils

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koopa0/system-design/14-view-counter/internal"
	"github.com/koopa0/system-design/14-view-counter/internal/sqlc"
)

// ErrInjected 測試注入的錯誤
var ErrInjected = errors.New("injected failure")

// FakeStore 記憶體版 FastStore
//
// 支援 TTL（以注入的時鐘判斷過期）、依操作注入錯誤與呼叫計數。
type FakeStore struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
	zsets   map[string]map[string]float64
	now     func() time.Time

	// 依操作名稱注入錯誤："get"、"incr"、"expire"、"setnx"、"cad"、"del"、"zadd"、"zrevrange"、"zrem"、"ping"
	failOps map[string]error
	// 依 key 注入 Get 錯誤
	failGetKeys map[string]error

	IncrCalls atomic.Int32
	GetCalls  atomic.Int32
	ZAddCalls atomic.Int32
	SetNXCall atomic.Int32
}

var _ internal.FastStore = (*FakeStore)(nil)

// NewFakeStore 創建記憶體儲存
func NewFakeStore() *FakeStore {
	return &FakeStore{
		values:      make(map[string]string),
		expires:     make(map[string]time.Time),
		zsets:       make(map[string]map[string]float64),
		now:         time.Now,
		failOps:     make(map[string]error),
		failGetKeys: make(map[string]error),
	}
}

// SetClock 替換時鐘（測試 TTL 用）
func (s *FakeStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn 讓指定操作返回錯誤，err 為 nil 時取消注入
func (s *FakeStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOps, op)
		return
	}
	s.failOps[op] = err
}

// FailGetKey 讓指定 key 的 Get 返回錯誤
func (s *FakeStore) FailGetKey(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGetKeys[key] = err
}

// SetValue 直接寫入值（測試用）
func (s *FakeStore) SetValue(key string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = strconv.FormatInt(value, 10)
	delete(s.expires, key)
}

// Value 直接讀取值（測試用）
func (s *FakeStore) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(key) {
		return "", false
	}
	v, ok := s.values[key]
	return v, ok
}

// TTL 剩餘過期時間，沒有 TTL 時為 0
func (s *FakeStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[key]
	if !ok {
		return 0
	}
	return exp.Sub(s.now())
}

// Score 排行榜分數
func (s *FakeStore) Score(key, member string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.zsets[key][member]
	return score, ok
}

// ZCard 排行榜大小
func (s *FakeStore) ZCard(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.zsets[key])
}

func (s *FakeStore) fail(op string) error {
	return s.failOps[op]
}

func (s *FakeStore) expiredLocked(key string) bool {
	exp, ok := s.expires[key]
	if !ok || s.now().Before(exp) {
		return false
	}
	delete(s.values, key)
	delete(s.expires, key)
	return true
}

// Get 實作 FastStore
func (s *FakeStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.GetCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("get"); err != nil {
		return 0, false, err
	}
	if err := s.failGetKeys[key]; err != nil {
		return 0, false, err
	}
	if s.expiredLocked(key) {
		return 0, false, nil
	}

	raw, ok := s.values[key]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Incr 實作 FastStore
func (s *FakeStore) Incr(_ context.Context, key string) (int64, error) {
	s.IncrCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("incr"); err != nil {
		return 0, err
	}
	s.expiredLocked(key)

	var n int64
	if raw, ok := s.values[key]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	s.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

// Expire 實作 FastStore
func (s *FakeStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("expire"); err != nil {
		return err
	}
	if _, ok := s.values[key]; !ok {
		return nil
	}
	s.expires[key] = s.now().Add(ttl)
	return nil
}

// SetNX 實作 FastStore
func (s *FakeStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.SetNXCall.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("setnx"); err != nil {
		return false, err
	}
	s.expiredLocked(key)

	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	}
	return true, nil
}

// CompareAndDelete 實作 FastStore
func (s *FakeStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("cad"); err != nil {
		return false, err
	}
	s.expiredLocked(key)

	if s.values[key] != value {
		return false, nil
	}
	delete(s.values, key)
	delete(s.expires, key)
	return true, nil
}

// Del 實作 FastStore
func (s *FakeStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("del"); err != nil {
		return err
	}
	for _, key := range keys {
		delete(s.values, key)
		delete(s.expires, key)
		delete(s.zsets, key)
	}
	return nil
}

// ZAdd 實作 FastStore
func (s *FakeStore) ZAdd(_ context.Context, key, member string, score float64) error {
	s.ZAddCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("zadd"); err != nil {
		return err
	}
	if s.zsets[key] == nil {
		s.zsets[key] = make(map[string]float64)
	}
	s.zsets[key][member] = score
	return nil
}

// ZRevRange 實作 FastStore，同分時依 member 字典序倒序（與 Redis 一致）
func (s *FakeStore) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("zrevrange"); err != nil {
		return nil, err
	}

	zset := s.zsets[key]
	members := make([]string, 0, len(zset))
	for m := range zset {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if zset[members[i]] != zset[members[j]] {
			return zset[members[i]] > zset[members[j]]
		}
		return members[i] > members[j]
	})

	n := int64(len(members))
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start >= n || start > stop {
		return []string{}, nil
	}
	return slices.Clone(members[start : stop+1]), nil
}

// ZRem 實作 FastStore
func (s *FakeStore) ZRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail("zrem"); err != nil {
		return err
	}
	delete(s.zsets[key], member)
	return nil
}

// Ping 實作 FastStore
func (s *FakeStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail("ping")
}

// MockQuerier 實作 sqlc.Querier 介面的 mock
type MockQuerier struct {
	mu            sync.RWMutex
	posts         map[string]sqlc.Post
	comments      map[string]sqlc.Comment
	notifications []sqlc.Notification
	nextNotifyID  int64

	// 記錄呼叫次數
	GetCalls      atomic.Int32
	ListCalls     atomic.Int32
	SetViewsCalls atomic.Int32

	// 錯誤注入
	ShouldFailNext bool
	FailError      error
	// 依文章 ID 注入 SetPostViewCount 錯誤
	FailSetViews map[string]error
	// 所有 InsertNotification 返回此錯誤
	FailNotify error
}

var _ sqlc.Querier = (*MockQuerier)(nil)

// NewMockQuerier 創建新的 MockQuerier
func NewMockQuerier() *MockQuerier {
	return &MockQuerier{
		posts:        make(map[string]sqlc.Post),
		comments:     make(map[string]sqlc.Comment),
		FailSetViews: make(map[string]error),
	}
}

func (m *MockQuerier) takeFailure() error {
	if m.ShouldFailNext {
		m.ShouldFailNext = false
		return m.FailError
	}
	return nil
}

func now() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
}

// CountComments 實作 sqlc 的 CountComments 方法
func (m *MockQuerier) CountComments(_ context.Context, postID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.takeFailure(); err != nil {
		return 0, err
	}

	var n int64
	for _, c := range m.comments {
		if c.PostID == postID {
			n++
		}
	}
	return n, nil
}

// CreateComment 實作 sqlc 的 CreateComment 方法
func (m *MockQuerier) CreateComment(_ context.Context, arg sqlc.CreateCommentParams) (sqlc.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return sqlc.Comment{}, err
	}
	if _, ok := m.posts[arg.PostID]; !ok {
		return sqlc.Comment{}, &pgconn.PgError{Code: "23503"} // foreign key violation
	}

	c := sqlc.Comment{
		ID:        arg.ID,
		PostID:    arg.PostID,
		AuthorID:  arg.AuthorID,
		Content:   arg.Content,
		ParentID:  arg.ParentID,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	m.comments[c.ID] = c
	return c, nil
}

// CreatePost 實作 sqlc 的 CreatePost 方法
func (m *MockQuerier) CreatePost(_ context.Context, arg sqlc.CreatePostParams) (sqlc.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return sqlc.Post{}, err
	}
	if _, exists := m.posts[arg.ID]; exists {
		return sqlc.Post{}, &pgconn.PgError{Code: "23505"} // unique violation
	}

	p := sqlc.Post{
		ID:        arg.ID,
		Title:     arg.Title,
		Content:   arg.Content,
		AuthorID:  arg.AuthorID,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	m.posts[p.ID] = p
	return p, nil
}

// DeletePost 實作 sqlc 的 DeletePost 方法
func (m *MockQuerier) DeletePost(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	if _, ok := m.posts[id]; !ok {
		return 0, nil
	}
	delete(m.posts, id)
	for cid, c := range m.comments {
		if c.PostID == id {
			delete(m.comments, cid)
		}
	}
	return 1, nil
}

// GetComment 實作 sqlc 的 GetComment 方法
func (m *MockQuerier) GetComment(_ context.Context, id string) (sqlc.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.takeFailure(); err != nil {
		return sqlc.Comment{}, err
	}
	c, ok := m.comments[id]
	if !ok {
		return sqlc.Comment{}, pgx.ErrNoRows
	}
	return c, nil
}

// GetPost 實作 sqlc 的 GetPost 方法
func (m *MockQuerier) GetPost(_ context.Context, id string) (sqlc.Post, error) {
	m.GetCalls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.takeFailure(); err != nil {
		return sqlc.Post{}, err
	}
	p, ok := m.posts[id]
	if !ok {
		return sqlc.Post{}, pgx.ErrNoRows
	}
	return p, nil
}

// GetPostsByIDs 實作 sqlc 的 GetPostsByIDs 方法
func (m *MockQuerier) GetPostsByIDs(_ context.Context, ids []string) ([]sqlc.Post, error) {
	m.GetCalls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	var result []sqlc.Post
	for _, id := range ids {
		if p, ok := m.posts[id]; ok {
			result = append(result, p)
		}
	}
	// 資料庫不保證順序，反轉以確保呼叫者不依賴輸入順序
	slices.Reverse(result)
	return result, nil
}

// InsertNotification 實作 sqlc 的 InsertNotification 方法
func (m *MockQuerier) InsertNotification(_ context.Context, arg sqlc.InsertNotificationParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNotify != nil {
		return m.FailNotify
	}

	m.nextNotifyID++
	m.notifications = append(m.notifications, sqlc.Notification{
		ID:        m.nextNotifyID,
		UserID:    arg.UserID,
		Type:      arg.Type,
		PostID:    arg.PostID,
		CommentID: arg.CommentID,
		CreatedAt: now(),
	})
	return nil
}

// SetPostViewCount 實作 sqlc 的 SetPostViewCount 方法
func (m *MockQuerier) SetPostViewCount(_ context.Context, arg sqlc.SetPostViewCountParams) (int64, error) {
	m.SetViewsCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.FailSetViews[arg.ID]; err != nil {
		return 0, err
	}
	p, ok := m.posts[arg.ID]
	if !ok {
		return 0, nil
	}
	p.ViewCount = arg.ViewCount
	m.posts[arg.ID] = p
	return 1, nil
}

// ListPosts 實作 sqlc 的 ListPosts 方法
func (m *MockQuerier) ListPosts(_ context.Context, arg sqlc.ListPostsParams) ([]sqlc.Post, error) {
	m.ListCalls.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	matched := m.filterPosts(arg.AuthorID, arg.Query)
	slices.SortFunc(matched, func(a, b sqlc.Post) int {
		if c := b.CreatedAt.Time.Compare(a.CreatedAt.Time); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	start := min(int(arg.RowOffset), len(matched))
	end := min(start+int(arg.RowLimit), len(matched))
	return matched[start:end], nil
}

// CountPosts 實作 sqlc 的 CountPosts 方法
func (m *MockQuerier) CountPosts(_ context.Context, arg sqlc.CountPostsParams) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	return int64(len(m.filterPosts(arg.AuthorID, arg.Query))), nil
}

// likeUnescape 還原 ILIKE 跳脫字元
var likeUnescape = strings.NewReplacer(`\%`, "%", `\_`, "_", `\\`, `\`)

// filterPosts 模擬 author_id 與 ILIKE 條件
func (m *MockQuerier) filterPosts(authorID, query pgtype.Text) []sqlc.Post {
	needle := strings.ToLower(likeUnescape.Replace(query.String))

	var result []sqlc.Post
	for _, p := range m.posts {
		if authorID.Valid && p.AuthorID != authorID.String {
			continue
		}
		if query.Valid &&
			!strings.Contains(strings.ToLower(p.Title), needle) &&
			!strings.Contains(strings.ToLower(p.Content), needle) {
			continue
		}
		result = append(result, p)
	}
	return result
}

// ListComments 實作 sqlc 的 ListComments 方法
func (m *MockQuerier) ListComments(_ context.Context, postID string) ([]sqlc.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	var result []sqlc.Comment
	for _, c := range m.comments {
		if c.PostID == postID {
			result = append(result, c)
		}
	}
	slices.SortFunc(result, func(a, b sqlc.Comment) int {
		if c := a.CreatedAt.Time.Compare(b.CreatedAt.Time); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

// UpdateComment 實作 sqlc 的 UpdateComment 方法
func (m *MockQuerier) UpdateComment(_ context.Context, arg sqlc.UpdateCommentParams) (sqlc.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return sqlc.Comment{}, err
	}
	c, ok := m.comments[arg.ID]
	if !ok {
		return sqlc.Comment{}, pgx.ErrNoRows
	}
	c.Content = arg.Content
	c.UpdatedAt = now()
	m.comments[arg.ID] = c
	return c, nil
}

// DeleteComment 實作 sqlc 的 DeleteComment 方法，回覆隨之級聯刪除
func (m *MockQuerier) DeleteComment(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	if _, ok := m.comments[id]; !ok {
		return 0, nil
	}
	delete(m.comments, id)
	for cid, c := range m.comments {
		if c.ParentID.Valid && c.ParentID.String == id {
			delete(m.comments, cid)
		}
	}
	return 1, nil
}

// SetPostCreatedAt 調整文章建立時間（測試排序用）
func (m *MockQuerier) SetPostCreatedAt(id string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.posts[id]; ok {
		p.CreatedAt = pgtype.Timestamptz{Time: t, Valid: true}
		m.posts[id] = p
	}
}

// HasComment 留言是否存在（測試用）
func (m *MockQuerier) HasComment(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.comments[id]
	return ok
}

// SeedPost 直接寫入文章（測試用）
func (m *MockQuerier) SeedPost(id, authorID string, viewCount int64) sqlc.Post {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := sqlc.Post{
		ID:        id,
		Title:     "title " + id,
		Content:   "content " + id,
		AuthorID:  authorID,
		ViewCount: viewCount,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	m.posts[id] = p
	return p
}

// SeedComment 直接寫入留言（測試用），parentID 為空表示頂層留言
func (m *MockQuerier) SeedComment(id, postID, authorID, parentID string) sqlc.Comment {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := sqlc.Comment{
		ID:        id,
		PostID:    postID,
		AuthorID:  authorID,
		Content:   "comment " + id,
		ParentID:  pgtype.Text{String: parentID, Valid: parentID != ""},
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	m.comments[id] = c
	return c
}

// ViewCount 直接讀取文章的持久化計數（測試用）
func (m *MockQuerier) ViewCount(id string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	return p.ViewCount, ok
}

// HasPost 文章是否存在（測試用）
func (m *MockQuerier) HasPost(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.posts[id]
	return ok
}

// Notifications 已寫入的通知歷史（測試用）
func (m *MockQuerier) Notifications() []sqlc.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.notifications)
}
