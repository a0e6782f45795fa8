package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NotificationType 通知類型
type NotificationType string

const (
	// NotificationComment 文章收到新留言（通知文章作者）
	NotificationComment NotificationType = "comment"
	// NotificationReply 留言收到回覆（通知留言作者）
	NotificationReply NotificationType = "reply"
	// NotificationNewPost 有新文章（通知訂閱者）
	NotificationNewPost NotificationType = "new_post"
)

// Notification 對外發送的通知事件
type Notification struct {
	Type        NotificationType `json:"type"`
	RecipientID string           `json:"recipient_id"`
	PostID      string           `json:"post_id"`
	CommentID   string           `json:"comment_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Validate 檢查事件欄位與類型是否一致
func (n Notification) Validate() error {
	if n.RecipientID == "" {
		return errors.New("notification recipient required")
	}
	if n.PostID == "" {
		return errors.New("notification post id required")
	}

	switch n.Type {
	case NotificationComment, NotificationReply:
		if n.CommentID == "" {
			return fmt.Errorf("%s notification requires comment id", n.Type)
		}
	case NotificationNewPost:
		if n.CommentID != "" {
			return errors.New("new_post notification must not carry comment id")
		}
	default:
		return fmt.Errorf("unknown notification type %q", n.Type)
	}
	return nil
}

// Publisher 通知投遞（推播閘道由下游消費者負責）
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// NotificationRecorder 通知歷史紀錄
type NotificationRecorder interface {
	RecordNotification(ctx context.Context, n Notification) error
}

// NATSPublisher 將通知發布到 NATS JetStream
//
// Subject：{prefix}.{type}，例如 board.notify.comment。
// 推播服務以 Queue Group 訂閱，投遞失敗由 JetStream 重送。
type NATSPublisher struct {
	js     nats.JetStreamContext
	prefix string
}

// NewNATSPublisher 創建發布者並確保 Stream 存在
func NewNATSPublisher(conn *nats.Conn, stream, prefix string) (*NATSPublisher, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.StreamInfo(stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{prefix + ".*"},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
			Replicas: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", stream, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("query stream %s: %w", stream, err)
	}

	return &NATSPublisher{js: js, prefix: prefix}, nil
}

// Publish 發布通知
func (p *NATSPublisher) Publish(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, n.Type)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// NopPublisher 未設定 NATS 時使用
type NopPublisher struct{}

// Publish 不做任何事
func (NopPublisher) Publish(context.Context, Notification) error { return nil }

// Notifier 非同步派送通知
//
// 通知是副作用：失敗只記錄日誌，永遠不影響發文、留言等主流程。
type Notifier struct {
	recorder  NotificationRecorder
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewNotifier 創建通知派送器
func NewNotifier(recorder NotificationRecorder, publisher Publisher, logger *slog.Logger) *Notifier {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Notifier{
		recorder:  recorder,
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    logger,
	}
}

// Send 在背景派送通知，不等待結果
func (n *Notifier) Send(ctx context.Context, notification Notification) {
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if err := notification.Validate(); err != nil {
		n.logger.ErrorContext(ctx, "invalid notification", "error", err)
		return
	}

	// 請求結束後 context 會被取消，派送改用獨立的 context
	bgCtx := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.dispatch(bgCtx, notification)
	}()
}

func (n *Notifier) dispatch(ctx context.Context, notification Notification) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	if n.recorder != nil {
		if err := n.recorder.RecordNotification(ctx, notification); err != nil {
			// 歷史寫入失敗仍嘗試投遞
			n.logger.WarnContext(ctx, "failed to record notification",
				"type", notification.Type,
				"recipient", notification.RecipientID,
				"error", err)
		}
	}

	if err := n.publisher.Publish(ctx, notification); err != nil {
		n.logger.WarnContext(ctx, "failed to publish notification",
			"type", notification.Type,
			"recipient", notification.RecipientID,
			"error", err)
	}
}

// Wait 等待所有派送完成（關閉服務前呼叫）
func (n *Notifier) Wait() {
	n.wg.Wait()
}
