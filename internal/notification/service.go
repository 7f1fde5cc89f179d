package notification

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/store"
)

// Collection is the record store collection holding notifications.
const Collection = "notifications"

// DefaultRetentionDays is how long notifications are kept by default.
const DefaultRetentionDays = 30

// ErrNotificationNotFound is returned when a notification does not exist
// or belongs to another user.
var ErrNotificationNotFound = apperror.NotFound("notification not found")

// ServiceConfig holds configuration for the notification service.
type ServiceConfig struct {
	Store  store.Store
	Logger zerolog.Logger
}

// Service persists notifications and serves a user's inbox.
type Service struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new notification service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:  cfg.Store,
		logger: cfg.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Name implements Sink.
func (s *Service) Name() string { return "store" }

// Deliver implements Sink by persisting msg.
func (s *Service) Deliver(ctx context.Context, msg Message) error {
	_, err := s.Create(ctx, msg)
	return err
}

// Create persists a notification for msg.UserID.
func (s *Service) Create(ctx context.Context, msg Message) (*Notification, error) {
	if strings.TrimSpace(msg.UserID) == "" {
		return nil, &apperror.ValidationError{Errors: []apperror.FieldError{{Field: "user_id", Message: "is required"}}}
	}
	if msg.Type == "" {
		msg.Type = TypeInfo
	}
	if msg.Category == "" {
		msg.Category = CategorySystem
	}

	n := &Notification{
		UserID:    msg.UserID,
		Title:     msg.Title,
		Message:   msg.Message,
		Type:      msg.Type,
		Category:  msg.Category,
		Link:      msg.Link,
		Metadata:  msg.Metadata,
		CreatedAt: s.now(),
	}

	doc, err := store.Encode(n)
	if err != nil {
		return nil, err
	}
	delete(doc, store.FieldID)

	id, err := s.store.Insert(ctx, Collection, doc)
	if err != nil {
		return nil, err
	}
	n.ID = id
	return n, nil
}

// List returns a page of a user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, opts ListOptions) (*store.PageResult[*Notification], error) {
	filter := store.Where(store.Eq("user_id", userID))
	if opts.IsRead != nil {
		filter = filter.And(store.Eq("is_read", *opts.IsRead))
	}
	return store.FindPage(ctx, s.store, Collection, filter, store.NewPage(opts.Page, opts.Size), decode)
}

// UnreadCount returns how many notifications the user has not read.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.store.Count(ctx, Collection, store.Where(store.Eq("user_id", userID), store.Eq("is_read", false)))
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, id, userID string) error {
	matched, err := s.store.UpdateOne(ctx, Collection, store.ByID(id).And(store.Eq("user_id", userID)), store.Document{"is_read": true})
	if err != nil {
		return err
	}
	if matched == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead marks every unread notification of the user as read and
// returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	docs, err := s.store.Find(ctx, Collection, store.Where(store.Eq("user_id", userID), store.Eq("is_read", false)), store.FindOptions{})
	if err != nil {
		return 0, err
	}

	var marked int64
	for _, doc := range docs {
		matched, err := s.store.UpdateOne(ctx, Collection, store.ByID(doc.ID()).And(store.Eq("is_read", false)), store.Document{"is_read": true})
		if err != nil {
			return marked, err
		}
		marked += matched
	}
	return marked, nil
}

// Delete removes one of the user's notifications.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	deleted, err := s.store.DeleteOne(ctx, Collection, store.ByID(id).And(store.Eq("user_id", userID)))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// DeleteOlderThan removes notifications created more than days ago.
func (s *Service) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := s.now().AddDate(0, 0, -days)

	deleted, err := s.store.DeleteMany(ctx, Collection, store.Where(store.Before("created_at", cutoff)))
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Msg("old notifications deleted")
	return deleted, nil
}

func decode(doc store.Document) (*Notification, error) {
	var n Notification
	if err := store.Decode(doc, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
