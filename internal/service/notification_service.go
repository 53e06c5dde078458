package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-contracts/internal/models"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
)

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	List(ctx context.Context, userID uuid.UUID, onlyUnread bool, limit, offset int) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// Broadcaster доставляет уведомление в открытые WebSocket соединения
// пользователя. Реализуется ws.Hub.
type Broadcaster interface {
	BroadcastToUser(userID uuid.UUID, message []byte)
}

// NotificationService содержит бизнес-логику работы с уведомлениями.
type NotificationService struct {
	repo        NotificationRepository
	broadcaster Broadcaster
}

// NewNotificationService создаёт новый сервис уведомлений.
func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

// SetBroadcaster подключает WebSocket hub. Вызывается при сборке
// приложения после создания hub.
func (s *NotificationService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Notify создаёт уведомление, сохраняет его и доставляет в открытые
// соединения пользователя. Ошибка доставки по WebSocket не считается
// ошибкой операции: уведомление уже сохранено и будет прочитано позже.
func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, notificationType, title, content string, relatedEntityID *uuid.UUID, priority string, data interface{}) (*models.Notification, error) {
	payload := map[string]interface{}{
		"event": notificationType,
		"data":  data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("notification service: marshal payload %w", err)
	}

	if priority == "" {
		priority = models.NotificationPriorityNormal
	}

	notification := &models.Notification{
		ID:              uuid.New(),
		UserID:          userID,
		Type:            notificationType,
		Title:           title,
		Content:         content,
		RelatedEntityID: relatedEntityID,
		Priority:        priority,
		Payload:         payloadBytes,
		IsRead:          false,
	}

	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, err
	}

	if s.broadcaster != nil {
		if message, err := json.Marshal(notification); err == nil {
			s.broadcaster.BroadcastToUser(userID, message)
		}
	}

	return notification, nil
}

// ListNotifications возвращает список уведомлений пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, onlyUnread bool, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, userID, onlyUnread, limit, offset)
}

// MarkAsRead отмечает уведомление как прочитанное.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	notification, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if notification.UserID != userID {
		return apperror.New(apperror.ErrCodeForbidden, "у вас нет прав на это уведомление")
	}

	return s.repo.MarkAsRead(ctx, id, userID)
}

// MarkAllAsRead отмечает все уведомления пользователя как прочитанные.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
