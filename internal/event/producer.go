package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nimbusworks/auth-service/internal/domain"
	pkgkafka "github.com/nimbusworks/auth-service/pkg/kafka"
)

// Kafka topics for auth domain events.
const (
	TopicUserRegistered         = "auth.user.registered"
	TopicPasswordResetRequested = "auth.user.password_reset_requested"
	TopicPasswordResetCompleted = "auth.user.password_reset_completed"
	TopicTokenReuseDetected     = "auth.token.reuse_detected"
	TopicAccountLocked          = "auth.account.locked"
)

const (
	aggregateTypeUser  = "user"
	aggregateTypeToken = "refresh_token"
	sourceAuthService  = "auth-service"
)

// Publisher is the subset of the Kafka producer the event layer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// UserRegisteredData is the payload for an auth.user.registered event.
type UserRegisteredData struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Roles     []string `json:"roles"`
	TenantID  string   `json:"tenant_id"`
}

// PasswordResetData is the payload for password reset lifecycle events.
type PasswordResetData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// TokenReuseData is the payload for an auth.token.reuse_detected event.
type TokenReuseData struct {
	UserID      string   `json:"user_id"`
	Family      string   `json:"family"`
	TokenID     string   `json:"token_id"`
	RevokedJTIs []string `json:"revoked_jtis"`
}

// AccountLockedData is the payload for an auth.account.locked event.
type AccountLockedData struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Attempts     int    `json:"attempts"`
	LockoutUntil string `json:"lockout_until"`
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates an event producer for the auth service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishUserRegistered publishes an auth.user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Roles:     user.Roles,
		TenantID:  user.TenantID,
	}
	return p.publish(ctx, TopicUserRegistered, user.ID, aggregateTypeUser, data)
}

// PublishPasswordResetRequested publishes an auth.user.password_reset_requested event.
func (p *Producer) PublishPasswordResetRequested(ctx context.Context, userID, email string) error {
	return p.publish(ctx, TopicPasswordResetRequested, userID, aggregateTypeUser, PasswordResetData{UserID: userID, Email: email})
}

// PublishPasswordResetCompleted publishes an auth.user.password_reset_completed event.
func (p *Producer) PublishPasswordResetCompleted(ctx context.Context, userID, email string) error {
	return p.publish(ctx, TopicPasswordResetCompleted, userID, aggregateTypeUser, PasswordResetData{UserID: userID, Email: email})
}

// PublishTokenReuseDetected publishes an auth.token.reuse_detected event.
func (p *Producer) PublishTokenReuseDetected(ctx context.Context, data TokenReuseData) error {
	return p.publish(ctx, TopicTokenReuseDetected, data.Family, aggregateTypeToken, data)
}

// PublishAccountLocked publishes an auth.account.locked event.
func (p *Producer) PublishAccountLocked(ctx context.Context, data AccountLockedData) error {
	return p.publish(ctx, TopicAccountLocked, data.UserID, aggregateTypeUser, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, sourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
