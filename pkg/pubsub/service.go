package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const EventCallCompleted = "call.completed"

type PubSubConfig struct {
	ProjectID string
	TopicName string
	// PubID prefixes the "name" attribute so subscriptions can filter per environment
	PubID string
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallCompletedEvent is published once a call reached a terminal status with its outcome
type CallCompletedEvent struct {
	ID              string     `json:"id"`
	CallID          string     `json:"call_id"`
	UserID          string     `json:"user_id"`
	AgentID         string     `json:"agent_id"`
	ConversationID  string     `json:"conversation_id,omitempty"`
	PhoneNumber     string     `json:"phone_number"`
	Status          string     `json:"status"`
	Outcome         string     `json:"outcome,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	Cost            float64    `json:"cost"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig, opts ...option.ClientOption) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}
	if cfg.TopicName == "" {
		return nil, fmt.Errorf("PubSub topic name is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topicname", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
		logger.Base().Info("Topic created successfully", zap.String("topicname", cfg.TopicName))
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallCompleted publishes a call.completed event and waits for the server ack
func (p *PubSubService) PublishCallCompleted(ctx context.Context, evt CallCompletedEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal call completed event: %w", err)
	}

	name := evt.ID
	if p.config.PubID != "" {
		name = p.config.PubID + ":" + evt.ID
	}

	message := &pubsub.Message{
		Attributes: map[string]string{
			"name":       name,
			"event_type": EventCallCompleted,
			"user_id":    evt.UserID,
		},
		Data: data,
	}

	result := p.topic.Publish(ctx, message)
	serverID, err := result.Get(ctx)
	if err != nil {
		logger.Error(ctx, "Failed to publish call completed event", zap.String("call_id", evt.CallID), zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}

	logger.Info(ctx, "Published call completed event", zap.String("call_id", evt.CallID), zap.String("outcome", evt.Outcome), zap.String("message_id", serverID))
	return nil
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
