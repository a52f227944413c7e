package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
)

const (
	// StreamName is the name of the chat message stream.
	StreamName = "CHAT_MESSAGES"

	// SubjectPrefix is the prefix for all message subjects.
	SubjectPrefix = "chat"

	// ConversationBucket is the key-value bucket holding conversation records.
	ConversationBucket = "CHAT_CONVERSATIONS"

	fetchBatch = 256
)

// HistoryStore keeps messages in a JetStream stream, one subject per
// conversation, and conversation records in a key-value bucket.
type HistoryStore struct {
	client *Client
	kv     jetstream.KeyValue
}

// NewHistoryStore ensures the stream and bucket exist.
func NewHistoryStore(ctx context.Context, client *Client) (*HistoryStore, error) {
	js := client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to look up stream: %w", err)
		}
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        StreamName,
			Subjects:    []string{SubjectPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      365 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			Description: "Repository chat messages",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream: %w", err)
		}
	}

	kv, err := js.KeyValue(ctx, ConversationBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      ConversationBucket,
			Description: "Repository chat conversations",
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation bucket: %w", err)
	}

	return &HistoryStore{client: client, kv: kv}, nil
}

// MessageSubject returns the subject messages of a conversation publish to.
func MessageSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s.msg", SubjectPrefix, conversationID)
}

// SaveConversation writes a conversation record.
func (s *HistoryStore) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if _, err := s.kv.Put(ctx, conv.ID, data); err != nil {
		return fmt.Errorf("failed to store conversation: %w", err)
	}
	return nil
}

// Conversation reads a conversation record.
func (s *HistoryStore) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	entry, err := s.kv.Get(ctx, id)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "nats.Conversation", fmt.Sprintf("conversation %q", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(entry.Value(), &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// Conversations returns every conversation owned by userID.
func (s *HistoryStore) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	keys, err := s.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	var convs []model.Conversation
	for _, key := range keys {
		conv, err := s.Conversation(ctx, key)
		if err != nil {
			return nil, err
		}
		if conv.UserID == userID {
			convs = append(convs, *conv)
		}
	}
	return convs, nil
}

// AppendMessage publishes a message to its conversation subject.
func (s *HistoryStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := s.client.JetStream().Publish(ctx, MessageSubject(msg.ConversationID), data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Messages replays every message of a conversation in publish order.
func (s *HistoryStore) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	consumer, err := s.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{MessageSubject(conversationID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read consumer info: %w", err)
	}

	remaining := int(info.NumPending)
	messages := make([]model.Message, 0, remaining)
	for remaining > 0 {
		batch, err := consumer.Fetch(min(remaining, fetchBatch), jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages: %w", err)
		}

		received := 0
		for msg := range batch.Messages() {
			received++
			var message model.Message
			if err := json.Unmarshal(msg.Data(), &message); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if received == 0 {
			break
		}
		remaining -= received
	}

	return messages, nil
}

// Ready reports whether the NATS connection is up.
func (s *HistoryStore) Ready(context.Context) error {
	if !s.client.IsConnected() {
		return errors.New("NATS not connected")
	}
	return nil
}
