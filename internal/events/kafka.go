package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xtrntr/coinledger/internal/models"
	"go.uber.org/zap"
)

// KafkaPublisher writes trades to a topic keyed by user id, so one user's
// trades stay ordered within a partition
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Error("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, t models.Trade) error {
	msg, err := tradeMessage(t)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

func tradeMessage(t models.Trade) (kafka.Message, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal trade: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(t.UserID, 10)),
		Value: b,
		Time:  t.ExecutedAt,
		Headers: []kafka.Header{
			{Key: "side", Value: []byte(t.Side)},
			{Key: "symbol", Value: []byte(t.Symbol)},
		},
	}, nil
}
