package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/infrastructure/config"
)

// Message Kafkaへ送るメッセージ
type Message struct {
	Key   string
	Value []byte
}

// Producer 台帳イベント用の同期プロデューサー
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	tracer   trace.Tracer
}

// NewSaramaConfig 全レプリカ確認・冪等送信の設定を返す
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll // 全レプリカの確認を待つ
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0
	return cfg
}

// NewProducer ブローカーに接続してProducerを作成
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewProducerWithSyncProducer(producer, cfg.Topic), nil
}

// NewProducerWithSyncProducer 既存のSyncProducerからProducerを作成
func NewProducerWithSyncProducer(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		tracer:   otel.Tracer("kafka-producer"),
	}
}

// Topic 送信先トピック
func (p *Producer) Topic() string {
	return p.topic
}

// Publish メッセージを順に送信する。失敗した時点で送信済み件数とエラーを返す
func (p *Producer) Publish(ctx context.Context, messages []Message) (int, error) {
	ctx, span := p.tracer.Start(ctx, "Producer.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", p.topic),
			attribute.Int("messaging.batch.message_count", len(messages)),
		),
	)
	defer span.End()

	for i, m := range messages {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(m.Key),
			Value: sarama.ByteEncoder(m.Value),
		}
		if _, _, err := p.producer.SendMessage(msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return i, fmt.Errorf("failed to send message to %s: %w", p.topic, err)
		}
	}
	return len(messages), nil
}

// Close プロデューサーを閉じる
func (p *Producer) Close() error {
	return p.producer.Close()
}
