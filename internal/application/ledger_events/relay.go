// Package ledger_events は台帳行をKafkaへ配信するリレーを提供する。
// 台帳テーブル自体をアウトボックスとして扱い、配信済み位置をカーソルで管理する。
package ledger_events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"credits-ledger/internal/domain/transaction"
	"credits-ledger/internal/infrastructure/messaging/kafka"
	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

// CursorName リレーカーソルの名前
const CursorName = "ledger_events"

// TransactionReader 台帳の読み出し
type TransactionReader interface {
	FindAfterID(ctx context.Context, afterID int64, createdBefore time.Time, limit int) ([]*transaction.Transaction, error)
}

// CursorStore 配信済み位置の保存先
type CursorStore interface {
	Load(ctx context.Context, name string) (int64, error)
	Store(ctx context.Context, name string, lastID int64) error
}

// Publisher メッセージ送信。送信できた件数を返す
type Publisher interface {
	Publish(ctx context.Context, messages []kafka.Message) (int, error)
}

// RelayOptions リレー設定
type RelayOptions struct {
	Interval    time.Duration
	BatchSize   int
	SettleDelay time.Duration // コミット順とID順のずれを吸収する待ち時間
	GapTimeout  time.Duration // ID欠番の後ろを保留する上限。超えたら欠番を飛ばす
}

// idGap 未コミットの可能性がある欠番
type idGap struct {
	id    int64
	since time.Time
}

// LedgerEventRelay 台帳イベントリレー
type LedgerEventRelay struct {
	reader    TransactionReader
	cursors   CursorStore
	publisher Publisher
	logger    *otelinfra.Logger
	metrics   *otelinfra.Metrics
	tracer    trace.Tracer
	opts      RelayOptions
	now       func() time.Time
	gap       *idGap
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewLedgerEventRelay 新しいLedgerEventRelayを作成
func NewLedgerEventRelay(
	reader TransactionReader,
	cursors CursorStore,
	publisher Publisher,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	opts RelayOptions,
) *LedgerEventRelay {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.GapTimeout < 0 {
		opts.GapTimeout = 0
	}
	return &LedgerEventRelay{
		reader:    reader,
		cursors:   cursors,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("ledger-event-relay"),
		opts:      opts,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// RunOnce 1バッチ分を配信し、配信件数を返す
// 一部だけ送信できた場合は送信済みの行までカーソルを進めてエラーを返す
func (r *LedgerEventRelay) RunOnce(ctx context.Context) (int, error) {
	ctx, span := r.tracer.Start(ctx, "LedgerEventRelay.RunOnce")
	defer span.End()

	lastID, err := r.cursors.Load(ctx, CursorName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to load relay cursor: %w", err)
	}
	span.SetAttributes(attribute.Int64("relay.cursor", lastID))

	rows, err := r.reader.FindAfterID(ctx, lastID, r.now().Add(-r.opts.SettleDelay), r.opts.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to read ledger: %w", err)
	}
	rows = r.untilGap(ctx, lastID, rows)
	if len(rows) == 0 {
		return 0, nil
	}

	messages := make([]kafka.Message, 0, len(rows))
	for _, row := range rows {
		payload, err := json.Marshal(newLedgerEvent(row))
		if err != nil {
			return 0, fmt.Errorf("failed to encode ledger event %d: %w", row.ID(), err)
		}
		messages = append(messages, kafka.Message{Key: row.UserID(), Value: payload})
	}

	sent, pubErr := r.publisher.Publish(ctx, messages)
	if sent > 0 {
		if err := r.cursors.Store(ctx, CursorName, rows[sent-1].ID()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			// 次回同じ行を再送する
			return sent, fmt.Errorf("failed to store relay cursor: %w", err)
		}
		r.metrics.RecordLedgerEventsPublished(ctx, sent)
	}
	span.SetAttributes(attribute.Int("relay.sent", sent))

	if pubErr != nil {
		span.RecordError(pubErr)
		span.SetStatus(codes.Error, pubErr.Error())
		return sent, pubErr
	}
	span.SetStatus(codes.Ok, "batch published")
	return sent, nil
}

// untilGap 欠番の手前までに行を絞る
// 欠番はロールバックでも生じるため、GapTimeoutを過ぎたら飛ばして先へ進む
func (r *LedgerEventRelay) untilGap(ctx context.Context, lastID int64, rows []*transaction.Transaction) []*transaction.Transaction {
	expected := lastID + 1
	for i, row := range rows {
		// 初回は開始IDが分からない
		if row.ID() == expected || (lastID == 0 && i == 0) {
			expected = row.ID() + 1
			continue
		}

		now := r.now()
		if r.gap == nil || r.gap.id != expected {
			r.gap = &idGap{id: expected, since: now}
		}
		if now.Sub(r.gap.since) < r.opts.GapTimeout {
			return rows[:i]
		}

		r.logger.Warn(ctx, "Ledger event relay skipped id gap", map[string]interface{}{
			"from": expected,
			"to":   row.ID() - 1,
		})
		r.gap = nil
		expected = row.ID() + 1
	}
	r.gap = nil
	return rows
}

// Start ctxがキャンセルされるかStopが呼ばれるまでループする
func (r *LedgerEventRelay) Start(ctx context.Context) {
	r.logger.Info(ctx, "Ledger event relay started", map[string]interface{}{
		"interval":     r.opts.Interval.String(),
		"batch_size":   r.opts.BatchSize,
		"settle_delay": r.opts.SettleDelay.String(),
		"gap_timeout":  r.opts.GapTimeout.String(),
	})

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info(context.Background(), "Ledger event relay stopped", nil)
			return
		case <-r.stopCh:
			r.logger.Info(ctx, "Ledger event relay stopped", nil)
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain 取り残しがなくなるまでバッチを繰り返す
func (r *LedgerEventRelay) drain(ctx context.Context) {
	for {
		sent, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error(ctx, "Ledger event relay failed", err, map[string]interface{}{
				"sent": sent,
			})
			return
		}
		if sent < r.opts.BatchSize {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		default:
		}
	}
}

// Stop リレーを停止
func (r *LedgerEventRelay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}
