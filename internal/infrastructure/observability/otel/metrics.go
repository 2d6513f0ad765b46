package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics メトリクス定義
type Metrics struct {
	// 消費されたクレジット量
	CreditsConsumed metric.Int64Counter

	// 返金されたクレジット量
	CreditsRefunded metric.Int64Counter

	// 引き換えで付与されたクレジット量
	CreditsRedeemed metric.Int64Counter

	// 残高不足の発生件数
	InsufficientCredits metric.Int64Counter

	// キャッシュと台帳の乖離を検出した件数
	BalanceDrift metric.Int64Counter

	// 補償の登録・状態遷移
	PendingCompensations metric.Int64Counter

	// Kafkaへ配信した台帳イベント数
	LedgerEventsPublished metric.Int64Counter

	// リクエスト数
	RequestCount metric.Int64Counter

	// レスポンス時間
	ResponseTime metric.Float64Histogram

	// エラー率
	ErrorCount metric.Int64Counter
}

type counterDef struct {
	target      *metric.Int64Counter
	name        string
	description string
}

// NewMetrics 新しいMetricsを作成
func NewMetrics(meterName string) (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}

	counters := []counterDef{
		{&m.CreditsConsumed, "credits_consumed_total", "Total amount of credits consumed"},
		{&m.CreditsRefunded, "credits_refunded_total", "Total amount of credits refunded"},
		{&m.CreditsRedeemed, "credits_redeemed_total", "Total amount of credits granted by redeem codes"},
		{&m.InsufficientCredits, "insufficient_credits_total", "Total number of rejected debits due to insufficient credits"},
		{&m.BalanceDrift, "balance_drift_total", "Total number of detected cache/ledger drifts"},
		{&m.PendingCompensations, "pending_compensations_total", "Total number of pending compensation transitions"},
		{&m.LedgerEventsPublished, "ledger_events_published_total", "Total number of ledger events published"},
		{&m.RequestCount, "requests_total", "Total number of requests"},
		{&m.ErrorCount, "errors_total", "Total number of errors"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	responseTime, err := meter.Float64Histogram(
		"response_time_seconds",
		metric.WithDescription("Response time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	m.ResponseTime = responseTime

	return m, nil
}

// RecordConsume クレジット消費を記録
func (m *Metrics) RecordConsume(ctx context.Context, action string, amount int64) {
	m.CreditsConsumed.Add(ctx, amount,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordRefund 返金を記録
func (m *Metrics) RecordRefund(ctx context.Context, amount int64) {
	m.CreditsRefunded.Add(ctx, amount)
}

// RecordRedeem 引き換えを記録
func (m *Metrics) RecordRedeem(ctx context.Context, amount int64) {
	m.CreditsRedeemed.Add(ctx, amount)
}

// RecordInsufficientCredits 残高不足を記録
func (m *Metrics) RecordInsufficientCredits(ctx context.Context, action string) {
	m.InsufficientCredits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)),
	)
}

// RecordBalanceDrift 乖離の検出を記録
func (m *Metrics) RecordBalanceDrift(ctx context.Context, source string) {
	m.BalanceDrift.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordCompensation 補償の状態遷移を記録
func (m *Metrics) RecordCompensation(ctx context.Context, status string) {
	m.PendingCompensations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordLedgerEventsPublished 配信件数を記録
func (m *Metrics) RecordLedgerEventsPublished(ctx context.Context, count int) {
	m.LedgerEventsPublished.Add(ctx, int64(count))
}

// RecordRequest リクエストを記録
func (m *Metrics) RecordRequest(ctx context.Context, method, path string) {
	m.RequestCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordResponseTime レスポンス時間を記録
func (m *Metrics) RecordResponseTime(ctx context.Context, method, path string, duration float64) {
	m.ResponseTime.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}

// RecordError エラーを記録
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.ErrorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
		),
	)
}
