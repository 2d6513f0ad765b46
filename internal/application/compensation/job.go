package compensation

import (
	"context"
	"sync"
	"time"

	otelinfra "credits-ledger/internal/infrastructure/observability/otel"
)

// CompensationJob 未処理の補填を定期的に再実行するバックグラウンドジョブ
type CompensationJob struct {
	service  *CompensationApplicationService
	logger   *otelinfra.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCompensationJob 新しいCompensationJobを作成
func NewCompensationJob(service *CompensationApplicationService, logger *otelinfra.Logger, interval time.Duration) *CompensationJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &CompensationJob{
		service:  service,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start ctxがキャンセルされるかStopが呼ばれるまでループする
func (j *CompensationJob) Start(ctx context.Context) {
	j.logger.Info(ctx, "Compensation job started", map[string]interface{}{
		"interval": j.interval.String(),
	})

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info(context.Background(), "Compensation job stopped", nil)
			return
		case <-j.stopCh:
			j.logger.Info(ctx, "Compensation job stopped", nil)
			return
		case <-ticker.C:
			// エラーはサービス内で記録済み
			_, _ = j.service.ProcessPending(ctx)
		}
	}
}

// Stop ジョブを停止
func (j *CompensationJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.stopCh)
	})
}
