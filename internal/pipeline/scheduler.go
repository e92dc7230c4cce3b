package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner はパイプライン1回分の実行インターフェース。
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Scheduler はパイプラインを定期実行する。
// 前回の実行が終わっていない場合、そのティックは読み飛ばす。
type Scheduler struct {
	runner Runner
	logger *slog.Logger
	mu     sync.Mutex
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{runner: runner, logger: logger}
}

// Start は起動直後に1回実行し、以降interval間隔で実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("実行スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("実行スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce はパイプラインを1回実行する。失敗はログに記録して握りつぶす。
// 実行中に呼ばれた場合は何もせずfalseを返す。
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.mu.TryLock() {
		s.logger.Warn("前回の実行が継続中のためスキップします")
		return false
	}
	defer s.mu.Unlock()

	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.Error("パイプラインの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return true
}
