// Package cleanup は実行履歴と出力ファイルの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した実行履歴を日次で削除する。
// run_verdictsはCASCADE削除で自動的に処理される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunPruner は古い実行履歴を削除するインターフェース。
type RunPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// 出力ファイル名の接頭辞。audit-2026-02-03.json の形式。
var outputPrefixes = []string{"audit-", "briefing-"}

// CleanupJob は保持期間を超過した実行履歴の自動削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	runs          RunPruner
	outputDir     string
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 実行履歴の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// runsがnilの場合はDBの削除を行わない。outputDirが空の場合はファイルの削除を行わない。
func NewCleanupJob(runs RunPruner, outputDir string, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		runs:          runs,
		outputDir:     outputDir,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 30,
	}
}

// Cutoff は削除の境界時刻を返す。これより前の配信時刻を持つ履歴が対象。
func (j *CleanupJob) Cutoff() time.Time {
	return j.now().AddDate(0, 0, -j.RetentionDays)
}

// Run は保持期間を超過した実行履歴と出力ファイルを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.Cutoff()

	var deletedRuns int64
	if j.runs != nil {
		n, err := j.runs.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			j.logger.Error("実行履歴クリーンアップジョブの実行に失敗しました",
				slog.String("error", err.Error()),
				slog.Int("retention_days", j.RetentionDays),
			)
			return fmt.Errorf("実行履歴クリーンアップの実行に失敗: %w", err)
		}
		deletedRuns = n
	}

	deletedFiles, err := j.pruneOutputs(cutoff)
	if err != nil {
		j.logger.Error("出力ファイルの削除に失敗しました",
			slog.String("error", err.Error()),
			slog.String("output_dir", j.outputDir),
		)
		return fmt.Errorf("出力ファイルの削除に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("実行履歴クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedRuns),
		slog.Int("deleted_files", deletedFiles),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はinterval間隔でRunを実行する。コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// エラーはRun内でログ出力済み
			_ = j.Run(ctx)
		}
	}
}

// pruneOutputs はファイル名の日付がcutoffより前の出力ファイルを削除する。
func (j *CleanupJob) pruneOutputs(cutoff time.Time) (int, error) {
	if j.outputDir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(j.outputDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	// 日付単位で比較する。cutoff当日のファイルは残す。
	cutoffDay := cutoff.UTC().Format("2006-01-02")
	deleted := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		date, ok := outputDate(e.Name())
		if !ok || date >= cutoffDay {
			continue
		}
		if err := os.Remove(filepath.Join(j.outputDir, e.Name())); err != nil && !os.IsNotExist(err) {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// outputDate は出力ファイル名から日付部分を取り出す。
func outputDate(name string) (string, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	for _, p := range outputPrefixes {
		if !strings.HasPrefix(name, p) {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, p), ".json")
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return "", false
		}
		return date, true
	}
	return "", false
}
