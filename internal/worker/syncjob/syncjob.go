// Package syncjob は1回の同期パスを実行し、実行履歴とメトリクスを記録するジョブを提供する。
package syncjob

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/adsync/internal/metrics"
	"github.com/hitoshi/adsync/internal/model"
	"github.com/hitoshi/adsync/internal/reconcile"
	"github.com/hitoshi/adsync/internal/repository"
)

// Synchronizer は同期パスを実行するインターフェース。
type Synchronizer interface {
	Synchronize(ctx context.Context, progress reconcile.Progress) (*model.SyncSummary, error)
}

// Job は同期パスの実行単位。
// 履歴リポジトリとメトリクスは任意で、nilの場合は記録しない。
type Job struct {
	synchronizer Synchronizer
	runs         repository.SyncRunRepository
	metrics      metrics.MetricsCollector
	dryRun       bool
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.RWMutex
	lastRun *model.SyncRun
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(
	synchronizer Synchronizer,
	runs repository.SyncRunRepository,
	collector metrics.MetricsCollector,
	dryRun bool,
	logger *slog.Logger,
) *Job {
	return &Job{
		synchronizer: synchronizer,
		runs:         runs,
		metrics:      collector,
		dryRun:       dryRun,
		logger:       logger,
		now:          time.Now,
	}
}

// RunOnce は同期パスを1回実行する。
// Synchronizeのエラーはそのまま返す。
// 履歴の保存失敗はログに記録するだけで同期処理には影響させない。
func (j *Job) RunOnce(ctx context.Context) error {
	start := j.now()
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		StartedAt: start.UTC(),
		Status:    model.SyncRunStatusRunning,
		DryRun:    j.dryRun,
	}
	j.setLastRun(run)

	if j.runs != nil {
		if err := j.runs.Create(ctx, run); err != nil {
			j.logger.Warn("同期履歴の作成に失敗しました",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	j.logger.Info("同期パスを開始します",
		slog.String("run_id", run.ID),
		slog.Bool("dry_run", j.dryRun),
	)

	progress := reconcile.ProgressFunc(func(message string) {
		j.logger.Info(message, slog.String("run_id", run.ID))
	})

	summary, err := j.synchronizer.Synchronize(ctx, progress)

	finishedAt := j.now().UTC()
	finished := *run
	finished.FinishedAt = &finishedAt
	if summary != nil {
		finished.Summary = *summary
	}
	switch {
	case err == nil:
		finished.Status = model.SyncRunStatusSucceeded
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		finished.Status = model.SyncRunStatusCanceled
		finished.ErrorMessage = err.Error()
	default:
		finished.Status = model.SyncRunStatusFailed
		finished.ErrorMessage = err.Error()
	}
	j.setLastRun(&finished)

	duration := finished.Duration()
	if j.metrics != nil {
		j.metrics.RecordSyncRun(finished.Status, duration)
		j.metrics.RecordSummary(&finished.Summary)
	}

	if j.runs != nil {
		// キャンセル済みでも履歴は保存する
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := j.runs.Finish(saveCtx, &finished); err != nil {
			j.logger.Warn("同期履歴の更新に失敗しました",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	j.logger.Info("同期パスが完了しました",
		slog.String("run_id", run.ID),
		slog.String("status", string(finished.Status)),
		slog.Int("mappings_processed", finished.Summary.MappingsProcessed),
		slog.Int("mappings_skipped", finished.Summary.MappingsSkipped),
		slog.Int("orgs_created", finished.Summary.OrgsCreated),
		slog.Int("teams_created", finished.Summary.TeamsCreated),
		slog.Int("users_created", finished.Summary.UsersCreated),
		slog.Int("memberships_added", finished.Summary.MembershipsAdded),
		slog.Int("failures", finished.Summary.Failures),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return err
}

// LastRun は直近の同期パスのスナップショットを返す。未実行の場合はnil。
func (j *Job) LastRun() *model.SyncRun {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.lastRun == nil {
		return nil
	}
	run := *j.lastRun
	return &run
}

func (j *Job) setLastRun(run *model.SyncRun) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastRun = run
}
