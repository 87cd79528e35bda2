// Package runloop は同期パスを一定間隔で繰り返し実行するバックグラウンドループを提供する。
// 各サイクルの前に実行可能な時間帯を確認し、時間外であれば待機する。
package runloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hitoshi/adsync/internal/schedule"
)

// MinInterval は同期間隔の下限。これより短い設定値は切り上げる。
const MinInterval = time.Minute

// ErrAlreadyStarted は実行中のループを再度開始しようとしたことを示す。
var ErrAlreadyStarted = errors.New("run loop already started")

// State はループの状態。
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Job は1回の同期パスを実行するインターフェース。
type Job interface {
	RunOnce(ctx context.Context) error
}

// Config はループの動作設定。
type Config struct {
	Interval         time.Duration
	MinimumTimeOfDay *schedule.TimeOfDay
	MaximumTimeOfDay *schedule.TimeOfDay
}

// Service は同期ジョブを駆動するループ。
// 同時に動作するドライバーは1つだけで、Start/Stop/Stateは別のゴルーチンから呼び出せる。
type Service struct {
	job    Job
	config Config
	logger *slog.Logger

	// テスト用に差し替え可能
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(job Job, config Config, logger *slog.Logger) *Service {
	return &Service{
		job:    job,
		config: config,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
		state:  StateIdle,
	}
}

// Interval は下限を適用した実際の同期間隔を返す。
func (s *Service) Interval() time.Duration {
	return max(s.config.Interval, MinInterval)
}

// State は現在の状態を返す。
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start はドライバーゴルーチンを起動する。
// 既に実行中または停止処理中の場合は ErrAlreadyStarted を返す。
// 停止後は再度開始できる。
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning || s.state == StateStopping {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.state = StateRunning

	s.logger.Info("同期ループを開始しました",
		slog.Duration("interval", s.Interval()),
		slog.String("minimum_time_of_day", formatTimeOfDay(s.config.MinimumTimeOfDay)),
		slog.String("maximum_time_of_day", formatTimeOfDay(s.config.MaximumTimeOfDay)),
	)

	go func() {
		defer close(done)
		defer s.finish(done)
		s.run(runCtx)
	}()

	return nil
}

// Stop はキャンセルを通知し、ドライバーが終了するまで待機する。
// 実行中でない場合は何もしない。
func (s *Service) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	s.logger.Info("同期ループを停止しています")
	cancel()
	<-done
}

// Wait はドライバーが終了するまで待機する。開始前は即座に戻る。
func (s *Service) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// finish はドライバー終了時に状態をStoppedにする。
// 再開始で別のドライバーに置き換わっている場合は何もしない。
func (s *Service) finish(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != done {
		return
	}
	s.cancel()
	s.state = StateStopped
	s.logger.Info("同期ループを停止しました")
}

// run はキャンセルされるまで 時間帯待機 → 同期パス → 間隔待機 を繰り返す。
func (s *Service) run(ctx context.Context) {
	for ctx.Err() == nil {
		if wait := s.waitTime(); wait != nil {
			s.logger.Info("同期可能な時間帯まで待機します",
				slog.Duration("wait", *wait),
			)
			if err := s.sleep(ctx, *wait); err != nil {
				s.logger.Debug("時間帯の待機中にキャンセルされました")
				return
			}
		}

		if err := s.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("同期パスの実行中にキャンセルされました",
					slog.String("error", err.Error()),
				)
				return
			}
			s.logger.Error("同期パスの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}

		if err := s.sleep(ctx, s.Interval()); err != nil {
			s.logger.Debug("同期間隔の待機中にキャンセルされました")
			return
		}
	}
}

func (s *Service) waitTime() *time.Duration {
	if s.config.MinimumTimeOfDay == nil && s.config.MaximumTimeOfDay == nil {
		return nil
	}
	return schedule.CalculateWaitTime(schedule.Of(s.now()), s.config.MinimumTimeOfDay, s.config.MaximumTimeOfDay)
}

// runOnce はジョブを実行し、パニックをエラーに変換する。
func (s *Service) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("同期パスでパニックが発生しました",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("sync pass panicked: %v", r)
		}
	}()
	return s.job.RunOnce(ctx)
}

// sleepContext はdだけ待機する。キャンセルされた場合はコンテキストのエラーを返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func formatTimeOfDay(t *schedule.TimeOfDay) string {
	if t == nil {
		return ""
	}
	return t.String()
}
