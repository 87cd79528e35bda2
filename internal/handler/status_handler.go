package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/adsync/internal/middleware"
	"github.com/hitoshi/adsync/internal/model"
	"github.com/hitoshi/adsync/internal/schedule"
	"github.com/hitoshi/adsync/internal/worker/runloop"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// HealthChecker はヘルスチェック時に依存先への疎通を確認するインターフェース。
// *sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// LoopStatus は同期ループの状態を返すインターフェース。
type LoopStatus interface {
	State() runloop.State
	Interval() time.Duration
}

// LastRunProvider は直近の同期パスを返すインターフェース。
type LastRunProvider interface {
	LastRun() *model.SyncRun
}

// HistoryReader は同期履歴を参照するインターフェース。
type HistoryReader interface {
	FindByID(ctx context.Context, id string) (*model.SyncRun, error)
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
}

// StatusHandlerConfig はステータスAPIで返す静的な設定値。
type StatusHandlerConfig struct {
	DryRun           bool
	MinimumTimeOfDay *schedule.TimeOfDay
	MaximumTimeOfDay *schedule.TimeOfDay
}

// StatusHandler は同期サービスの状態を返すHTTPハンドラー。
// 各依存はnilでもよく、nilの場合は対応する情報を省略する。
type StatusHandler struct {
	health  HealthChecker
	loop    LoopStatus
	lastRun LastRunProvider
	history HistoryReader
	config  StatusHandlerConfig
	logger  *slog.Logger
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(
	health HealthChecker,
	loop LoopStatus,
	lastRun LastRunProvider,
	history HistoryReader,
	config StatusHandlerConfig,
	logger *slog.Logger,
) *StatusHandler {
	return &StatusHandler{
		health:  health,
		loop:    loop,
		lastRun: lastRun,
		history: history,
		config:  config,
		logger:  logger,
	}
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
}

// statusResponse は同期サービスの状態レスポンス。
type statusResponse struct {
	State            string         `json:"state"`
	IntervalSeconds  float64        `json:"interval_seconds,omitempty"`
	DryRun           bool           `json:"dry_run"`
	MinimumTimeOfDay string         `json:"minimum_time_of_day,omitempty"`
	MaximumTimeOfDay string         `json:"maximum_time_of_day,omitempty"`
	LastRun          *model.SyncRun `json:"last_run,omitempty"`
}

// runsResponse は同期履歴一覧のレスポンス。
type runsResponse struct {
	Runs []*model.SyncRun `json:"runs"`
}

// Health は依存先の疎通を確認する。
// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.health.PingContext(ctx); err != nil {
			h.logger.Warn("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// Status は同期ループの状態と直近の同期パスを返す。
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:  runloop.StateIdle.String(),
		DryRun: h.config.DryRun,
	}
	if h.loop != nil {
		resp.State = h.loop.State().String()
		resp.IntervalSeconds = h.loop.Interval().Seconds()
	}
	if h.config.MinimumTimeOfDay != nil {
		resp.MinimumTimeOfDay = h.config.MinimumTimeOfDay.String()
	}
	if h.config.MaximumTimeOfDay != nil {
		resp.MaximumTimeOfDay = h.config.MaximumTimeOfDay.String()
	}
	if h.lastRun != nil {
		resp.LastRun = h.lastRun.LastRun()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns は同期履歴を新しい順に返す。
// GET /api/runs?limit=n
func (h *StatusHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeHistoryDisabled(w)
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     model.ErrCodeInvalidLimit,
				Message:  "limitは1以上の整数で指定してください。",
				Category: "validation",
				Action:   "limitを修正してください。",
			})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.history.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("同期履歴一覧の取得に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

// GetRun は指定IDの同期履歴を返す。
// GET /api/runs/{id}
func (h *StatusHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeHistoryDisabled(w)
		return
	}

	id := chi.URLParam(r, "id")
	run, err := h.history.FindByID(r.Context(), id)
	if err != nil {
		h.logger.Error("同期履歴の取得に失敗しました",
			slog.String("run_id", id),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if run == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     model.ErrCodeRunNotFound,
			Message:  "指定された同期履歴が見つかりません。",
			Category: "history",
		})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeHistoryDisabled(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:     model.ErrCodeHistoryDisabled,
		Message:  "同期履歴は保存されていません。",
		Category: "history",
		Action:   "DATABASE_URLを設定してください。",
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
