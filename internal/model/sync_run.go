package model

import "time"

// SyncSummary は1回の同期パスで行った処理の集計。
type SyncSummary struct {
	MappingsProcessed int `json:"mappings_processed"`
	MappingsSkipped   int `json:"mappings_skipped"`
	OrgsCreated       int `json:"orgs_created"`
	TeamsCreated      int `json:"teams_created"`
	UsersCreated      int `json:"users_created"`
	MembershipsAdded  int `json:"memberships_added"`
	Failures          int `json:"failures"`
}

// SyncRun は同期パスの実行履歴を表す。
// データベースが設定されている場合のみsync_runsテーブルに保存される。
type SyncRun struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
	Status       SyncRunStatus `json:"status"`
	DryRun       bool          `json:"dry_run"`
	Summary      SyncSummary   `json:"summary"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// Duration は実行時間を返す。未完了の場合は0。
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
