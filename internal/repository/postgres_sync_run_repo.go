package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/adsync/internal/model"
)

// PostgresSyncRunRepo はPostgreSQLを使用した同期履歴リポジトリ。
type PostgresSyncRunRepo struct {
	db *sql.DB
}

// NewPostgresSyncRunRepo はPostgresSyncRunRepoを生成する。
func NewPostgresSyncRunRepo(db *sql.DB) *PostgresSyncRunRepo {
	return &PostgresSyncRunRepo{db: db}
}

const syncRunColumns = `id, started_at, finished_at, status, dry_run,
	mappings_processed, mappings_skipped, orgs_created, teams_created,
	users_created, memberships_added, failures, error_message`

// Create は実行開始時の履歴を作成する。
func (r *PostgresSyncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.SyncRunStatusRunning
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, started_at, status, dry_run) VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt, string(run.Status), run.DryRun,
	)
	if err != nil {
		return fmt.Errorf("同期履歴の作成に失敗しました: %w", err)
	}
	return nil
}

// Finish は実行終了時の状態を保存する。
func (r *PostgresSyncRunRepo) Finish(ctx context.Context, run *model.SyncRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}

	var errorMessage sql.NullString
	if run.ErrorMessage != "" {
		errorMessage = sql.NullString{String: run.ErrorMessage, Valid: true}
	}

	s := run.Summary
	result, err := r.db.ExecContext(ctx,
		`UPDATE sync_runs SET
			finished_at = $2, status = $3,
			mappings_processed = $4, mappings_skipped = $5,
			orgs_created = $6, teams_created = $7, users_created = $8,
			memberships_added = $9, failures = $10, error_message = $11
		 WHERE id = $1`,
		run.ID, *run.FinishedAt, string(run.Status),
		s.MappingsProcessed, s.MappingsSkipped,
		s.OrgsCreated, s.TeamsCreated, s.UsersCreated,
		s.MembershipsAdded, s.Failures, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("同期履歴の更新に失敗しました: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("同期履歴が見つかりません: %s", run.ID)
	}
	return nil
}

// FindByID は指定IDの履歴を取得する。見つからない場合はnilを返す。
func (r *PostgresSyncRunRepo) FindByID(ctx context.Context, id string) (*model.SyncRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs WHERE id = $1`, id)

	run, err := scanSyncRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("同期履歴の取得に失敗しました: %w", err)
	}
	return run, nil
}

// ListRecent は開始日時の新しい順に最大limit件の履歴を返す。
func (r *PostgresSyncRunRepo) ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("同期履歴一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	runs := make([]*model.SyncRun, 0, limit)
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("同期履歴のスキャンに失敗しました: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期履歴一覧の取得に失敗しました: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(row rowScanner) (*model.SyncRun, error) {
	run := &model.SyncRun{}
	var status string
	var finishedAt sql.NullTime
	var errorMessage sql.NullString

	err := row.Scan(
		&run.ID, &run.StartedAt, &finishedAt, &status, &run.DryRun,
		&run.Summary.MappingsProcessed, &run.Summary.MappingsSkipped,
		&run.Summary.OrgsCreated, &run.Summary.TeamsCreated,
		&run.Summary.UsersCreated, &run.Summary.MembershipsAdded,
		&run.Summary.Failures, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	run.Status = model.SyncRunStatus(status)
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	return run, nil
}

var _ SyncRunRepository = (*PostgresSyncRunRepo)(nil)
