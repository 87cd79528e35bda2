// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/adsync/internal/model"
)

// SyncRunRepository は同期パスの実行履歴の永続化インターフェース。
type SyncRunRepository interface {
	// Create は実行開始時の履歴を作成する。IDが空の場合は採番する。
	Create(ctx context.Context, run *model.SyncRun) error

	// Finish は実行終了時の状態・集計・エラーメッセージを保存する。
	Finish(ctx context.Context, run *model.SyncRun) error

	// FindByID は指定IDの履歴を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SyncRun, error)

	// ListRecent は開始日時の新しい順に最大limit件の履歴を返す。
	ListRecent(ctx context.Context, limit int) ([]*model.SyncRun, error)
}
