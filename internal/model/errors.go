package model

import "errors"

// ErrAlreadyExists はGogsがエンティティ作成を「既に存在する」として拒否したことを示す。
//
// 一部のGogsバージョンでは、組織内にチームが1つでも存在するとチーム作成APIが
// 名前に関係なくこのエラーを返す。同期処理では既知の制約として扱う。
var ErrAlreadyExists = errors.New("entity already exists")

// SyncRunStatus は同期パスの実行結果を表す。
type SyncRunStatus string

const (
	// SyncRunStatusRunning は実行中。
	SyncRunStatusRunning SyncRunStatus = "running"
	// SyncRunStatusSucceeded は全マッピングを処理して完了した。
	SyncRunStatusSucceeded SyncRunStatus = "succeeded"
	// SyncRunStatusFailed はパスが予期しないエラーで終了した。
	SyncRunStatusFailed SyncRunStatus = "failed"
	// SyncRunStatusCanceled はキャンセルにより途中で終了した。
	SyncRunStatusCanceled SyncRunStatus = "canceled"
)

// APIError はステータスAPIのエラーを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, history, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ステータスAPIのエラーコード。
const (
	ErrCodeHistoryDisabled = "HISTORY_DISABLED"
	ErrCodeInvalidLimit    = "INVALID_LIMIT"
	ErrCodeRunNotFound     = "RUN_NOT_FOUND"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
