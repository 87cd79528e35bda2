package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandWorker は同期ループを常駐させて起動することを示す。
	CommandWorker Command = "worker"
	// CommandOnce は同期パスを1回だけ実行して終了することを示す。
	CommandOnce Command = "once"
	// CommandMigrate は同期履歴データベースのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandToken はGogsアクセストークンを取得または発行することを示す。
	CommandToken Command = "token"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandWorkerを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandWorker
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "once":
		return CommandOnce
	case "migrate":
		return CommandMigrate
	case "token":
		return CommandToken
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandWorker
	}
}
