package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandRun はパイプラインを1回実行して終了することを示す。
	CommandRun Command = "run"
	// CommandWorker はパイプラインを定期実行するワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandServe は実行履歴APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandRunを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandRun
	}

	switch args[0] {
	case "run":
		return CommandRun
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandRun
	}
}

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction string

const (
	MigrateUp      MigrateAction = "up"
	MigrateDown    MigrateAction = "down"
	MigrateVersion MigrateAction = "version"
)

// ParseMigrateArgs は migrate 以降の引数を解析する。
// 引数なしは up。down は戻すステップ数を省略すると1。
func ParseMigrateArgs(args []string) (MigrateAction, int, error) {
	if len(args) == 0 {
		return MigrateUp, 0, nil
	}

	switch MigrateAction(args[0]) {
	case MigrateUp:
		return MigrateUp, 0, nil
	case MigrateVersion:
		return MigrateVersion, 0, nil
	case MigrateDown:
		if len(args) < 2 {
			return MigrateDown, 1, nil
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps < 1 {
			return "", 0, fmt.Errorf("invalid rollback steps %q: must be a positive integer", args[1])
		}
		return MigrateDown, steps, nil
	default:
		return "", 0, fmt.Errorf("unknown migrate action %q (want up, down or version)", args[0])
	}
}
