package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandEmulator はローカルバックエンドのエミュレーターを起動することを示す。
	CommandEmulator Command = "emulator"
	// CommandMigrate はドキュメントストアのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandEmulatorを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandEmulator
	}

	switch args[0] {
	case "emulator":
		return CommandEmulator
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandEmulator
	}
}
