package app

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTPサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの掃除ワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandImportRoster は会員名簿ファイルを取り込むことを示す。
	CommandImportRoster Command = "import-roster"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// DefaultRosterFile は import-roster が既定で読む名簿ファイル。
const DefaultRosterFile = "members.json"

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "import-roster":
		return CommandImportRoster
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ImportRosterOptions は import-roster サブコマンドのオプション。
type ImportRosterOptions struct {
	File string
	// MetricsTextfile が空でなければ、結果をPrometheusのtextfile形式で書き出す。
	MetricsTextfile string
}

// ParseImportRosterFlags は import-roster に続く引数を解析する。
func ParseImportRosterFlags(args []string) (ImportRosterOptions, error) {
	opts := ImportRosterOptions{}

	fs := pflag.NewFlagSet(string(CommandImportRoster), pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&opts.File, "file", "f", DefaultRosterFile, "roster file ({\"usernames\": [...]}, JSON or YAML)")
	fs.StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "write import counters to this Prometheus textfile")

	if err := fs.Parse(args); err != nil {
		return ImportRosterOptions{}, fmt.Errorf("invalid import-roster flags: %w", err)
	}
	if fs.NArg() > 0 {
		return ImportRosterOptions{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.File == "" {
		return ImportRosterOptions{}, fmt.Errorf("--file must not be empty")
	}
	return opts, nil
}
