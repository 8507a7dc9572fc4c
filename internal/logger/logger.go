package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelEnvVar はログレベルを指定する環境変数名。
const LevelEnvVar = "LOG_LEVEL"

// redactedKeys はログに値を出力しない属性キー。
// トークンやセッションIDが誤って記録されても値は残らない。
var redactedKeys = map[string]struct{}{
	"token":         {},
	"session_id":    {},
	"secret":        {},
	"client_secret": {},
	"code":          {},
}

const redactedValue = "[REDACTED]"

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler).With(slog.String("service", "memberproof"))
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// レベルはLOG_LEVEL環境変数から決定する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, ParseLevel(os.Getenv(LevelEnvVar)))
	slog.SetDefault(logger)
}

// ParseLevel はdebug/info/warn/errorを解釈する。不明な値はinfoとする。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, redactedValue)
	}
	return a
}
