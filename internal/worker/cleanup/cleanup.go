// Package cleanup は期限切れセッションの定期削除ジョブを提供する。
// PostgreSQLのsessionsテーブルを使う場合のみ必要で、Redisストアでは
// キーのTTLにより自動的に失効する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval はセッション削除の既定の実行間隔。
const DefaultInterval = time.Hour

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SessionCleanupJob は有効期限を過ぎたセッションを削除するジョブ。
type SessionCleanupJob struct {
	db       Executor
	logger   *slog.Logger
	Interval time.Duration
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
func NewSessionCleanupJob(db Executor, logger *slog.Logger, interval time.Duration) *SessionCleanupJob {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &SessionCleanupJob{
		db:       db,
		logger:   logger,
		Interval: interval,
	}
}

// Run は期限切れセッションを1回削除する。削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		j.logger.Error("セッションクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return deletedCount, nil
}

// Start はctxがキャンセルされるまでIntervalごとにRunを実行する。
// 起動直後に1回実行する。個々の失敗はログに記録して継続する。
func (j *SessionCleanupJob) Start(ctx context.Context) {
	j.logger.Info("セッションクリーンアップを開始します",
		slog.String("interval", j.Interval.String()),
	)

	_, _ = j.Run(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップを停止します")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}
