// Package roster は会員名簿ファイルを読み込み、会員フラグを一括設定する。
//
// 名簿ファイルは {"usernames": ["alice", "bob"]} 形式のJSON、
// または同じ構造のYAMLで記述する。
package roster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/memberproof/internal/model"
)

// ErrEmptyRoster は名簿に有効なユーザー名が1件もないことを示す。
var ErrEmptyRoster = errors.New("roster contains no usernames")

// file は名簿ファイルの構造。
type file struct {
	Usernames []string `yaml:"usernames"`
}

// MemberMarker は名簿に含まれるユーザーの会員フラグを設定するインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type MemberMarker interface {
	SetMembersByRoster(ctx context.Context, usernames []string) (*model.RosterResult, error)
}

// ResultRecorder はインポート結果をメトリクスに記録するインターフェース。
type ResultRecorder interface {
	RecordRosterImport(marked, skipped int)
}

// Parse は名簿を読み込み、空白を除去した重複のないユーザー名一覧を返す。
// 順序はファイル内の初出順を保つ。
func Parse(r io.Reader) ([]string, error) {
	var f file
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyRoster
		}
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Usernames))
	usernames := make([]string, 0, len(f.Usernames))
	for _, u := range f.Usernames {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		usernames = append(usernames, u)
	}

	if len(usernames) == 0 {
		return nil, ErrEmptyRoster
	}
	return usernames, nil
}

// Importer は名簿ファイルをストアに反映する。
type Importer struct {
	marker   MemberMarker
	recorder ResultRecorder
}

// NewImporter はImporterを生成する。recorderはnilでもよい。
func NewImporter(marker MemberMarker, recorder ResultRecorder) *Importer {
	return &Importer{marker: marker, recorder: recorder}
}

// ImportFile は指定パスの名簿ファイルを読み込んでImportを実行する。
func (i *Importer) ImportFile(ctx context.Context, path string) (*model.RosterResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open roster file: %w", err)
	}
	defer f.Close()

	return i.Import(ctx, f)
}

// Import は名簿を解析し、既存ユーザーの会員フラグをtrueにする。
// ストアに存在しないユーザー名はスキップし、警告ログを出力する。
func (i *Importer) Import(ctx context.Context, r io.Reader) (*model.RosterResult, error) {
	usernames, err := Parse(r)
	if err != nil {
		return nil, err
	}

	result, err := i.marker.SetMembersByRoster(ctx, usernames)
	if err != nil {
		return nil, fmt.Errorf("failed to apply roster: %w", err)
	}

	for _, u := range result.Skipped {
		slog.Warn("roster entry has no matching user, skipped",
			slog.String("username", u),
		)
	}
	slog.Info("roster imported",
		slog.Int("listed", len(usernames)),
		slog.Int("marked", result.Marked),
		slog.Int("skipped", len(result.Skipped)),
	)

	if i.recorder != nil {
		i.recorder.RecordRosterImport(result.Marked, len(result.Skipped))
	}
	return result, nil
}
