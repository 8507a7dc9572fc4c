// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はIdPから受け取った氏名クレームを保存前に正規化する。
// 氏名はHTMLとして扱わず、タグを全て除去したプレーンテキストとして保存する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は保存する氏名の最大文字数（rune単位）。
const MaxNameLength = 100

// NameSanitizer は氏名サニタイズのインターフェース。
type NameSanitizer interface {
	// Sanitize はタグと制御文字を除去し、連続する空白を1つにまとめた文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
// bluemondayのStrictPolicyで全てのタグを除去する。
func NewNameSanitizer() NameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は氏名をプレーンテキストに正規化する。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyはエンティティをエスケープして返すため、テンプレート出力時の二重エスケープを避けて戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > MaxNameLength {
		text = string([]rune(text)[:MaxNameLength])
	}
	return text
}
