// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, membership, token, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound = "USER_NOT_FOUND"
	ErrCodeNotAMember   = "NOT_A_MEMBER"
	ErrCodeUpstreamAuth = "UPSTREAM_AUTH_FAILURE"
	ErrCodeStorage      = "STORAGE_FAILURE"
	ErrCodeFetchOnly    = "FETCH_HEADER_REQUIRED"
	ErrCodeNoSession    = "SESSION_REQUIRED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// 検証結果として利用者に見せる文言
const (
	MessageUserNotFound = "User not found"
	MessageNotAMember   = "User is not a valid member"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
// メッセージは検証エンドポイントのJSONレスポンスにそのまま使われる。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  MessageUserNotFound,
		Category: "membership",
		Action:   "Ask the holder to sign in once before presenting a code.",
	}
}

// NewNotAMemberError は会員フラグが立っていないユーザーのエラーを生成する。
// 検証者の画面に出るため、ユーザー名は文言に含めない。
func NewNotAMemberError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAMember,
		Message:  MessageNotAMember,
		Category: "membership",
		Action:   "Complete the membership signup form.",
	}
}

// NewUpstreamAuthError はIdPとの交換に失敗した場合のエラーを生成する。
// 下位のエラー文言をそのまま含める。
func NewUpstreamAuthError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamAuth,
		Message:  fmt.Sprintf("Sign-in failed: %v", err),
		Category: "auth",
		Action:   "Try signing in again.",
	}
}

// NewStorageError はストレージ障害のエラーを生成する。
func NewStorageError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  fmt.Sprintf("An error occurred: %v", err),
		Category: "system",
		Action:   "Please wait and try again.",
	}
}

// NewFetchOnlyError は X-Fetch ヘッダーの無いリクエストに返すエラーを生成する。
func NewFetchOnlyError() *APIError {
	return &APIError{
		Code:     ErrCodeFetchOnly,
		Message:  "This endpoint can only be fetched programmatically.",
		Category: "auth",
		Action:   "Open the home page instead.",
	}
}

// NewSessionRequiredError はセッションの無いリクエストに返すエラーを生成する。
func NewSessionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeNoSession,
		Message:  "Sign in to continue.",
		Category: "auth",
		Action:   "Open the home page and sign in.",
	}
}

// NewInternalError は分類できない内部エラーを生成する。
// 詳細はログにのみ残し、レスポンスには含めない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait and try again.",
	}
}
