// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 候補単位の失敗を表す番兵エラー。
// パイプラインはこれらを返さず、検証結果のバケットに変換する。
var (
	// ErrUnresolvedRedirect はラッパーURLから実記事URLを得られなかったことを表す。
	ErrUnresolvedRedirect = errors.New("could not resolve redirect")
	// ErrUnexpectedStatus は2xx以外のHTTPステータスを表す。
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrRunNotFound は指定された実行履歴が存在しないことを表す。
	ErrRunNotFound = errors.New("run not found")
)

// StatusError はリダイレクト追跡後も2xxにならなかったレスポンスを表す。
// errors.Is で ErrUnexpectedStatus と一致する。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %d", ErrUnexpectedStatus.Error(), e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// APIError は統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, run, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeRunNotFound  = "RUN_NOT_FOUND"
	ErrCodeInvalidRunID = "INVALID_RUN_ID"
	ErrCodeInvalidLimit = "INVALID_LIMIT"
)

// NewRunNotFoundError は実行履歴未検出エラーを生成する。
func NewRunNotFoundError(runID string) *APIError {
	return &APIError{
		Code:     ErrCodeRunNotFound,
		Message:  fmt.Sprintf("指定された実行履歴が見つかりません: %s", runID),
		Category: "run",
		Action:   "実行IDを確認するか、/runs で一覧を取得してください。",
	}
}

// NewInvalidRunIDError は不正な実行IDエラーを生成する。
func NewInvalidRunIDError(runID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRunID,
		Message:  fmt.Sprintf("実行IDの形式が不正です: %s", runID),
		Category: "validation",
		Action:   "UUID形式の実行IDを指定してください。",
	}
}

// NewInvalidLimitError は不正な件数指定エラーを生成する。
func NewInvalidLimitError(limit string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("limit の値が不正です: %s", limit),
		Category: "validation",
		Action:   "1 から 100 の整数を指定してください。",
	}
}
