// Package middleware は実行履歴APIのHTTPミドルウェアとレスポンス書き込みを提供する。
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/newsbrief/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
	Action   string `json:"action,omitempty"`
}

// WriteJSON はvをJSONとして書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteJSON(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteNotFound はルート未定義の統一レスポンスを書き込む。
func WriteNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:     "NOT_FOUND",
		Message:  "指定されたパスは存在しません: " + r.URL.Path,
		Category: "validation",
	})
}

// WriteMethodNotAllowed はメソッド不許可の統一レスポンスを書き込む。
func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
		Code:     "METHOD_NOT_ALLOWED",
		Message:  "このパスでは " + r.Method + " を利用できません。",
		Category: "validation",
	})
}
