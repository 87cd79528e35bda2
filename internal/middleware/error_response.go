package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/adsync/internal/model"
)

// ErrorResponseBody はステータスAPIのエラーレスポンス。
// request_idはワーカーのリクエストログと突き合わせるために返す。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteErrorResponse はapiErrをJSONで書き込む。
// ロギングミドルウェアがX-Request-IDを設定済みの場合はその値をrequest_idに含める。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(RequestIDHeader),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError はステータスAPI内部のエラーを500で返す。
// 原因はレスポンスに含めず、ログにのみ記録する。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "ステータスAPIで内部エラーが発生しました。",
		Category: "system",
		Action:   "request_idでワーカーのログを確認してください。",
	})
}
