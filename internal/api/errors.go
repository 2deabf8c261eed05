package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GenericErrorMessage 錯誤 payload 無法辨識時的後備訊息
const GenericErrorMessage = "request failed, please try again"

// Error 伺服器拒絕請求時的錯誤，Message 盡可能保留伺服器原文
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.StatusCode, e.Message)
}

// decodeError 解析錯誤回應。伺服器可能回傳純字串或
// {"message": "..."} 物件，兩種形狀都要處理；
// 無法辨識時退回通用訊息。
func decodeError(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode, Message: GenericErrorMessage}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return apiErr
	}

	var payload struct {
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			apiErr.Message = payload.Message
			return apiErr
		}
		if payload.Error != nil && payload.Error.Message != "" {
			apiErr.Message = payload.Error.Message
			return apiErr
		}
	}

	var msg string
	if err := json.Unmarshal(body, &msg); err == nil && msg != "" {
		apiErr.Message = msg
		return apiErr
	}

	// 非 JSON 的純文字回應
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		apiErr.Message = trimmed
	}

	return apiErr
}
