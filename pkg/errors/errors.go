// Package errors 提供應用程式錯誤處理
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// 定義錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeUnauthorized 未授權（缺少或錯誤的憑證）
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeForbidden 無權限操作
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeUnavailable 儲存服務不可用
	ErrCodeUnavailable = "STORE_UNAVAILABLE"
	// ErrCodeSyncInProgress 同步作業正在執行
	ErrCodeSyncInProgress = "SYNC_IN_PROGRESS"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is，同錯誤碼即視為相同
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶詳細資訊的副本
//
// 預定義錯誤是共用的變數，不能直接修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrPostNotFound 文章不存在
	ErrPostNotFound = New(ErrCodeNotFound, "post not found")

	// ErrCommentNotFound 留言不存在
	ErrCommentNotFound = New(ErrCodeNotFound, "comment not found")

	// ErrUnauthorized 未授權
	ErrUnauthorized = New(ErrCodeUnauthorized, "unauthorized")

	// ErrForbidden 非作者操作
	ErrForbidden = New(ErrCodeForbidden, "forbidden")

	// ErrInvalidPostID 無效的文章 ID
	ErrInvalidPostID = New(ErrCodeInvalidInput, "invalid post id")

	// ErrNestedReply 只允許一層回覆
	ErrNestedReply = New(ErrCodeInvalidInput, "replies can only target top-level comments")

	// ErrSyncInProgress 另一個同步作業正在執行
	ErrSyncInProgress = New(ErrCodeSyncInProgress, "view sync already running")

	// ErrRedisUnavailable Redis 不可用
	ErrRedisUnavailable = New(ErrCodeUnavailable, "redis service unavailable")

	// ErrDatabaseUnavailable 資料庫不可用
	ErrDatabaseUnavailable = New(ErrCodeUnavailable, "database service unavailable")
)

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsUnauthorized 檢查是否為未授權錯誤
func IsUnauthorized(err error) bool {
	return hasCode(err, ErrCodeUnauthorized)
}

// IsForbidden 檢查是否為權限錯誤
func IsForbidden(err error) bool {
	return hasCode(err, ErrCodeForbidden)
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// IsUnavailable 檢查是否為儲存不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsSyncInProgress 檢查是否為同步衝突錯誤
func IsSyncInProgress(err error) bool {
	return hasCode(err, ErrCodeSyncInProgress)
}

// HTTPStatus 將錯誤映射為 HTTP 狀態碼
func HTTPStatus(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}

	switch appErr.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeSyncInProgress:
		return http.StatusConflict
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
