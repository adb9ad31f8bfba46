package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/types"
)

// maxBodyBytes 请求体大小上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 编码失败时响应头已写出，只能放弃
	_ = json.NewEncoder(w).Encode(data)
}

// WriteEnvelope 写入统一信封；data 为 nil 时省略
func WriteEnvelope(w http.ResponseWriter, status int, ok bool, message string, data any) {
	env := api.Envelope{OK: ok, Message: message, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			WriteJSON(w, http.StatusInternalServerError, api.Envelope{
				Error:     "failed to encode response",
				Code:      string(types.ErrInternalError),
				Timestamp: time.Now(),
			})
			return
		}
		env.Data = raw
	}
	WriteJSON(w, status, env)
}

// WriteOK 写入成功信封
func WriteOK(w http.ResponseWriter, message string, data any) {
	WriteEnvelope(w, http.StatusOK, true, message, data)
}

// WriteData 写入只含数据的成功信封
func WriteData(w http.ResponseWriter, data any) {
	WriteEnvelope(w, http.StatusOK, true, "", data)
}

// WriteError 写入失败信封；非 *types.Error 按内部错误处理
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	e, ok := types.AsError(err)
	if !ok {
		e = types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
	}
	status := e.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(e.Code)
	}

	if logger != nil {
		level := logger.Info
		if status >= http.StatusInternalServerError {
			level = logger.Error
		}
		level("API error",
			zap.String("code", string(e.Code)),
			zap.String("message", e.Message),
			zap.Int("status", status),
			zap.Bool("retryable", e.Retryable),
			zap.Error(e.Cause),
		)
	}

	WriteJSON(w, status, api.Envelope{
		OK:        false,
		Error:     e.Message,
		Code:      string(e.Code),
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message), logger)
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrAgentNotFound, types.ErrRunbookNotFound,
		types.ErrActionServerNotFound, types.ErrActionNotFound:
		return http.StatusNotFound
	case types.ErrAgentAlreadyExists, types.ErrAgentAlreadyRunning, types.ErrAgentNotRunning:
		return http.StatusConflict
	case types.ErrActionDisabled:
		return http.StatusUnprocessableEntity

	// 5xx 服务端错误
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrServiceUnavailable, types.ErrBusUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 上限）。空请求体在 allowEmpty 时
// 视为零值。失败时已写出错误响应。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool, logger *zap.Logger) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap 暴露底层 writer，websocket 升级需要 http.Hijacker
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack 转发给底层 writer
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}
