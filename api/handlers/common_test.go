package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) api.Envelope {
	t.Helper()
	var env api.Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{
			name:       "simple object",
			data:       map[string]string{"message": "hello"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "array",
			data:       []int{1, 2, 3},
			wantStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()
	WriteOK(w, "Agent 'writer' stopped", map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.OK)
	assert.Equal(t, "Agent 'writer' stopped", env.Message)
	assert.Empty(t, env.Error)
	assert.False(t, env.Timestamp.IsZero())

	var data map[string]string
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, "value", data["key"])
}

func TestWriteData_OmitsNilData(t *testing.T) {
	w := httptest.NewRecorder()
	WriteOK(w, "done", nil)

	assert.NotContains(t, w.Body.String(), `"data"`)
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   types.ErrorCode
	}{
		{
			name:           "invalid request",
			err:            types.NewError(types.ErrInvalidRequest, "name is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   types.ErrInvalidRequest,
		},
		{
			name:           "agent not found",
			err:            types.NewError(types.ErrAgentNotFound, "Agent 'x' not found in database"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   types.ErrAgentNotFound,
		},
		{
			name:           "already running",
			err:            types.NewError(types.ErrAgentAlreadyRunning, "Agent 'x' is already running."),
			expectedStatus: http.StatusConflict,
			expectedCode:   types.ErrAgentAlreadyRunning,
		},
		{
			name:           "explicit status wins",
			err:            types.NewError(types.ErrUpstreamError, "teapot").WithHTTPStatus(http.StatusTeapot),
			expectedStatus: http.StatusTeapot,
			expectedCode:   types.ErrUpstreamError,
		},
		{
			name:           "plain error",
			err:            errors.New("database connection failed"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   types.ErrInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			env := decodeEnvelope(t, w)
			assert.False(t, env.OK)
			assert.Equal(t, string(tt.expectedCode), env.Code)
			assert.NotEmpty(t, env.Error)
			assert.Nil(t, env.Data)
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    bool
		checkFunc  func(*testing.T, *TestStruct)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Equal(t, "test", ts.Name)
				assert.Equal(t, 123, ts.Value)
			},
		},
		{
			name:    "invalid JSON",
			body:    `{"name":"test",}`,
			wantErr: true,
		},
		{
			name:    "empty body rejected",
			body:    ``,
			wantErr: true,
		},
		{
			name:       "empty body allowed",
			body:       ``,
			allowEmpty: true,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Empty(t, ts.Name)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result TestStruct
			err := DecodeJSONBody(w, r, &result, tt.allowEmpty, logger)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
				return
			}
			assert.NoError(t, err)
			if tt.checkFunc != nil {
				tt.checkFunc(t, &result)
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := NewResponseWriter(w)

	// 初始状态
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.False(t, rw.Written)

	// 写入状态码
	rw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)

	// 再次写入应该被忽略
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)

	n, err := rw.Write([]byte("test"))
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Same(t, w, rw.Unwrap())
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrForbidden, http.StatusForbidden},
		{types.ErrAgentNotFound, http.StatusNotFound},
		{types.ErrRunbookNotFound, http.StatusNotFound},
		{types.ErrActionServerNotFound, http.StatusNotFound},
		{types.ErrActionNotFound, http.StatusNotFound},
		{types.ErrAgentAlreadyExists, http.StatusConflict},
		{types.ErrAgentNotRunning, http.StatusConflict},
		{types.ErrActionDisabled, http.StatusUnprocessableEntity},
		{types.ErrTimeout, http.StatusGatewayTimeout},
		{types.ErrBusUnavailable, http.StatusServiceUnavailable},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrInternalError, http.StatusInternalServerError},
		{"UNKNOWN_CODE", http.StatusInternalServerError}, // 默认
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, mapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	type TestStruct struct {
		Name string `json:"name"`
	}

	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result TestStruct
	err := DecodeJSONBody(w, r, &result, false, zap.NewNop())

	assert.Error(t, err, "body exceeding 1 MB should be rejected")
}
