package http

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"symptomdx/prediction"
)

const (
	msgSymptomsRequired = "symptoms list required"
	msgInvalidJSON      = "invalid JSON body"
	msgSymptomsType     = "symptoms must be a list of strings"
	msgPredictionFailed = "prediction failed"
	msgBodyTooLarge     = "request body too large"
	msgCanceled         = "request canceled"
)

// Handler 持有预测服务的请求处理器
type Handler struct {
	service      *prediction.Service
	logger       *zap.Logger
	maxBodyBytes int64
	upgrader     websocket.Upgrader
}

// RegisterHandlers 注册所有路由
func RegisterHandlers(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /{$}", h.handleHome)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ws/predict", h.handleWebsocket)
	mux.Handle("GET /metrics", promhttp.Handler())
}

type homeResponse struct {
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
}

type healthResponse struct {
	Model  prediction.Info `json:"model"`
	Status string          `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, homeResponse{Endpoint: "/predict", Status: "Backend running"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Model: h.service.Info(), Status: "ok"})
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	status, payload := h.predict(r, body)
	writeJSON(w, status, payload)
}

// predict 解析请求体并执行预测，返回状态码与响应体。HTTP与WebSocket共用
func (h *Handler) predict(r *http.Request, body []byte) (int, any) {
	symptoms, err := decodeSymptoms(body)
	if err == nil {
		var result *prediction.Result
		result, err = h.service.Predict(r.Context(), symptoms)
		if err == nil {
			return http.StatusOK, result
		}
	}

	status, message := classifyError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("prediction request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err))
	}
	return status, errorResponse{Error: message}
}

// decodeSymptoms 从请求体中取出 symptoms 列表
// 缺少字段或请求体不是对象时返回 ErrMissingInput；空列表是合法输入
func decodeSymptoms(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, prediction.ErrMissingInput
	}

	if !json.Valid(body) {
		return nil, prediction.InvalidInputError(msgInvalidJSON)
	}
	// 合法JSON但不是对象，视为没有 symptoms 字段
	if body[0] != '{' {
		return nil, prediction.ErrMissingInput
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, prediction.InvalidInputError(msgInvalidJSON)
	}
	raw, ok := fields["symptoms"]
	if !ok {
		return nil, prediction.ErrMissingInput
	}

	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return nil, prediction.InvalidInputError(msgSymptomsType)
	}
	var symptoms []string
	if err := json.Unmarshal(raw, &symptoms); err != nil {
		return nil, prediction.InvalidInputError(msgSymptomsType)
	}
	if symptoms == nil {
		symptoms = []string{}
	}
	return symptoms, nil
}

// classifyError 将服务错误映射为状态码和对外消息
func classifyError(err error) (int, string) {
	switch prediction.KindOf(err) {
	case prediction.MissingInput:
		return http.StatusBadRequest, msgSymptomsRequired
	case prediction.InvalidInput:
		var e *prediction.Error
		if errors.As(err, &e) && e.Err != nil {
			return http.StatusBadRequest, e.Err.Error()
		}
		return http.StatusBadRequest, msgInvalidJSON
	case prediction.Canceled:
		return http.StatusServiceUnavailable, msgCanceled
	default:
		return http.StatusInternalServerError, msgPredictionFailed
	}
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := encodeJSON(v)
	if err != nil {
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"internal server error"}` + "\n")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
