package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"SendPilot/internal/dialogue"
	apperrors "SendPilot/internal/errors"
	"SendPilot/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部驱动对话智能体。
type Server struct {
	addr         string
	orchestrator *dialogue.Orchestrator
	apiKey       string
}

// NewServer 构造 API 服务实例。apiKey 非空时启用请求头鉴权。
func NewServer(addr string, orchestrator *dialogue.Orchestrator, apiKey string) *Server {
	return &Server{addr: addr, orchestrator: orchestrator, apiKey: apiKey}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/chat", s.requireKey(s.handleChat))
	mux.HandleFunc("/healthz", s.handleHealth)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Named("api").Info("HTTP 服务已启动", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// requireKey 校验 X-Agent-Key 请求头。
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			provided := r.Header.Get("X-Agent-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(s.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid or missing agent API key")
				return
			}
		}
		next(w, r)
	}
}

// handleChat 处理一轮对话请求。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "对话编排器未初始化")
		return
	}

	var req dialogue.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}

	resp, err := s.orchestrator.HandleMessage(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if apperrors.HasCode(err, apperrors.CodeInvalidArgument) || apperrors.HasCode(err, apperrors.CodeValidation) {
			status = http.StatusBadRequest
		}
		logger.Named("api").Error("处理对话失败", "error", err)
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
