package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/open-workshop/storage/pkg/client"
	"github.com/open-workshop/storage/pkg/config"
	"github.com/open-workshop/storage/pkg/engine"
	"github.com/open-workshop/storage/pkg/log"
	"github.com/open-workshop/storage/pkg/metrics"
	"github.com/open-workshop/storage/pkg/registry"
	"github.com/open-workshop/storage/pkg/token"
	"github.com/open-workshop/storage/pkg/types"
)

// Server is the HTTP/WS front of the storage service. All handlers sit
// behind the CORS and access-log middleware; every filesystem path a
// handler touches goes through fsguard first.
type Server struct {
	cfg     *config.Config
	engine  *engine.Engine
	reg     *registry.Registry
	codec   *token.Codec
	static  *token.Static
	manager *client.Manager

	mux     *http.ServeMux
	handler http.Handler
	httpSrv *http.Server
	logger  zerolog.Logger
}

// NewServer wires the handler tree. The transfer surface speaks JSON; the
// legacy file endpoints answer plain text to keep their original contract.
func NewServer(cfg *config.Config, eng *engine.Engine, reg *registry.Registry, codec *token.Codec, static *token.Static, mgr *client.Manager) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  eng,
		reg:     reg,
		codec:   codec,
		static:  static,
		manager: mgr,
		mux:     http.NewServeMux(),
		logger:  log.WithComponent("api"),
	}

	s.mux.HandleFunc("GET /transfer/start", s.handleTransferStart)
	s.mux.HandleFunc("POST /transfer/start", s.handleTransferStart)
	s.mux.HandleFunc("POST /transfer/upload", s.handleTransferUpload)
	s.mux.HandleFunc("GET /transfer/ws/{job_id}", s.handleTransferWS)
	s.mux.HandleFunc("POST /transfer/repack", s.handleTransferRepack)
	s.mux.HandleFunc("POST /transfer/move", s.handleTransferMove)

	s.mux.HandleFunc("GET /download/{type}/{path...}", s.handleFileDownload)
	s.mux.HandleFunc("POST /upload", s.handleFileUpload)
	s.mux.HandleFunc("DELETE /delete", s.handleFileDelete)

	s.mux.HandleFunc("GET /health", metrics.LivenessHandler())
	s.mux.HandleFunc("GET /ready", metrics.ReadyHandler())
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.handler = corsMiddleware(s.accessLog(s.mux))
	return s
}

// Handler returns the middleware-wrapped handler tree, for tests and for
// embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start blocks serving HTTP on addr until Shutdown or a listener error.
// Read and write timeouts stay unset: transfer bodies are unbounded
// streams governed by the engine's own idle watchdog.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("http api listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeTransferError(w http.ResponseWriter, terr *engine.TransferError) {
	writeJSON(w, terr.Code, errorResponse{Error: terr.Msg, Reason: string(terr.Reason)})
}

// decodeTransferToken maps a raw token string to validated claims. Absent
// tokens are 401, bad tokens are 403.
func (s *Server) decodeTransferToken(raw string) (*token.TransferClaims, *engine.TransferError) {
	if raw == "" {
		return nil, &engine.TransferError{Code: http.StatusUnauthorized, Reason: types.ReasonTokenMissing, Msg: "transfer token required"}
	}
	claims, err := s.codec.Decode(raw, token.AudienceStorage)
	if err != nil {
		return nil, &engine.TransferError{Code: http.StatusForbidden, Reason: types.ReasonTokenInvalid, Msg: "transfer token rejected"}
	}
	return claims, nil
}

// requireManageToken authenticates the operator surface (repack/move)
// against the bcrypt-hashed storage_manage_token.
func (s *Server) requireManageToken(presented string) *engine.TransferError {
	if presented == "" {
		return &engine.TransferError{Code: http.StatusUnauthorized, Reason: types.ReasonTokenMissing, Msg: "operator token required"}
	}
	if !s.static.Check("storage_manage_token", presented) {
		return &engine.TransferError{Code: http.StatusForbidden, Reason: types.ReasonTokenInvalid, Msg: "operator token rejected"}
	}
	return nil
}
