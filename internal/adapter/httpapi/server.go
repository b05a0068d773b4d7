package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Nyukimin/relayclaw/internal/domain/news"
)

// WatchSource は監視中チャンネルのスナップショットを返す
type WatchSource interface {
	Watches() []news.ChannelWatch
}

// checkTimeout は各レディネスチェックの上限時間
const checkTimeout = 3 * time.Second

type checkResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type readyResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks"`
}

type watchResponse struct {
	ChannelRef  string `json:"channel_ref"`
	DisplayName string `json:"display_name"`
	LastSeen    string `json:"last_seen,omitempty"`
}

// NewRouter はHTTPルーターを作成（watches は nil 可）
func NewRouter(logger zerolog.Logger, watches WatchSource, checks []Check) http.Handler {
	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		resp := readyResponse{Status: "ready", Checks: make(map[string]checkResult, len(checks))}
		status := http.StatusOK
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			ok, msg := c.Fn(ctx)
			cancel()
			resp.Checks[c.Name] = checkResult{OK: ok, Message: msg}
			if !ok {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
	})

	r.Get("/watches", func(w http.ResponseWriter, r *http.Request) {
		out := make([]watchResponse, 0)
		if watches != nil {
			for _, cw := range watches.Watches() {
				out = append(out, watchResponse{
					ChannelRef:  cw.ChannelRef,
					DisplayName: cw.DisplayName,
					LastSeen:    cw.LastSeen,
				})
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server はHTTPサーバー
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer は新しいServerを作成
func NewServer(addr string, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Run はctxがキャンセルされるまでリクエストを処理する
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve は既存のリスナーで処理する
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server started")
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	s.logger.Info().Msg("http server stopped")
	return nil
}
