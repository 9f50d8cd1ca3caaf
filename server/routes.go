package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter 组装 WebSocket 接入与管理接口
func NewRouter(coord *Coordinator, conns *ConnManager, joinURL string, log *zap.SugaredLogger) http.Handler {
	admin := NewAdmin(coord, conns, joinURL)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", HandleWS(conns, coord, log))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", admin.HandleStatus)
	r.Get("/metrics", admin.HandleMetrics)
	r.Get("/join.png", admin.HandleJoinQR)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/config", admin.HandleConfig)
		r.Post("/config", admin.HandleConfig)
		r.Post("/restart", admin.HandleRestart)
	})
	return r
}
