package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/cogbench/internal/hub"
	"github.com/DoyleJ11/cogbench/internal/peer"
	"github.com/DoyleJ11/cogbench/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func SetupRoutes(h *hub.Hub, s *peer.Session, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)

	// Peer links
	r.Get("/ws", s.Accept)
	r.Post("/session/begin", BeginSession(s, log))
	r.Post("/session/end", EndSession(s, log))
	r.Get("/peers", Peers(s))

	// Local UI
	r.Post("/benchmarks", CreateBenchmark(h))
	r.Get("/benchmarks/{name}/state", BenchmarkState(h))
	r.Get("/benchmarks/{name}/events", ws.Handler(h, log))
	return r
}
