// Package ws serves the local UI's event stream for one benchmark.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/cogbench/internal/bench"
	"github.com/DoyleJ11/cogbench/internal/hub"
	"github.com/DoyleJ11/cogbench/internal/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Handler upgrades GET /benchmarks/{name}/events. The stream pushes a
// StateSnapshot for every state version and a ResponseRecorded for every
// response; UI commands come back on the same socket.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ui")

	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		rn, err := h.Ensure(r.Context(), name)
		if err != nil {
			if errors.Is(err, hub.ErrUnknownBenchmark) {
				http.Error(w, "benchmark not found", http.StatusNotFound)
				return
			}
			http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// the UI is served from localhost during development
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			log.Debug("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan bench.Update, 16)
		clientID := uuid.NewString()
		log := log.With(zap.String("benchmark", name), zap.String("client", clientID))

		if err := rn.Post(r.Context(), bench.Subscribe{ID: clientID, Outbox: out}); err != nil {
			log.Debug("subscribe failed", zap.Error(err))
			conn.Close(websocket.StatusGoingAway, "benchmark stopped")
			return
		}
		defer func() { _ = rn.Post(context.Background(), bench.Unsubscribe{ID: clientID}) }()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine
		errs := make(chan types.ServerMessage, 4)
		go func() {
			defer cancel()
			for {
				var msg types.ServerMessage
				select {
				case <-ctx.Done():
					return
				case u, ok := <-out:
					if !ok {
						// dropped as a slow subscriber or the runner stopped
						conn.Close(websocket.StatusTryAgainLater, "fell behind")
						return
					}
					msg = toServerMessage(u)
				case msg = <-errs:
				}
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(wctx, conn, msg)
				wcancel()
				if err != nil {
					log.Debug("write failed", zap.Error(err))
					return
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("read ended", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				report(ctx, errs, errors.New("bad json"))
				continue
			}
			cmd, err := types.ToCommand(cm)
			if err != nil {
				report(ctx, errs, err)
				continue
			}
			if err := rn.Do(ctx, cmd); err != nil {
				report(ctx, errs, err)
			}
		}
	}
}

func toServerMessage(u bench.Update) types.ServerMessage {
	if u.Kind == bench.UpdateResponse {
		return types.ServerMessage{Type: types.ServerResponseRecorded, Version: u.Version, Response: u.Response}
	}
	return types.ServerMessage{Type: types.ServerStateSnapshot, Version: u.Version, State: &u.State}
}

func report(ctx context.Context, errs chan<- types.ServerMessage, err error) {
	select {
	case errs <- types.ErrorMessage(err):
	case <-ctx.Done():
	}
}
