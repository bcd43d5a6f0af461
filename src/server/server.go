package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradingcore/src/bus"
	"tradingcore/src/handler"
	"tradingcore/src/statestore"
	"tradingcore/src/strategy"
	"tradingcore/src/trading"
)

// Deps are the live components the API exposes. Reporter may be nil when the
// server runs without the full system behind it.
type Deps struct {
	Bus      *bus.Bus
	Store    statestore.Store
	Manager  *trading.Manager
	Runtime  *strategy.Runtime
	Reporter interface{ Status() map[string]any }
}

// Server is the HTTP API: health, system status, trading history, live
// positions, strategy lifecycle and the websocket event stream.
type Server struct {
	srv *http.Server
}

func New(cfg *Config, deps Deps) *Server {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	if deps.Reporter != nil {
		r.Get("/status", handler.StatusHandler(deps.Reporter))
	}

	r.Route("/positions", func(r chi.Router) {
		r.Get("/", handler.PositionsHandler(deps.Manager, deps.Store))
		r.Get("/summary", handler.PositionSummaryHandler(deps.Manager))
	})
	r.Get("/trades", handler.TradesHandler(deps.Store))
	r.Get("/candles", handler.CandlesHandler(deps.Store))
	r.Get("/events", handler.EventsHandler(deps.Store))

	r.Route("/strategies", func(r chi.Router) {
		r.Get("/", handler.ListStrategiesHandler(deps.Runtime))
		r.Post("/", handler.CreateStrategyHandler(deps.Runtime))
		r.Post("/{id}/{action}", handler.StrategyActionHandler(deps.Runtime))
		r.Put("/{id}/params", handler.UpdateStrategyHandler(deps.Runtime))
	})

	r.Get("/ws/events", handler.EventsStreamHandler(deps.Bus))

	return &Server{
		srv: &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: r,
		},
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	logger.Infof("Listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
