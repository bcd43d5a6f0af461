package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradingcore/src/strategy"
)

type strategyRuntime interface {
	Instances() []*strategy.Instance
	AddInstance(ctx context.Context, typeTag, symbol, template string, overrides strategy.Params) (*strategy.Instance, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	StopInstance(ctx context.Context, id string) error
	UpdateParams(ctx context.Context, id string, overrides strategy.Params) error
}

type instanceView struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Symbol   string          `json:"symbol"`
	Template string          `json:"template"`
	Status   string          `json:"status"`
	Params   strategy.Params `json:"params"`
}

func viewOf(in *strategy.Instance) instanceView {
	return instanceView{
		ID:       in.ID,
		Type:     in.Type,
		Symbol:   in.Symbol,
		Template: in.Template,
		Status:   in.Status(),
		Params:   in.Params(),
	}
}

// ListStrategiesHandler returns a handler that lists running strategy
// instances.
func ListStrategiesHandler(rt strategyRuntime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instances := rt.Instances()
		views := make([]instanceView, 0, len(instances))
		for _, in := range instances {
			views = append(views, viewOf(in))
		}
		writeJSON(w, views)
	}
}

type createStrategyRequest struct {
	Type     string          `json:"type"`
	Symbol   string          `json:"symbol"`
	Template string          `json:"template"`
	Params   strategy.Params `json:"params"`
}

// CreateStrategyHandler returns a handler that starts a new strategy
// instance from a registered type and template.
func CreateStrategyHandler(rt strategyRuntime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createStrategyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Type == "" || req.Symbol == "" {
			http.Error(w, "type and symbol are required", http.StatusBadRequest)
			return
		}
		if req.Template == "" {
			req.Template = "conservative"
		}

		in, err := rt.AddInstance(r.Context(), req.Type, req.Symbol, req.Template, req.Params)
		if err != nil {
			logger.WithError(err).Error("failed to start strategy")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, viewOf(in))
	}
}

// StrategyActionHandler returns a handler for pause/resume/stop lifecycle
// actions on one instance.
func StrategyActionHandler(rt strategyRuntime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		action := chi.URLParam(r, "action")

		var err error
		switch action {
		case "pause":
			err = rt.Pause(r.Context(), id)
		case "resume":
			err = rt.Resume(r.Context(), id)
		case "stop":
			err = rt.StopInstance(r.Context(), id)
		default:
			http.Error(w, "unknown action", http.StatusNotFound)
			return
		}
		if err != nil {
			if errors.Is(err, strategy.ErrInstanceNotFound) {
				http.Error(w, "instance not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"id": id, "action": action, "result": "ok"})
	}
}

// UpdateStrategyHandler returns a handler that merges new parameters into a
// running instance.
func UpdateStrategyHandler(rt strategyRuntime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var overrides strategy.Params
		if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := rt.UpdateParams(r.Context(), id, overrides); err != nil {
			if errors.Is(err, strategy.ErrInstanceNotFound) {
				http.Error(w, "instance not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"id": id, "result": "ok"})
	}
}
