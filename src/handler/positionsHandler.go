package handler

import (
	"net/http"

	logger "github.com/sirupsen/logrus"

	"tradingcore/src/model"
	"tradingcore/src/statestore"
	"tradingcore/src/trading"
)

type positionLister interface {
	Positions(symbol string) []model.Position
	Summarize() trading.Summary
}

// PositionsHandler returns a handler that lists positions. Live positions
// come from the order manager's books; history=true reads closed positions
// from storage instead.
func PositionsHandler(manager positionLister, store statestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")

		if r.URL.Query().Get("history") == "true" {
			positions, err := store.Positions(r.Context(), symbol, model.PositionStatusClosed)
			if err != nil {
				logger.WithError(err).Error("failed to list closed positions")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, positions)
			return
		}

		writeJSON(w, manager.Positions(symbol))
	}
}

// PositionSummaryHandler returns the aggregate exposure snapshot.
func PositionSummaryHandler(manager positionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.Summarize())
	}
}
