package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradingcore/src/statestore"
)

const defaultHistoryLimit = 200

// parseHistoryQuery reads the shared symbol/from/to/limit query parameters.
// Returns false after writing the error response when a parameter is
// malformed.
func parseHistoryQuery(w http.ResponseWriter, r *http.Request) (statestore.HistoryQuery, bool) {
	q := statestore.HistoryQuery{
		Symbol: r.URL.Query().Get("symbol"),
		Limit:  defaultHistoryLimit,
	}

	if fromParam := r.URL.Query().Get("from"); fromParam != "" {
		parsed, err := time.Parse(time.RFC3339, fromParam)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return q, false
		}
		q.From = parsed
	}

	if toParam := r.URL.Query().Get("to"); toParam != "" {
		parsed, err := time.Parse(time.RFC3339, toParam)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return q, false
		}
		q.To = parsed
	}

	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return q, false
		}
		q.Limit = parsed
	}

	return q, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// CandlesHandler returns a handler that lists stored candles for a symbol
// and interval.
func CandlesHandler(store statestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := parseHistoryQuery(w, r)
		if !ok {
			return
		}
		if q.Symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}
		interval := r.URL.Query().Get("interval")
		if interval == "" {
			interval = "1m"
		}

		candles, err := store.Candles(r.Context(), interval, q)
		if err != nil {
			logger.WithError(err).Error("failed to list candles")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, candles)
	}
}

// TradesHandler returns a handler that lists executed trades.
func TradesHandler(store statestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := parseHistoryQuery(w, r)
		if !ok {
			return
		}
		trades, err := store.Trades(r.Context(), q)
		if err != nil {
			logger.WithError(err).Error("failed to list trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, trades)
	}
}

// EventsHandler returns a handler that lists retained events, optionally
// filtered to a type prefix such as "trading." or an exact type.
func EventsHandler(store statestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := parseHistoryQuery(w, r)
		if !ok {
			return
		}
		events, err := store.Events(r.Context(), r.URL.Query().Get("type"), q)
		if err != nil {
			logger.WithError(err).Error("failed to list events")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	}
}
