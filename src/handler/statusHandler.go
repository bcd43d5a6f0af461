package handler

import (
	"net/http"
)

type statusReporter interface {
	Status() map[string]any
}

// StatusHandler reports the live system snapshot: component states, uptime
// and exposure summary.
func StatusHandler(sys statusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sys.Status())
	}
}
