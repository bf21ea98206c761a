package health

import (
	"net/http"
	"time"

	"github.com/hilthontt/notifygate/internal/infrastructure/json"
)

// ConnectionCounter reports how many websocket connections are registered.
type ConnectionCounter interface {
	Len() int
}

type Handler struct {
	connections ConnectionCounter
	startedAt   time.Time
}

func NewHandler(connections ConnectionCounter) *Handler {
	return &Handler{
		connections: connections,
		startedAt:   time.Now(),
	}
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	Connections int       `json:"connections"`
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	data := healthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		Uptime:      time.Since(h.startedAt).Round(time.Second).String(),
		Connections: h.connections.Len(),
	}
	json.WriteJSON(w, http.StatusOK, data)
}
