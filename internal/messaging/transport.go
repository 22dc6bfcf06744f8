package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mmcdole/reelcache/internal/domain"
)

// Paths the proxy mounts the messaging endpoints on.
const (
	CommandsPath = "/__reel/commands"
	EventsPath   = "/__reel/events"
	StatusPath   = "/__reel/status"
)

const maxCommandBytes = 1 << 20

// CommandHandler executes commands received from the application.
type CommandHandler interface {
	HandleCommand(ctx context.Context, msg Message) error
}

// NewCommandEndpoint accepts a JSON command on POST and hands it to h.
func NewCommandEndpoint(h CommandHandler, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		msg, err := Decode(body)
		if err != nil {
			logger.Warn("rejected command", "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !msg.Kind.IsCommand() {
			http.Error(w, fmt.Sprintf("%s is not a command", msg.Kind), http.StatusBadRequest)
			return
		}

		if err := h.HandleCommand(r.Context(), msg); err != nil {
			logger.Error("command failed", "error", err, "kind", msg.Kind, "id", msg.ID)
			status := http.StatusInternalServerError
			if errors.Is(err, ErrUnsupportedCommand) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"id": msg.ID})
	})
}

// NewEventStream streams every hub notification to the caller as
// server-sent events until the request is canceled or the hub closes.
func NewEventStream(hub *Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub := hub.Subscribe(0)
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				data, err := json.Marshal(msg)
				if err != nil {
					logger.Error("failed to encode event", "error", err, "kind", msg.Kind)
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

// NewStatusEndpoint serves the snapshot returned by fn as JSON.
func NewStatusEndpoint(fn func(ctx context.Context) domain.Status) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		json.NewEncoder(w).Encode(fn(r.Context()))
	})
}
