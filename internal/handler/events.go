package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"acctshop-api/internal/bot"
	"acctshop-api/pkg/apierror"
	"acctshop-api/pkg/response"
)

const maxEventBytes = 64 << 10

// Dispatcher handles one chat event.
type Dispatcher interface {
	Handle(ctx context.Context, ev bot.Event) (*bot.Response, error)
}

// EventHandler is the webhook the chat transport posts updates to.
type EventHandler struct {
	bot Dispatcher
}

func NewEventHandler(d Dispatcher) *EventHandler {
	return &EventHandler{bot: d}
}

// Handle handles POST /api/v1/events
func (h *EventHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var ev bot.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err := dec.Decode(&ev); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	resp, err := h.bot.Handle(r.Context(), ev)
	switch {
	case errors.Is(err, bot.ErrInvalidEvent):
		response.Error(w, apierror.ValidationError(err.Error()))
		return
	case err != nil:
		response.Error(w, err)
		return
	}

	response.OK(w, resp)
}
