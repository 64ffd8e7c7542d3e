package handlers

import (
	"encoding/json"
	"log"

	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/events"
)

// EventsHandler streams pipeline events over WebSocket
type EventsHandler struct {
	hub *events.Hub
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *events.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Handle subscribes the connection to the event feed until it closes
func (h *EventsHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	log.Printf("Event feed connection established: %s", c.RemoteAddr())

	// Drain reads so close frames are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("Failed to marshal event: %v", err)
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("Event feed write error: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
