package handlers

import (
	"log"

	"github.com/gofiber/websocket/v2"

	"sermon-engine/internal/progress"
)

// ProgressHandler streams pipeline progress updates over WebSocket.
type ProgressHandler struct {
	publisher *progress.Publisher
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(publisher *progress.Publisher) *ProgressHandler {
	return &ProgressHandler{publisher: publisher}
}

// Handle subscribes the connection to one sermon's progress feed and
// forwards updates until the job completes or the client disconnects.
func (h *ProgressHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	sermonID := c.Params("id")
	if sermonID == "" {
		c.WriteJSON(map[string]string{"error": "missing sermon id"})
		return
	}

	sub := h.publisher.Subscribe(sermonID)
	defer sub.Cancel()

	log.Printf("Progress subscriber %s attached to %s", sub.ID, sermonID)

	// Drain client frames so a closed peer unblocks the writer below.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-sub.C:
			if !ok {
				// Job finished; the final update has already been sent.
				c.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
				return
			}
			if err := c.WriteJSON(update); err != nil {
				log.Printf("Progress subscriber %s write error: %v", sub.ID, err)
				return
			}
		case <-closed:
			log.Printf("Progress subscriber %s disconnected from %s", sub.ID, sermonID)
			return
		}
	}
}
