package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-learn/internal/progress"
)

const streamWriteTimeout = 10 * time.Second

// handleStream sends the outline over a websocket once on connect and again
// after every applied action. Bursts of actions are coalesced into one write.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "enrollment_id", sess.EnrollmentID(), "error", err)
		return
	}
	defer c.CloseNow()

	changed := make(chan struct{}, 1)
	unsubscribe := sess.Subscribe(func(progress.State, progress.Action) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := c.CloseRead(r.Context())

	slog.Info("outline stream opened", "enrollment_id", sess.EnrollmentID())
	for {
		if err := writeOutline(ctx, c, sess.Outline()); err != nil {
			slog.Info("outline stream closed", "enrollment_id", sess.EnrollmentID(), "error", err)
			return
		}
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case <-changed:
		}
	}
}

func writeOutline(ctx context.Context, c *websocket.Conn, o progress.Outline) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, o)
}
