package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"storechat/internal/domain"
)

const realtimeFetchLimit = 50

type realtimeSnapshot struct {
	Messages []domain.Message `json:"messages"`
	Count    int              `json:"count"`
}

// handleRealtime serves GET /api/realtime?sessionId= over a websocket. The
// server re-reads the conversation on an interval and pushes the full
// ascending message list whenever it changed.
func (s *Server) handleRealtime(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_session_id"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "sessionId", sessionID, "op", "realtime", "err", err)
		return
	}
	defer conn.Close()

	// The read pump exists only to observe the close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var lastSent string
	push := func() bool {
		msgs, err := s.chat.History(c.Request.Context(), sessionID, realtimeFetchLimit)
		if err != nil {
			s.logger.Error("realtime fetch failed", "sessionId", sessionID, "op", "realtime", "err", err)
			return true
		}
		key := snapshotKey(msgs)
		if key == lastSent {
			return true
		}
		if msgs == nil {
			msgs = []domain.Message{}
		}
		if err := conn.WriteJSON(realtimeSnapshot{Messages: msgs, Count: len(msgs)}); err != nil {
			return false
		}
		lastSent = key
		return true
	}

	if !push() {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if !push() {
				return
			}
		}
	}
}

// snapshotKey summarizes a message list so unchanged conversations are not
// re-pushed every tick.
func snapshotKey(msgs []domain.Message) string {
	if len(msgs) == 0 {
		return "0"
	}
	last := msgs[len(msgs)-1]
	return strconv.Itoa(len(msgs)) + "#" + last.ID + "#" + last.Timestamp.Format(time.RFC3339Nano)
}
