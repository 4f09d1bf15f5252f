package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type eventWriter struct {
	c       *gin.Context
	flusher http.Flusher
}

// startSSE switches the response to an event stream. It writes a JSON error
// and returns false when the writer cannot flush.
func startSSE(c *gin.Context) (*eventWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return nil, false
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &eventWriter{c: c, flusher: flusher}, true
}

func (w *eventWriter) send(event string, payload interface{}) error {
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}
	if event != "" {
		if _, err := fmt.Fprintf(w.c.Writer, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// ping keeps idle proxies from closing the stream.
func (w *eventWriter) ping() error {
	if _, err := fmt.Fprint(w.c.Writer, ": ping\n\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}
