package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"iris/internal/agent/ports"
	"iris/internal/jsonx"
	"iris/internal/logging"
)

const (
	ndjsonContentType = "application/x-ndjson"
	sseKeepAlive      = 15 * time.Second
)

type streamFormat int

const (
	formatSSE streamFormat = iota
	formatNDJSON
)

// negotiateFormat picks NDJSON when asked for by query or Accept header.
func negotiateFormat(c *gin.Context) streamFormat {
	if strings.EqualFold(c.Query("format"), "ndjson") {
		return formatNDJSON
	}
	if strings.Contains(c.GetHeader("Accept"), ndjsonContentType) {
		return formatNDJSON
	}
	return formatSSE
}

// writeEventStream writes one frame per event and flushes it immediately.
// It keeps draining events after a write failure so the turn can finish.
func writeEventStream(c *gin.Context, format streamFormat, events <-chan ports.Event, logger logging.Logger) {
	w := c.Writer
	switch format {
	case formatNDJSON:
		w.Header().Set("Content-Type", ndjsonContentType)
	default:
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Connection", "keep-alive")
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	broken := false
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if broken {
				continue
			}
			if err := writeFrame(w, format, event); err != nil {
				logger.Warn("stream write failed, draining remaining events: %v", err)
				broken = true
				continue
			}
			w.Flush()
		case <-ticker.C:
			if broken || format != formatSSE {
				continue
			}
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				broken = true
				continue
			}
			w.Flush()
		}
	}
}

func writeFrame(w gin.ResponseWriter, format streamFormat, event ports.Event) error {
	data, err := jsonx.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Kind, err)
	}
	if format == formatNDJSON {
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
