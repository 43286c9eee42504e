package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"iris/internal/jsonx"
	"iris/internal/logging"
	"iris/internal/server/app"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

// widgetFeed streams widget.open and draw events to co-located receivers
// over a websocket. ?target=ipad|mac narrows the feed.
type widgetFeed struct {
	hub      *app.WidgetHub
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func (f *widgetFeed) handle(c *gin.Context) {
	conn, err := f.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := f.hub.Subscribe(c.Query("target"))
	defer unsubscribe()

	closed := make(chan struct{})
	go f.readLoop(conn, closed)

	ping := time.NewTicker(feedPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := jsonx.Marshal(event)
			if err != nil {
				f.logger.Warn("encode %s for receiver: %v", event.Kind, err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames and reports when the peer goes away.
func (f *widgetFeed) readLoop(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
