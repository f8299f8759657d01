package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lox/settled/internal/settlement"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// connection is one websocket event subscriber.
type connection struct {
	ws   *websocket.Conn
	out  chan settlement.Event
	log  zerolog.Logger
	once sync.Once
	done chan struct{}
}

func newConnection(ws *websocket.Conn, logger zerolog.Logger) *connection {
	return &connection{
		ws:   ws,
		out:  make(chan settlement.Event, sendBuffer),
		log:  logger,
		done: make(chan struct{}),
	}
}

// send queues an event for delivery, dropping it if the subscriber is slow.
// A stalled ops dashboard must never back-pressure the settlement path.
func (c *connection) send(e settlement.Event) {
	select {
	case c.out <- e:
	case <-c.done:
	default:
		c.log.Debug().Str("match_id", e.MatchID).Msg("slow subscriber; dropping event")
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump serializes all writes to the websocket. Returns when the
// connection closes.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case e := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
