package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound frame.
	maxMessageSize = 16 * 1024

	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// sendBuffer is the per-connection outbound queue depth. A connection
	// that cannot drain this fast enough is closed rather than allowed to
	// stall fan-out.
	sendBuffer = 256
)

// client couples a registered connection to its WebSocket. Each client runs
// two goroutines: readPump parses inbound frames and dispatches commands,
// writePump drains the send channel to the socket.
type client struct {
	id     uuid.UUID
	userID uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	log    zerolog.Logger

	// done is closed to signal shutdown. The send channel is never closed;
	// writePump and Send both select on done, avoiding send-on-closed-channel
	// panics when unregister races with dispatch.
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id, userID uuid.UUID, hub *Hub, conn *websocket.Conn, logger zerolog.Logger) *client {
	return &client{
		id:     id,
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		log:    logger.With().Stringer("conn_id", id).Logger(),
	}
}

// Send enqueues a frame for the writer, reporting false when the client is
// shutting down. A full buffer closes the connection so backpressure cannot
// stall the router.
func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Msg("Client send buffer full, closing connection")
		c.close()
		return false
	}
}

// close signals both pumps to stop and closes the socket.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
	_ = c.conn.Close()
}

// writePump drains the send channel to the socket. On done it flushes any
// frames already buffered so the client receives them before the close.
func (c *client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			for {
				select {
				case frame := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// readPump reads inbound frames and routes them by message type. It owns the
// connection teardown: on exit the client is unregistered everywhere and the
// socket is closed.
func (c *client) readPump() {
	defer func() {
		c.hub.teardown(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	// Standard control Pings are answered with a Pong carrying the same
	// payload; both control frames count as activity.
	c.conn.SetPingHandler(func(data string) error {
		c.hub.registry.TouchActivity(c.id)
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	c.conn.SetPongHandler(func(string) error {
		c.hub.registry.TouchActivity(c.id)
		return nil
	})

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.hub.dispatch(c, payload)
		case websocket.BinaryMessage:
			// Binary frames are not part of the protocol.
		}
	}
}
