package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agrilovers/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBufSize    = 256
)

// Client — одна вкладка браузера.
// Жизненный цикл: NewClient -> Start -> [readPump, writePump, действия] -> Close -> Wait.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan OutgoingMessage

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	pumps  sync.WaitGroup
	// intents — действия вкладки, выполняемые параллельно с чтением.
	intents sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan OutgoingMessage, hub.sendBuf),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.pumps.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait ждёт выхода насосов и незавершённых действий.
func (c *Client) Wait() {
	c.pumps.Wait()
	c.intents.Wait()
}

// Close идемпотентен и безопасен из любой горутины.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) resetReadDeadline(string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (c *Client) readPump(ctx context.Context) {
	defer c.pumps.Done()
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.resetReadDeadline(""); err != nil {
		logger.Errorf("ws tab=%s: set read deadline: %v", c.id, err)
		return
	}
	c.conn.SetPongHandler(c.resetReadDeadline)

	for ctx.Err() == nil {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("ws tab=%s: read: %v", c.id, err)
			}
			return
		}
		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warnf("ws tab=%s: malformed intent: %v", c.id, err)
			continue
		}
		// открытие беседы может ждать таймаута; следующее действие не должно стоять в очереди за ним
		c.intents.Add(1)
		go func() {
			defer c.intents.Done()
			c.hub.HandleMessage(ctx, c, msg)
		}()
	}
}

// write отправляет один кадр; каждое сообщение — отдельный текстовый кадр JSON.
func (c *Client) write(msg OutgoingMessage) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		_ = w.Close()
		logger.Errorf("ws tab=%s: encode %s: %v", c.id, msg.Type, err)
		return nil
	}
	return w.Close()
}

func (c *Client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Client) writePump(ctx context.Context) {
	defer c.pumps.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			err = c.write(msg)
		case <-ticker.C:
			err = c.ping()
		}
		if err != nil {
			logger.Debugf("ws tab=%s: write: %v", c.id, err)
			return
		}
	}
}
