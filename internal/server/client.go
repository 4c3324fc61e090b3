package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Chase-Garrett/sealedchat/internal/auth"
	"github.com/Chase-Garrett/sealedchat/internal/fanout"
	"github.com/Chase-Garrett/sealedchat/internal/protocol"
	"github.com/Chase-Garrett/sealedchat/internal/router"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	routeTimeout = 5 * time.Second
	sendBuffer   = 256
)

// Client sits between one websocket connection and the router/fan-out.
// Its principal is fixed at upgrade time.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	principal auth.Principal
	send      chan protocol.OutboundFrame
	done      chan struct{}
	log       logrus.FieldLogger
}

// HandleConnections upgrades to a websocket bound to the caller's identity.
// Unauthenticated callers still get a connection, with an anonymous
// principal that cannot send and has no inbox subscription.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	principal := auth.BindPrincipal(r.Context())
	c := &Client{
		server:    s,
		principal: principal,
		send:      make(chan protocol.OutboundFrame, sendBuffer),
		done:      make(chan struct{}),
		log:       s.log.WithFields(logrus.Fields{"user": principal.String(), "remote": r.RemoteAddr}),
	}

	// subscribe before the upgrade completes so nothing published after the
	// client sees the handshake is missed
	var sub fanout.Subscription
	if id, ok := principal.Identity(); ok {
		var err error
		sub, err = s.broker.Subscribe(fanout.Address(id.String()), func(msg protocol.Message) {
			c.enqueue(protocol.MessageFrame(msg))
		})
		if err != nil {
			c.log.WithError(err).Error("subscribe failed")
			writeError(w, http.StatusServiceUnavailable, "subscribe failed")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.log.WithError(err).Warn("websocket upgrade failed")
		if sub != nil {
			_ = sub.Unsubscribe()
		}
		return
	}
	c.conn = conn

	s.conns.Inc()
	c.log.WithField("anonymous", principal.Anonymous()).Info("client connected")

	go c.writePump()
	go c.readPump(sub)
}

// enqueue never blocks; a client that cannot keep up loses frames
func (c *Client) enqueue(f protocol.OutboundFrame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		c.log.Warn("send buffer full, dropping frame")
	}
}

func (c *Client) readPump(sub fanout.Subscription) {
	defer func() {
		if sub != nil {
			if err := sub.Unsubscribe(); err != nil {
				c.log.WithError(err).Warn("unsubscribe failed")
			}
		}
		close(c.done)
		c.conn.Close()
		c.server.conns.Dec()
		c.log.Info("client disconnected")
	}()

	c.conn.SetReadLimit(c.server.cfg.WebSocket.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("websocket read error")
			}
			return
		}

		var frame protocol.InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != protocol.FrameSend {
			c.enqueue(protocol.ErrorFrame(protocol.CodeBadFrame, frame.Ref))
			continue
		}
		c.handleSend(frame)
	}
}

func (c *Client) handleSend(frame protocol.InboundFrame) {
	ctx, cancel := context.WithTimeout(c.server.ctx, routeTimeout)
	defer cancel()

	msg, err := c.server.router.Route(ctx, c.principal, frame.SendRequest)
	if err != nil {
		c.log.WithError(err).Debug("send rejected")
		c.enqueue(protocol.ErrorFrame(router.ErrorCode(err), frame.Ref))
		return
	}
	c.enqueue(protocol.AckFrame(msg, frame.Ref))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.log.WithError(err).Warn("websocket write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		case <-c.server.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
