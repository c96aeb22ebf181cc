// Package api - Streaming endpoints
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// handlePortfolioStream handles GET /ws/portfolios/{id}.
// The latest recommendation, if any, is sent on connect; every recorded
// recommendation follows.
func (s *Server) handlePortfolioStream(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	id := session.ID()

	updates, cancel := session.Subscribe()
	defer cancel()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	if rec := s.latestOf(id); rec != nil {
		if err := s.send(ws, StreamMessage{Type: MessageRecommendation, Data: rec}); err != nil {
			return
		}
	}

	s.stream(ws, func() (interface{}, bool) {
		rec, ok := <-updates
		return StreamMessage{Type: MessageRecommendation, Data: rec}, ok
	})
}

// handleAlertStream handles GET /ws/alerts
func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	alerts, cancel := s.registry.Alerts()
	defer cancel()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	s.stream(ws, func() (interface{}, bool) {
		a, ok := <-alerts
		return StreamMessage{Type: MessageAlert, Data: a}, ok
	})
}

// stream forwards values from next until the client goes away or next is
// exhausted. Client frames are read only to observe close and pong.
func (s *Server) stream(ws *websocket.Conn, next func() (interface{}, bool)) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	values := make(chan interface{})
	go func() {
		defer close(values)
		for {
			v, ok := next()
			if !ok {
				return
			}
			select {
			case values <- v:
			case <-closed:
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case v, ok := <-values:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := s.send(ws, v); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) send(ws *websocket.Conn, v interface{}) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(v); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
