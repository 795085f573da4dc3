package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// CheckOrigin allows every origin; the server is meant for localhost.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWSTelemetry streams "telemetry" and "link" events. The first message
// is the current snapshot when a car is connected.
func (s *Server) handleWSTelemetry(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := s.wsTelemetry.Add(conn)

	if veh, _ := s.dev.current(); veh != nil {
		if rs := veh.Telemetry(); rs != nil {
			_ = client.Send(WSMessage{Type: "telemetry", Data: s.telemetryEvent(veh, rs)})
		}
	}

	// Incoming messages are ignored; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.wsTelemetry.Remove(client)
			return
		}
	}
}
