package httpserver

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/layercodedev/sled/internal/bridge"
)

// handleProxy joins the browser socket directly to the agent socket without
// decoding protocol traffic. Useful for clients that speak the agent's wire
// format themselves.
func (s *Server) handleProxy(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("proxy upgrade error: %v", err)
		return nil
	}

	agent, _, err := websocket.DefaultDialer.Dial(s.cfg.AgentWSURL, nil)
	if err != nil {
		log.Printf("proxy agent dial error: %v", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "agent unavailable"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return nil
	}

	link := bridge.Join(bridge.NewWSEndpoint(conn), bridge.NewWSEndpoint(agent), bridge.Options{})
	if err := link.Err(); err != nil {
		log.Printf("proxy ended with error: %v", err)
	}
	return nil
}
