package sync

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// UsernameKey is the gin context key an authentication middleware sets to
// pin a websocket stream to one user. It takes precedence over ?username=.
const UsernameKey = "sync.username"

// WSHandler upgrades the request and streams history events until the
// client goes away. ?username= narrows the stream to one user when no
// middleware has set UsernameKey.
func WSHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetString(UsernameKey)
		if username == "" {
			username = c.Query("username")
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		hub.AddWS(ws, username)
		hub.logger.WithFields(logrus.Fields{"remote": c.ClientIP(), "username": username}).Info("ws client connected")

		// incoming messages are ignored; reading detects the close
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.RemoveWS(ws)
		hub.logger.WithField("remote", c.ClientIP()).Info("ws client disconnected")
	}
}
