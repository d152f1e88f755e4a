package handlers

import (
  "context"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"
  "github.com/gorilla/websocket"

  "github.com/marketbay/marketbay-backend/internal/logger"
  "github.com/marketbay/marketbay-backend/internal/requestdata"
  "github.com/marketbay/marketbay-backend/internal/socket"
)

var upgrader = websocket.Upgrader{
  CheckOrigin: func(r *http.Request) bool {
    return true
  },
}

func WsHandler(hub *socket.Hub, log *logger.Logger) gin.HandlerFunc {
  return func(c *gin.Context) {
    ctx := c.Request.Context()

    rd := requestdata.GetRequestData(ctx)
    if rd == nil || rd.UserID == uuid.Nil {
      c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
      return
    }
    conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
    if err != nil {
      log.Warn("Failed to upgrade to websocket", "error", err)
      return
    }

    // The WS outlives the HTTP request, so the loops get their own context.
    wsCtx, cancel := context.WithCancel(context.Background())
    client := socket.NewClient(conn, hub, rd.UserID, cancel, log)

    // Session channels arrive as explicit subscribe frames from the feed
    // client; only the per-user channel is implicit.
    hub.Subscribe(client, []string{"user:" + rd.UserID.String()})

    go client.ReadLoop(wsCtx)
    go client.WriteLoop(wsCtx)
  }
}
