package handlers

import (
  "errors"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"
  "gorm.io/datatypes"

  "github.com/marketbay/marketbay-backend/internal/errordata"
  "github.com/marketbay/marketbay-backend/internal/errs"
  "github.com/marketbay/marketbay-backend/internal/services"
)

type ChatHandler struct {
  chatService services.ChatService
}

func NewChatHandler(chatService services.ChatService) *ChatHandler {
  return &ChatHandler{chatService: chatService}
}

// ResolveSession finds-or-creates the caller's open session. Safe for two
// tabs to hit at once; both land on the same session.
func (ch *ChatHandler) ResolveSession(c *gin.Context) {
  session, err := ch.chatService.ResolveSession(c.Request.Context())
  if err != nil {
    ch.renderError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"session": session})
}

func (ch *ChatHandler) GetMessages(c *gin.Context) {
  chatID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
    return
  }
  msgs, err := ch.chatService.GetHistory(c.Request.Context(), chatID)
  if err != nil {
    ch.renderError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (ch *ChatHandler) SendMessage(c *gin.Context) {
  chatID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
    return
  }
  var req struct {
    Message  string         `json:"message"`
    Metadata datatypes.JSON `json:"metadata,omitempty"`
  }
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  msg, err := ch.chatService.SendMessage(c.Request.Context(), chatID, req.Message, req.Metadata)
  if err != nil {
    ch.renderError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (ch *ChatHandler) CloseSession(c *gin.Context) {
  chatID, err := uuid.Parse(c.Param("id"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
    return
  }
  if err := ch.chatService.CloseSession(c.Request.Context(), chatID); err != nil {
    ch.renderError(c, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"success": true})
}

func (ch *ChatHandler) renderError(c *gin.Context, err error) {
  status := http.StatusInternalServerError
  switch {
  case errors.Is(err, errs.ErrUnauthenticated):
    status = http.StatusUnauthorized
  case errors.Is(err, errs.ErrValidation):
    status = http.StatusBadRequest
  case errors.Is(err, errs.ErrNotFound):
    status = http.StatusNotFound
  case errors.Is(err, errs.ErrStore):
    status = http.StatusServiceUnavailable
  }
  body := gin.H{"error": err.Error()}
  if ed := errordata.GetErrorData(c.Request.Context()); ed != nil && ed.HasMessage() {
    body["notice"] = ed.Message
  }
  c.JSON(status, body)
}
