package middleware

import (
  "github.com/gin-gonic/gin"

  "github.com/marketbay/marketbay-backend/internal/errordata"
)

func AttachRequestContext() gin.HandlerFunc {
  return func(c *gin.Context) {
    ctx := c.Request.Context()
    ctx = errordata.WithErrorData(ctx)
    c.Request = c.Request.WithContext(ctx)
    c.Next()
  }
}
