package server

import (
  "github.com/gin-contrib/cors"
  "github.com/gin-gonic/gin"

  "github.com/marketbay/marketbay-backend/internal/handlers"
  "github.com/marketbay/marketbay-backend/internal/middleware"
)

type RouterConfig struct {
  AuthHandler    *handlers.AuthHandler
  AuthMiddleware *middleware.AuthMiddleware
  MeHandler      *handlers.MeHandler
  ChatHandler    *handlers.ChatHandler
  WsHandler      gin.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
  router := gin.Default()

  //-----------------------------------------
  // Cors Setup
  //-----------------------------------------
  router.Use(cors.New(cors.Config{
    AllowOrigins: []string{
      "http://localhost:3000",
      "https://marketbay.dev",
      "https://www.marketbay.dev",
    },
    AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
    AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
    AllowCredentials: true,
  }))
  router.Use(middleware.AttachRequestContext())

  //-----------------------------------------
  // Health Routes
  //-----------------------------------------
  router.GET("/healthz", handlers.Healthz)

  //-----------------------------------------
  // Public Routes
  //-----------------------------------------
  api := router.Group("/api")
  {
    api.POST("/register", cfg.AuthHandler.Register)
    api.POST("/login", cfg.AuthHandler.Login)
  }

  //------------------------------------------
  // Protected Routes
  //------------------------------------------
  protected := api.Group("/")
  protected.Use(cfg.AuthMiddleware.RequireAuth())
  protected.GET("/ws", cfg.WsHandler)

  //ME
  protected.GET("/me", cfg.MeHandler.GetMe)

  //Chat
  chat := protected.Group("/chat")
  chat.POST("/session", cfg.ChatHandler.ResolveSession)
  chat.GET("/sessions/:id/messages", cfg.ChatHandler.GetMessages)
  chat.POST("/sessions/:id/messages", cfg.ChatHandler.SendMessage)
  chat.POST("/sessions/:id/close", cfg.ChatHandler.CloseSession)

  return router
}
