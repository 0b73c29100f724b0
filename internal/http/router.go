package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/inkwell/inkwell-auth/internal/config"
	"github.com/inkwell/inkwell-auth/internal/http/handler"
	httpmiddleware "github.com/inkwell/inkwell-auth/internal/http/middleware"
	"github.com/inkwell/inkwell-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, logger *zap.Logger, authHandler *handler.AuthHandler, authMiddleware *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	auth := r.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
		auth.POST("/logout", authHandler.Logout)

		tokens := auth.Group("/tokens")
		{
			tokens.POST("/get", authHandler.ExchangeCode)
			tokens.POST("/refresh", authHandler.Refresh)
		}

		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/verify-otp", authHandler.VerifyOTP)
		auth.POST("/reset-password", authHandler.ResetPassword)

		auth.GET("/me", authMiddleware.RequireAccessToken, authHandler.Me)
		auth.POST("/change-password", authMiddleware.RequireAccessToken, authHandler.ChangePassword)
	}

	return r
}
