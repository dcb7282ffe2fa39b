// Package api contains the HTTP handlers and routing for the payment service.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures the Gin router with all routes and middleware.
func SetupRouter(handler *Handler, ginMode string) *gin.Engine {
	gin.SetMode(ginMode)

	router := gin.New()

	// The notification protocol distinguishes 405 from 404: a GET on the
	// webhook URL must be answered with Method Not Allowed.
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.String(http.StatusMethodNotAllowed, "method not allowed")
	})

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(RequestIDMiddleware())

	router.GET("/health", handler.Health)

	v1 := router.Group("/api/v1")
	{
		payments := v1.Group("/payments")
		{
			payments.POST("/:order_id/checkout", handler.Checkout)
			payments.POST("/:order_id/refund", handler.Refund)
		}

		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.POST("/:order_id/renew", handler.RenewSubscription)
		}
	}

	// Called by the processor; authenticated by the signed token inside
	// the body rather than any header.
	router.POST("/webhook/tbank", handler.HandleWebhook)

	return router
}
