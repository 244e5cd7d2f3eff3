package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"topup-checkout/internal/service"
)

// HealthChecker reports datastore health as a flat map.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Options struct {
	DemoUserID   int64
	DemoUsername string
	CORSOrigins  []string
}

// Server is the checkout HTTP API.
type Server struct {
	svc    service.OrderService
	health HealthChecker
	opts   Options
	router *gin.Engine
}

func NewServer(svc service.OrderService, health HealthChecker, opts Options) *Server {
	router := gin.New()

	s := &Server{
		svc:    svc,
		health: health,
		opts:   opts,
		router: router,
	}

	router.Use(requestID(), requestLogger(), recovery(), corsMiddleware(opts.CORSOrigins))

	router.GET("/", s.handleIndex)
	router.POST("/buy", s.handleBuy)
	router.GET("/order_status/:order_id", s.handleOrderStatus)
	router.GET("/orders", s.handleListOrders)
	router.GET("/check_payment_status/:user_id", s.handleCheckPaymentStatus)
	router.DELETE("/orders/:order_id/polling", s.handleCancelPolling)
	router.GET("/health", s.handleHealth)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
