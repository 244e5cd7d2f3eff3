package server

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"topup-checkout/internal/domain"
	"topup-checkout/internal/service"
)

const userCookie = "uid"

var games = []string{"MLBB", "FF"}

type buyRequest struct {
	Game     string `form:"game" json:"game"`
	ItemID   string `form:"item_id" json:"item_id"`
	ServerID string `form:"server_id" json:"server_id"`
	ZoneID   string `form:"zone_id" json:"zone_id"`
}

type buyResponse struct {
	OrderID     string             `json:"order_id"`
	Amount      string             `json:"amount"`
	Status      domain.OrderStatus `json:"status"`
	QRPNG       string             `json:"qr_png"`
	QRPayload   string             `json:"qr_payload"`
	Fingerprint string             `json:"fingerprint"`
}

func (s *Server) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", c.GetString(requestIDKey)).Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

// currentUser is the user bound by the uid cookie, falling back to the
// demo user.
func (s *Server) currentUser(c *gin.Context) int64 {
	if v, err := c.Cookie(userCookie); err == nil {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			return id
		}
	}
	return s.opts.DemoUserID
}

func (s *Server) handleIndex(c *gin.Context) {
	ctx := c.Request.Context()

	if _, err := c.Cookie(userCookie); err != nil {
		if err := s.svc.ProvisionUser(ctx, s.opts.DemoUserID, s.opts.DemoUsername); err != nil {
			s.fail(c, err)
			return
		}
		c.SetCookie(userCookie, strconv.FormatInt(s.opts.DemoUserID, 10), 0, "/", "", false, true)
	}
	userID := s.currentUser(c)

	reseller, err := s.svc.IsReseller(ctx, userID)
	if err != nil {
		s.fail(c, err)
		return
	}

	catalog := make(map[string]map[string]domain.Price, len(games))
	for _, game := range games {
		prices, err := s.svc.ListCatalog(ctx, game)
		if err != nil {
			s.fail(c, err)
			return
		}
		catalog[game] = prices
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"reseller": reseller,
		"catalog":  catalog,
	})
}

func (s *Server) handleBuy(c *gin.Context) {
	var req buyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": purchaseFormMessage})
		return
	}

	res, err := s.svc.Purchase(c.Request.Context(), service.PurchaseRequest{
		UserID:   s.currentUser(c),
		Game:     req.Game,
		ItemID:   req.ItemID,
		ServerID: req.ServerID,
		ZoneID:   req.ZoneID,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, buyResponse{
		OrderID:     res.Order.OrderID,
		Amount:      res.Order.Amount.StringFixed(2),
		Status:      res.Order.Status,
		QRPNG:       base64.StdEncoding.EncodeToString(res.QR.PNG),
		QRPayload:   res.QR.Payload,
		Fingerprint: res.QR.Fingerprint,
	})
}

func (s *Server) handleOrderStatus(c *gin.Context) {
	view, err := s.svc.GetStatus(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleListOrders(c *gin.Context) {
	orders, err := s.svc.ListOrders(c.Request.Context(), s.currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) handleCheckPaymentStatus(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	paying, err := s.svc.IsUserCurrentlyPaying(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paid": !paying})
}

func (s *Server) handleCancelPolling(c *gin.Context) {
	orderID := c.Param("order_id")
	if err := s.svc.CancelPolling(c.Request.Context(), orderID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "polling": false})
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}
