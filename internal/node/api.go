package node

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"dotbeacon/internal/controller"
	"dotbeacon/internal/database"
	"dotbeacon/internal/pairing"
	"dotbeacon/internal/substrate"
)

type networkRequest struct {
	Value string `json:"value" binding:"required"`
}

type signerRequest struct {
	Key string `json:"key" binding:"required"`
}

type transferRequest struct {
	Recipient *string `json:"recipient"`
	// Amount in planck as a base 10 string
	Amount *string `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (n *Node) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), n.requestLogger())

	r.GET("/health", n.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(n.promReg, promhttp.HandlerOpts{})))
	r.GET("/ws", gin.WrapH(n.wsManager))

	api := r.Group("/api")
	api.GET("/networks", n.handleNetworks)
	api.POST("/network", n.handleNetworkChanged)
	api.GET("/state", n.handleState)
	api.POST("/signer", n.handleSignerChanged)
	api.POST("/connect/extension", n.handleConnectExtension)
	api.POST("/connect/pairing", n.handleConnectPairing)
	api.POST("/disconnect/pairing", n.handleDisconnectPairing)
	api.POST("/transfer", n.rateLimit(), n.handleTransfer)
	api.GET("/transfers", n.handleTransfers)

	return r
}

func (n *Node) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		n.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start),
		}).Debug("HTTP request")
	}
}

func (n *Node) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !n.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: "too many transfer requests"})
			return
		}
		c.Next()
	}
}

func (n *Node) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": n.ctrl.State().Status,
		"uptime": time.Since(n.startTime).Round(time.Second).String(),
	})
}

func (n *Node) handleNetworks(c *gin.Context) {
	c.JSON(http.StatusOK, n.registry.All())
}

func (n *Node) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, n.ctrl.State())
}

func (n *Node) handleNetworkChanged(c *gin.Context) {
	var req networkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := n.ctrl.NetworkChanged(c.Request.Context(), req.Value); err != nil {
		n.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n.ctrl.State())
}

func (n *Node) handleSignerChanged(c *gin.Context) {
	var req signerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := n.ctrl.SignerChanged(req.Key); err != nil {
		n.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n.ctrl.State())
}

func (n *Node) handleConnectExtension(c *gin.Context) {
	if err := n.ctrl.ConnectExtension(c.Request.Context()); err != nil {
		n.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n.ctrl.State())
}

func (n *Node) handleConnectPairing(c *gin.Context) {
	if err := n.ctrl.ConnectPairing(c.Request.Context()); err != nil {
		n.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n.ctrl.State())
}

func (n *Node) handleDisconnectPairing(c *gin.Context) {
	if err := n.ctrl.DisconnectPairing(c.Request.Context()); err != nil {
		n.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n.ctrl.State())
}

func (n *Node) handleTransfer(c *gin.Context) {
	var req transferRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	if req.Recipient != nil || req.Amount != nil {
		state := n.ctrl.State()
		recipient := state.Recipient
		if req.Recipient != nil {
			recipient = *req.Recipient
		}
		amountText := state.Amount
		if req.Amount != nil {
			amountText = *req.Amount
		}
		amount, ok := new(big.Int).SetString(amountText, 10)
		if !ok {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "amount must be an integer"})
			return
		}
		if err := n.ctrl.SetTransfer(recipient, amount); err != nil {
			n.fail(c, err)
			return
		}
	}

	result, err := n.ctrl.Sign(c.Request.Context())
	if err != nil {
		n.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (n *Node) handleTransfers(c *gin.Context) {
	limit := database.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = v
	}

	transfers, err := n.ctrl.Transfers(c.Request.Context(), limit)
	if err != nil {
		n.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, transfers)
}

func (n *Node) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		n.logger.WithError(err).WithField("path", c.FullPath()).Warn("Request failed")
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrUnknownNetwork),
		errors.Is(err, controller.ErrInvalidTransfer),
		errors.Is(err, controller.ErrNoAddress),
		errors.Is(err, controller.ErrNoSigner):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrUnknownSigner),
		errors.Is(err, controller.ErrNoExtensionAccount):
		return http.StatusNotFound
	case errors.Is(err, pairing.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, pairing.ErrPairingUnavailable):
		return http.StatusConflict
	case errors.Is(err, pairing.ErrIncompatibleWallet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pairing.ErrTransportFailure):
		return http.StatusGatewayTimeout
	case errors.Is(err, controller.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, substrate.ErrTxFailed), errors.Is(err, substrate.ErrBadSignature):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
