package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"cafeorders/internal/domain"
	"cafeorders/internal/repository"
	"cafeorders/internal/service"
)

// Services зависимости HTTP-слоя
type Services struct {
	Orders    *service.OrderService
	Stock     *service.StockService
	Tracking  *service.TrackingService
	Chat      *service.ChatService
	Directory *service.DirectoryService
	// Realtime обработчик апгрейда WebSocket
	Realtime http.Handler
}

type Server struct {
	engine *gin.Engine
	svc    Services
	log    *slog.Logger
}

func NewServer(svc Services, log *slog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	s := &Server{engine: r, svc: svc, log: log}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/healthz", s.healthz)
	if s.svc.Realtime != nil {
		s.engine.GET("/ws", gin.WrapH(s.svc.Realtime))
	}

	v1 := s.engine.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		orders.POST("", s.placeOrder)
		orders.GET("", s.listOrders)
		orders.GET("/pending", s.listPending)
		orders.GET("/:id", s.getOrder)
		orders.PUT("/:id/validate", s.validateOrder)
		orders.PUT("/:id/status", s.updateStatus)
		orders.PUT("/:id/cancel", s.cancelOrder)
		orders.POST("/:id/invoice", s.generateInvoice)
		orders.GET("/:id/invoice", s.getInvoice)
		orders.PUT("/:id/invoice/confirm", s.confirmInvoice)
		orders.GET("/:id/tracking", s.getTracking)

		v1.GET("/deliveries/active", s.listActiveDeliveries)

		products := v1.Group("/products")
		products.GET("", s.listProducts)
		products.POST("", s.addStock)

		drivers := v1.Group("/drivers")
		drivers.POST("", s.registerDriver)
		drivers.GET("/positions", s.listDriverPositions)
		drivers.POST("/:id/position", s.reportPosition)
		drivers.DELETE("/:id", s.deleteDriver)

		customers := v1.Group("/customers")
		customers.POST("", s.registerCustomer)
		customers.DELETE("/:id", s.deleteCustomer)

		messages := v1.Group("/messages")
		messages.POST("", s.sendMessage)
		messages.GET("/:customer", s.chatHistory)
	}
}

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	kind := domain.KindOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = "internal server error"
	}
	c.JSON(status, errorResponse{Error: kind, Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: domain.KindValidation, Message: msg})
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type placeOrderReq struct {
	CustomerID  string `json:"customer_id"`
	ProductType string `json:"product_type"`
	Quantity    int64  `json:"quantity"`
}

type placeOrderResp struct {
	Order      *domain.Order `json:"order"`
	TotalPrice int64         `json:"total_price"`
}

// @Summary Place order
// @Tags orders
// @Accept json
// @Produce json
// @Param input body placeOrderReq true "Order"
// @Success 201 {object} placeOrderResp
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders [post]
func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	o, err := s.svc.Orders.PlaceOrder(c, service.PlaceOrderInput{
		CustomerID:  req.CustomerID,
		ProductType: req.ProductType,
		Quantity:    req.Quantity,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, placeOrderResp{Order: o, TotalPrice: o.TotalPrice})
}

// @Summary List orders
// @Tags orders
// @Produce json
// @Param status query string false "Status, comma separated"
// @Param customer query string false "Customer email"
// @Param driver query string false "Driver email"
// @Success 200 {array} domain.Order
// @Failure 400 {object} errorResponse
// @Router /orders [get]
func (s *Server) listOrders(c *gin.Context) {
	f := repository.OrderFilter{
		CustomerID: c.Query("customer"),
		DriverID:   c.Query("driver"),
	}
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, ok := domain.ParseStatus(part)
			if !ok {
				badRequest(c, "unknown status "+part)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	list, err := s.svc.Orders.ListOrders(c, f)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary List pending orders
// @Tags orders
// @Produce json
// @Success 200 {array} domain.Order
// @Router /orders/pending [get]
func (s *Server) listPending(c *gin.Context) {
	list, err := s.svc.Orders.ListPending(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	o, err := s.svc.Orders.GetOrder(c, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type validateOrderReq struct {
	DriverID string `json:"driver_id"`
}

// @Summary Validate order, decrement stock and assign a driver
// @Tags orders
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body validateOrderReq false "Driver"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders/{id}/validate [put]
func (s *Server) validateOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	var req validateOrderReq
	// тело необязательно
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid json")
		return
	}
	o, err := s.svc.Orders.ValidateOrder(c, id, req.DriverID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type updateStatusReq struct {
	NewStatus     string `json:"new_status"`
	RequesterRole string `json:"requester_role"`
	RequesterID   string `json:"requester_id"`
}

// @Summary Driver status update
// @Tags orders
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body updateStatusReq true "New status"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders/{id}/status [put]
func (s *Server) updateStatus(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	o, err := s.svc.Orders.UpdateStatus(c, service.UpdateStatusInput{
		OrderID:       id,
		NewStatus:     domain.OrderStatus(req.NewStatus),
		RequesterRole: req.RequesterRole,
		RequesterID:   req.RequesterID,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Cancel order
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders/{id}/cancel [put]
func (s *Server) cancelOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	o, err := s.svc.Orders.CancelOrder(c, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type invoiceResp struct {
	Invoice *domain.Invoice `json:"invoice"`
}

// @Summary Generate invoice, order goes to preparation
// @Tags invoices
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} invoiceResp
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders/{id}/invoice [post]
func (s *Server) generateInvoice(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	inv, err := s.svc.Orders.GenerateInvoice(c, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoiceResp{Invoice: inv})
}

// @Summary Get invoice
// @Tags invoices
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} invoiceResp
// @Failure 404 {object} errorResponse
// @Router /orders/{id}/invoice [get]
func (s *Server) getInvoice(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	inv, err := s.svc.Orders.GetInvoice(c, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoiceResp{Invoice: inv})
}

// @Summary Confirm invoice
// @Tags invoices
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /orders/{id}/invoice/confirm [put]
func (s *Server) confirmInvoice(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	o, err := s.svc.Orders.ConfirmInvoice(c, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Delivery tracking snapshot
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} domain.Tracking
// @Failure 404 {object} errorResponse
// @Router /orders/{id}/tracking [get]
func (s *Server) getTracking(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return
	}
	t, err := s.svc.Orders.GetTracking(c, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// @Summary Active deliveries
// @Tags orders
// @Produce json
// @Success 200 {array} domain.ActiveDelivery
// @Router /deliveries/active [get]
func (s *Server) listActiveDeliveries(c *gin.Context) {
	list, err := s.svc.Orders.ListActiveDeliveries(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
