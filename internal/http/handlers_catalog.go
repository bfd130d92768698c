package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cafeorders/internal/domain"
	"cafeorders/internal/service"
)

// @Summary List stock
// @Tags products
// @Produce json
// @Success 200 {array} domain.Product
// @Router /products [get]
func (s *Server) listProducts(c *gin.Context) {
	list, err := s.svc.Stock.List(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type addStockReq struct {
	Type     string `json:"type"`
	Quantity int64  `json:"quantity"`
}

// @Summary Add stock, creating the product type if absent
// @Tags products
// @Accept json
// @Produce json
// @Param input body addStockReq true "Stock"
// @Success 201 {object} domain.Product
// @Failure 400 {object} errorResponse
// @Router /products [post]
func (s *Server) addStock(c *gin.Context) {
	var req addStockReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	p, err := s.svc.Stock.AddStock(c, req.Type, req.Quantity)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

type registerDriverReq struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Code    string `json:"code"`
}

// @Summary Register driver
// @Tags drivers
// @Accept json
// @Produce json
// @Param input body registerDriverReq true "Driver"
// @Success 201 {object} domain.Driver
// @Failure 400 {object} errorResponse
// @Router /drivers [post]
func (s *Server) registerDriver(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	d, err := s.svc.Directory.RegisterDriver(c, domain.Driver{Email: req.Email, Name: req.Name, Contact: req.Contact, Code: req.Code})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// @Summary Delete driver, orders keep an empty driver reference
// @Tags drivers
// @Param id path string true "Driver email"
// @Success 204
// @Failure 404 {object} errorResponse
// @Router /drivers/{id} [delete]
func (s *Server) deleteDriver(c *gin.Context) {
	if err := s.svc.Directory.DeleteDriver(c, c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type reportPositionReq struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	OrderID   *int64   `json:"order_id"`
}

// @Summary Report driver position
// @Tags drivers
// @Accept json
// @Produce json
// @Param id path string true "Driver email"
// @Param input body reportPositionReq true "Position"
// @Success 200 {object} domain.DriverPosition
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /drivers/{id}/position [post]
func (s *Server) reportPosition(c *gin.Context) {
	var req reportPositionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		badRequest(c, "latitude and longitude are required")
		return
	}
	pos, err := s.svc.Tracking.ReportPosition(c, service.PositionReport{
		DriverID:  c.Param("id"),
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
		OrderID:   req.OrderID,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

// @Summary Last known positions of all drivers
// @Tags drivers
// @Produce json
// @Success 200 {array} domain.DriverPosition
// @Router /drivers/positions [get]
func (s *Server) listDriverPositions(c *gin.Context) {
	list, err := s.svc.Tracking.ListDriverPositions(c)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type registerCustomerReq struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Address string `json:"address"`
}

// @Summary Register customer
// @Tags customers
// @Accept json
// @Produce json
// @Param input body registerCustomerReq true "Customer"
// @Success 201 {object} domain.Customer
// @Failure 400 {object} errorResponse
// @Router /customers [post]
func (s *Server) registerCustomer(c *gin.Context) {
	var req registerCustomerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	cu, err := s.svc.Directory.RegisterCustomer(c, domain.Customer{Email: req.Email, Name: req.Name, Contact: req.Contact, Address: req.Address})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cu)
}

// @Summary Delete customer, orders are kept and messages removed
// @Tags customers
// @Param id path string true "Customer email"
// @Success 204
// @Failure 404 {object} errorResponse
// @Router /customers/{id} [delete]
func (s *Server) deleteCustomer(c *gin.Context) {
	if err := s.svc.Directory.DeleteCustomer(c, c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendMessageReq struct {
	CustomerID  string `json:"customer_id"`
	Text        string `json:"text"`
	SentByAdmin bool   `json:"sent_by_admin"`
}

// @Summary Send chat message
// @Tags messages
// @Accept json
// @Produce json
// @Param input body sendMessageReq true "Message"
// @Success 201 {object} domain.ChatMessage
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /messages [post]
func (s *Server) sendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	m, err := s.svc.Chat.Send(c, req.CustomerID, req.Text, req.SentByAdmin)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

// @Summary Chat history of a customer, oldest first
// @Tags messages
// @Produce json
// @Param customer path string true "Customer email"
// @Success 200 {array} domain.ChatMessage
// @Router /messages/{customer} [get]
func (s *Server) chatHistory(c *gin.Context) {
	list, err := s.svc.Chat.History(c, c.Param("customer"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
