package api

import (
	"net/http"

	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/auth"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// POSHandler passes point-of-sale requests through to the API. Pricing and
// totals are computed there.
type POSHandler struct {
	clients ClientFunc
	logger  zerolog.Logger
}

// NewPOSHandler creates a new POS handler.
func NewPOSHandler(clients ClientFunc, logger zerolog.Logger) *POSHandler {
	return &POSHandler{
		clients: clients,
		logger:  logger.With().Str("handler", "pos").Logger(),
	}
}

// Products returns the catalogue, active products only unless all=true.
func (h *POSHandler) Products(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	products, err := client.ListProducts(r.Context())
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to retrieve products")
		return
	}

	if r.URL.Query().Get("all") != "true" {
		active := products[:0]
		for _, p := range products {
			if p.IsActive {
				active = append(active, p)
			}
		}
		products = active
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products": products,
		"count":    len(products),
	})
}

// CreateOrder opens an order. The operator's branch is used when the order
// names none.
func (h *POSHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	client, id, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	var req apiclient.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "At least one item is required")
		return
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "Each item needs a product and a positive quantity")
			return
		}
	}
	if req.BranchID == "" {
		req.BranchID = id.BranchID
	}

	order, err := client.CreateOrder(r.Context(), req)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to create order")
		return
	}

	h.logOrder(id, order, "Order created")
	writeJSON(w, http.StatusCreated, order)
}

// Pay settles an order.
func (h *POSHandler) Pay(w http.ResponseWriter, r *http.Request) {
	client, id, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	var req apiclient.PaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PaymentMethod == "" {
		writeError(w, http.StatusBadRequest, "Payment method is required")
		return
	}

	order, err := client.PayOrder(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to pay order")
		return
	}

	h.logOrder(id, order, "Order paid")
	writeJSON(w, http.StatusOK, order)
}

func (h *POSHandler) logOrder(id *auth.Identity, order *apiclient.Order, msg string) {
	h.logger.Info().
		Str("order_id", order.OrderID).
		Str("order_number", order.OrderNumber).
		Float64("total", order.TotalAmount).
		Str("user_id", id.UserID).
		Msg(msg)
}
