package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/templedesk/api/internal/catalog"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
)

// CatalogStore defines the database methods needed by the line pickers.
// Satisfied by *database.Queries; narrow interface for testability.
type CatalogStore interface {
	ListActiveProducts(ctx context.Context) ([]database.Product, error)
	ListActiveSalesItems(ctx context.Context) ([]database.SalesItem, error)
	ListPaymentModes(ctx context.Context) ([]database.PaymentMode, error)
}

// CatalogHandler serves read-only reference data.
type CatalogHandler struct {
	store  CatalogStore
	logger *zap.Logger
}

func NewCatalogHandler(store CatalogStore, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{store: store, logger: logger}
}

// RegisterRoutes is expected to be mounted at /catalog.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/products", h.Products)
	r.Get("/sales-items", h.SalesItems)
	r.Get("/search", h.Search)
}

// RegisterSalesRoutes is expected to be mounted at /sales.
func (h *CatalogHandler) RegisterSalesRoutes(r chi.Router) {
	r.Get("/payment-modes", h.PaymentModes)
}

type catalogItemResponse struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Uom       string    `json:"uom"`
	UnitPrice string    `json:"unit_price"`
}

type catalogSearchResponse struct {
	Status     string                `json:"status"`
	Candidates []catalogItemResponse `json:"candidates"`
}

type paymentModeResponse struct {
	ID                uuid.UUID `json:"id"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	IsPaymentGateway  bool      `json:"is_payment_gateway"`
	RequiresReference bool      `json:"requires_reference"`
}

func (h *CatalogHandler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListActiveProducts(r.Context())
	if err != nil {
		h.logger.Error("list products", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]catalogItemResponse, len(products))
	for i, p := range products {
		resp[i] = catalogItemResponse{ID: p.ID, Kind: enum.PackageItemProduct, Code: p.Sku, Name: p.Name, Uom: p.Uom, UnitPrice: money(p.UnitPrice)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandler) SalesItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListActiveSalesItems(r.Context())
	if err != nil {
		h.logger.Error("list sales items", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]catalogItemResponse, len(items))
	for i, s := range items {
		resp[i] = catalogItemResponse{ID: s.ID, Kind: enum.PackageItemSalesItem, Code: s.Code, Name: s.Name, Uom: s.Uom, UnitPrice: money(s.UnitPrice)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandler) PaymentModes(w http.ResponseWriter, r *http.Request) {
	modes, err := h.store.ListPaymentModes(r.Context())
	if err != nil {
		h.logger.Error("list payment modes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]paymentModeResponse, len(modes))
	for i, m := range modes {
		resp[i] = paymentModeResponse{
			ID:                m.ID,
			Code:              m.Code,
			Name:              m.Name,
			IsPaymentGateway:  m.IsPaymentGateway,
			RequiresReference: m.RequiresReference,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Search handles GET /catalog/search?q=&limit=, ranking products and sales
// items together. An exact code or a single best match answers MATCHED.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 50 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = n
	}

	products, err := h.store.ListActiveProducts(r.Context())
	if err != nil {
		h.logger.Error("catalog search: products", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	items, err := h.store.ListActiveSalesItems(r.Context())
	if err != nil {
		h.logger.Error("catalog search: sales items", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	entries := make([]catalog.Entry, 0, len(products)+len(items))
	for _, p := range products {
		entries = append(entries, catalog.Entry{ID: p.ID, Kind: enum.PackageItemProduct, Code: p.Sku, Name: p.Name, Uom: p.Uom, UnitPrice: p.UnitPrice})
	}
	for _, s := range items {
		entries = append(entries, catalog.Entry{ID: s.ID, Kind: enum.PackageItemSalesItem, Code: s.Code, Name: s.Name, Uom: s.Uom, UnitPrice: s.UnitPrice})
	}

	res := catalog.New(entries).Search(q, limit)
	resp := catalogSearchResponse{Status: res.Status.String(), Candidates: make([]catalogItemResponse, len(res.Candidates))}
	for i, e := range res.Candidates {
		resp.Candidates[i] = catalogItemResponse{ID: e.ID, Kind: e.Kind, Code: e.Code, Name: e.Name, Uom: e.Uom, UnitPrice: money(e.UnitPrice)}
	}
	writeJSON(w, http.StatusOK, resp)
}
