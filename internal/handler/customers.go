package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/templedesk/api/internal/database"
)

// CustomerStore defines the database methods needed by customer handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type CustomerStore interface {
	ListCustomers(ctx context.Context, arg database.ListCustomersParams) ([]database.Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (database.Customer, error)
	CreateCustomer(ctx context.Context, arg database.CreateCustomerParams) (database.Customer, error)
	UpdateCustomer(ctx context.Context, arg database.UpdateCustomerParams) (database.Customer, error)
}

// CustomerHandler handles devotee (customer) record endpoints.
type CustomerHandler struct {
	store  CustomerStore
	logger *zap.Logger
}

// NewCustomerHandler creates a new CustomerHandler.
func NewCustomerHandler(store CustomerStore, logger *zap.Logger) *CustomerHandler {
	return &CustomerHandler{store: store, logger: logger}
}

// RegisterRoutes registers customer endpoints on the given Chi router.
// Expected to be mounted at /customers.
func (h *CustomerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
}

// --- Request / Response types ---

type customerRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

type customerResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email"`
	Phone     *string   `json:"phone"`
	Address   *string   `json:"address"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toCustomerResponse(c database.Customer) customerResponse {
	return customerResponse{
		ID:        c.ID,
		Name:      c.Name,
		Email:     textPtr(c.Email),
		Phone:     textPtr(c.Phone),
		Address:   textPtr(c.Address),
		Notes:     textPtr(c.Notes),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type customerListResponse struct {
	Customers []customerResponse `json:"customers"`
	Limit     int32              `json:"limit"`
	Offset    int32              `json:"offset"`
}

// --- Handlers ---

// List handles GET /customers with optional ?search= on name, phone and email.
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	customers, err := h.store.ListCustomers(r.Context(), database.ListCustomersParams{
		Search: database.NullText(strings.TrimSpace(r.URL.Query().Get("search"))),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error("list customers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]customerResponse, len(customers))
	for i, c := range customers {
		resp[i] = toCustomerResponse(c)
	}
	writeJSON(w, http.StatusOK, customerListResponse{Customers: resp, Limit: limit, Offset: offset})
}

// Get handles GET /customers/{id}.
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer ID")
		return
	}

	c, err := h.store.GetCustomer(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "get customer", "customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(c))
}

// Create handles POST /customers.
func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c, err := h.store.CreateCustomer(r.Context(), database.CreateCustomerParams{
		Name:    strings.TrimSpace(req.Name),
		Email:   database.NullText(strings.TrimSpace(req.Email)),
		Phone:   database.NullText(strings.TrimSpace(req.Phone)),
		Address: database.NullText(strings.TrimSpace(req.Address)),
		Notes:   database.NullText(strings.TrimSpace(req.Notes)),
	})
	if err != nil {
		h.logger.Error("create customer", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerResponse(c))
}

// Update handles PUT /customers/{id}.
func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer ID")
		return
	}

	var req customerRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c, err := h.store.UpdateCustomer(r.Context(), database.UpdateCustomerParams{
		ID:      id,
		Name:    strings.TrimSpace(req.Name),
		Email:   database.NullText(strings.TrimSpace(req.Email)),
		Phone:   database.NullText(strings.TrimSpace(req.Phone)),
		Address: database.NullText(strings.TrimSpace(req.Address)),
		Notes:   database.NullText(strings.TrimSpace(req.Notes)),
	})
	if err != nil {
		writeStoreError(w, h.logger, "update customer", "customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerResponse(c))
}
