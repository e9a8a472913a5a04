package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/service"
)

// PackageStore defines the database methods needed by package handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type PackageStore interface {
	GetPackage(ctx context.Context, id uuid.UUID) (database.Package, error)
	ListPackages(ctx context.Context, arg database.ListPackagesParams) ([]database.Package, error)
	CreatePackage(ctx context.Context, arg database.CreatePackageParams) (database.Package, error)
	UpdatePackage(ctx context.Context, arg database.UpdatePackageParams) (database.Package, error)
	DeletePackage(ctx context.Context, id uuid.UUID) (int64, error)
	ListPackageItems(ctx context.Context, packageID uuid.UUID) ([]database.PackageItem, error)
	CreatePackageItem(ctx context.Context, arg database.CreatePackageItemParams) (database.PackageItem, error)
	DeletePackageItems(ctx context.Context, packageID uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	GetSalesItem(ctx context.Context, id uuid.UUID) (database.SalesItem, error)
}

// NewPackageStore creates a PackageStore from a DBTX (pool or tx).
type NewPackageStore func(db database.DBTX) PackageStore

// PackageHandler handles sales package endpoints.
type PackageHandler struct {
	store    PackageStore
	pool     service.TxBeginner
	newStore NewPackageStore
	logger   *zap.Logger
}

// NewPackageHandler creates a new PackageHandler.
func NewPackageHandler(store PackageStore, pool service.TxBeginner, newStore NewPackageStore, logger *zap.Logger) *PackageHandler {
	return &PackageHandler{store: store, pool: pool, newStore: newStore, logger: logger}
}

// RegisterRoutes registers package endpoints.
// Expected to be mounted at /sales/packages.
func (h *PackageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type packageRequest struct {
	Name        string               `json:"name" validate:"required"`
	Description string               `json:"description"`
	Discount    decimal.Decimal      `json:"discount" validate:"gte=0"`
	TaxRate     decimal.Decimal      `json:"tax_rate" validate:"gte=0,lte=100"`
	IsActive    *bool                `json:"is_active"`
	Items       []packageItemRequest `json:"items" validate:"required,min=1,dive"`
}

type packageItemRequest struct {
	ItemType  string          `json:"item_type" validate:"required,oneof=PRODUCT SALES_ITEM"`
	RefID     string          `json:"ref_id" validate:"required,uuid"`
	Quantity  int32           `json:"quantity" validate:"gt=0"`
	Uom       string          `json:"uom" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

type packageResponse struct {
	ID          uuid.UUID             `json:"id"`
	Name        string                `json:"name"`
	Description *string               `json:"description"`
	TotalAmount string                `json:"total_amount"`
	Discount    string                `json:"discount"`
	TaxRate     string                `json:"tax_rate"`
	GrandTotal  string                `json:"grand_total"`
	IsActive    bool                  `json:"is_active"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	Items       []packageItemResponse `json:"items,omitempty"`
}

type packageItemResponse struct {
	ID        uuid.UUID `json:"id"`
	Position  int32     `json:"position"`
	ItemType  string    `json:"item_type"`
	RefID     uuid.UUID `json:"ref_id"`
	Quantity  int32     `json:"quantity"`
	Uom       string    `json:"uom"`
	UnitPrice string    `json:"unit_price"`
	LineTotal string    `json:"line_total"`
}

type packageListResponse struct {
	Packages []packageResponse `json:"packages"`
	Limit    int32             `json:"limit"`
	Offset   int32             `json:"offset"`
}

var hundred = decimal.NewFromInt(100)

// PackageGrandTotal is (total - discount) * (1 + tax_rate/100), rounded to
// two places.
func PackageGrandTotal(total, discount, taxRate decimal.Decimal) decimal.Decimal {
	net := total.Sub(discount)
	return net.Add(net.Mul(taxRate).Div(hundred)).Round(2)
}

func toPackageResponse(p database.Package, items []database.PackageItem) packageResponse {
	resp := packageResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: textPtr(p.Description),
		TotalAmount: money(p.TotalAmount),
		Discount:    money(p.Discount),
		TaxRate:     money(p.TaxRate),
		GrandTotal:  money(PackageGrandTotal(p.TotalAmount, p.Discount, p.TaxRate)),
		IsActive:    p.IsActive,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if items != nil {
		resp.Items = make([]packageItemResponse, len(items))
		for i, it := range items {
			ref := it.ProductID
			if it.ItemType == enum.PackageItemSalesItem {
				ref = it.SalesItemID
			}
			resp.Items[i] = packageItemResponse{
				ID:        it.ID,
				Position:  it.Position,
				ItemType:  it.ItemType,
				RefID:     uuid.UUID(ref.Bytes),
				Quantity:  it.Quantity,
				Uom:       it.Uom,
				UnitPrice: money(it.UnitPrice),
				LineTotal: money(it.UnitPrice.Mul(decimal.NewFromInt32(it.Quantity))),
			}
		}
	}
	return resp
}

// --- Handlers ---

// List handles GET /sales/packages with optional ?active=true|false and ?search=.
func (h *PackageHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	params := database.ListPackagesParams{
		Search: database.NullText(strings.TrimSpace(r.URL.Query().Get("search"))),
		Limit:  limit,
		Offset: offset,
	}
	if s := r.URL.Query().Get("active"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active filter")
			return
		}
		params.IsActive = pgtype.Bool{Bool: v, Valid: true}
	}

	pkgs, err := h.store.ListPackages(r.Context(), params)
	if err != nil {
		h.logger.Error("list packages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]packageResponse, len(pkgs))
	for i, p := range pkgs {
		resp[i] = toPackageResponse(p, nil)
	}
	writeJSON(w, http.StatusOK, packageListResponse{Packages: resp, Limit: limit, Offset: offset})
}

// Get handles GET /sales/packages/{id}.
func (h *PackageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid package ID")
		return
	}

	pkg, err := h.store.GetPackage(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "get package", "package", err)
		return
	}
	items, err := h.store.ListPackageItems(r.Context(), id)
	if err != nil {
		h.logger.Error("list package items", zap.Error(err), zap.Stringer("package_id", id))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toPackageResponse(pkg, items))
}

// Create handles POST /sales/packages.
func (h *PackageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	total, err := validatePackageTotals(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.save(w, r, req, total, func(store PackageStore) (database.Package, error) {
		return store.CreatePackage(r.Context(), database.CreatePackageParams{
			Name:        strings.TrimSpace(req.Name),
			Description: database.NullText(strings.TrimSpace(req.Description)),
			TotalAmount: total,
			Discount:    req.Discount.Round(2),
			TaxRate:     req.TaxRate.Round(2),
			IsActive:    req.IsActive == nil || *req.IsActive,
		})
	}, http.StatusCreated)
}

// Update handles PUT /sales/packages/{id}. Items are replaced wholesale.
func (h *PackageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid package ID")
		return
	}

	var req packageRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	total, err := validatePackageTotals(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.save(w, r, req, total, func(store PackageStore) (database.Package, error) {
		pkg, err := store.UpdatePackage(r.Context(), database.UpdatePackageParams{
			ID:          id,
			Name:        strings.TrimSpace(req.Name),
			Description: database.NullText(strings.TrimSpace(req.Description)),
			TotalAmount: total,
			Discount:    req.Discount.Round(2),
			TaxRate:     req.TaxRate.Round(2),
			IsActive:    req.IsActive == nil || *req.IsActive,
		})
		if err != nil {
			return pkg, err
		}
		return pkg, store.DeletePackageItems(r.Context(), id)
	}, http.StatusOK)
}

// errCatalogRef marks a line whose product or sales item does not exist.
var errCatalogRef = errors.New("catalog reference not found")

// save writes the package header via upsert and then its items, in one
// transaction.
func (h *PackageHandler) save(w http.ResponseWriter, r *http.Request, req packageRequest, total decimal.Decimal,
	upsert func(PackageStore) (database.Package, error), status int) {
	ctx := r.Context()

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		h.logger.Error("save package: begin tx", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	txStore := h.newStore(tx)

	pkg, err := upsert(txStore)
	if err != nil {
		writeStoreError(w, h.logger, "save package", "package", err)
		return
	}

	items := make([]database.PackageItem, 0, len(req.Items))
	for i, it := range req.Items {
		params, err := packageItemParams(ctx, txStore, pkg.ID, int32(i+1), it)
		if err != nil {
			if errors.Is(err, errCatalogRef) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("items[%d]: %s not found", i, strings.ToLower(strings.ReplaceAll(it.ItemType, "_", " "))))
				return
			}
			h.logger.Error("save package: resolve item", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		item, err := txStore.CreatePackageItem(ctx, params)
		if err != nil {
			h.logger.Error("save package: create item", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		items = append(items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("save package: commit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, status, toPackageResponse(pkg, items))
}

func packageItemParams(ctx context.Context, store PackageStore, packageID uuid.UUID, position int32, it packageItemRequest) (database.CreatePackageItemParams, error) {
	ref := uuid.MustParse(it.RefID)
	params := database.CreatePackageItemParams{
		PackageID: packageID,
		Position:  position,
		ItemType:  it.ItemType,
		Quantity:  it.Quantity,
		Uom:       strings.TrimSpace(it.Uom),
		UnitPrice: it.UnitPrice.Round(2),
	}

	var err error
	if it.ItemType == enum.PackageItemProduct {
		_, err = store.GetProduct(ctx, ref)
		params.ProductID = database.NullUUID(&ref)
	} else {
		_, err = store.GetSalesItem(ctx, ref)
		params.SalesItemID = database.NullUUID(&ref)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return params, errCatalogRef
	}
	return params, err
}

// validatePackageTotals computes total_amount and checks discount against it.
func validatePackageTotals(req packageRequest) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, it := range req.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt32(it.Quantity)))
	}
	total = total.Round(2)
	if req.Discount.GreaterThan(total) {
		return total, errors.New("discount cannot exceed total_amount")
	}
	return total, nil
}

// Delete handles DELETE /sales/packages/{id}.
func (h *PackageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid package ID")
		return
	}

	n, err := h.store.DeletePackage(r.Context(), id)
	if err != nil {
		h.logger.Error("delete package", zap.Error(err), zap.Stringer("package_id", id))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if n == 0 {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
