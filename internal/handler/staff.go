package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/export"
	"github.com/templedesk/api/internal/middleware"
)

// StaffStore defines the database methods needed by staff handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type StaffStore interface {
	GetStaff(ctx context.Context, id uuid.UUID) (database.Staff, error)
	ListStaff(ctx context.Context, arg database.ListStaffParams) ([]database.Staff, error)
	CreateStaff(ctx context.Context, arg database.CreateStaffParams) (database.Staff, error)
	UpdateStaff(ctx context.Context, arg database.UpdateStaffParams) (database.Staff, error)
	UpdateStaffPassword(ctx context.Context, arg database.UpdateStaffPasswordParams) error
	ActivateStaff(ctx context.Context, id uuid.UUID) (database.Staff, error)
	TerminateStaff(ctx context.Context, arg database.TerminateStaffParams) (database.Staff, error)
}

// exportRowLimit bounds a single xlsx export.
const exportRowLimit = 10000

// StaffHandler handles staff administration endpoints.
type StaffHandler struct {
	store  StaffStore
	logger *zap.Logger
}

// NewStaffHandler creates a new StaffHandler.
func NewStaffHandler(store StaffStore, logger *zap.Logger) *StaffHandler {
	return &StaffHandler{store: store, logger: logger}
}

// RegisterRoutes registers staff endpoints. Reads are open to any
// authenticated staff; mutations and the export require ADMIN.
// Expected to be mounted at /staff.
func (h *StaffHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(enum.StaffRoleAdmin))
		r.Get("/export", h.Export)
		r.Post("/", h.Create)
		r.Put("/{id}", h.Update)
		r.Post("/{id}/reset-password-manual", h.ResetPassword)
		r.Post("/{id}/activate", h.Activate)
		r.Post("/{id}/terminate", h.Terminate)
	})
}

// --- Request / Response types ---

type createStaffRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"required"`
	Phone    string `json:"phone"`
	Role     string `json:"role" validate:"required,oneof=ADMIN MANAGER STAFF"`
	JoinDate string `json:"join_date" validate:"omitempty,datetime=2006-01-02"`
}

type updateStaffRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
	Phone    string `json:"phone"`
	Role     string `json:"role" validate:"required,oneof=ADMIN MANAGER STAFF"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

type terminateStaffRequest struct {
	Reason          string `json:"reason" validate:"required"`
	TerminationDate string `json:"termination_date" validate:"required,datetime=2006-01-02"`
}

type staffResponse struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	FullName          string    `json:"full_name"`
	Phone             *string   `json:"phone"`
	Role              string    `json:"role"`
	Status            string    `json:"status"`
	JoinDate          string    `json:"join_date"`
	TerminationDate   *string   `json:"termination_date"`
	TerminationReason *string   `json:"termination_reason"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toStaffResponse(s database.Staff) staffResponse {
	return staffResponse{
		ID:                s.ID,
		Email:             s.Email,
		FullName:          s.FullName,
		Phone:             textPtr(s.Phone),
		Role:              s.Role,
		Status:            s.Status,
		JoinDate:          s.JoinDate.Format(dateLayout),
		TerminationDate:   datePtr(s.TerminationDate),
		TerminationReason: textPtr(s.TerminationReason),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

type staffListResponse struct {
	Staff  []staffResponse `json:"staff"`
	Limit  int32           `json:"limit"`
	Offset int32           `json:"offset"`
}

// --- Handlers ---

func (h *StaffHandler) listParams(r *http.Request) (database.ListStaffParams, error) {
	q := r.URL.Query()
	params := database.ListStaffParams{
		Status: database.NullText(q.Get("status")),
		Role:   database.NullText(q.Get("role")),
		Search: database.NullText(strings.TrimSpace(q.Get("search"))),
	}
	if params.Status.Valid && !isStaffStatus(params.Status.String) {
		return params, errors.New("invalid status")
	}
	if params.Role.Valid && !isStaffRole(params.Role.String) {
		return params, errors.New("invalid role")
	}
	return params, nil
}

// List handles GET /staff.
func (h *StaffHandler) List(w http.ResponseWriter, r *http.Request) {
	params, err := h.listParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params.Limit, params.Offset = pagination(r)

	staff, err := h.store.ListStaff(r.Context(), params)
	if err != nil {
		h.logger.Error("list staff", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]staffResponse, len(staff))
	for i, s := range staff {
		resp[i] = toStaffResponse(s)
	}
	writeJSON(w, http.StatusOK, staffListResponse{Staff: resp, Limit: params.Limit, Offset: params.Offset})
}

// Export handles GET /staff/export. Filters match List.
func (h *StaffHandler) Export(w http.ResponseWriter, r *http.Request) {
	params, err := h.listParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params.Limit = exportRowLimit

	staff, err := h.store.ListStaff(r.Context(), params)
	if err != nil {
		h.logger.Error("export staff: list", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var buf bytes.Buffer
	if err := export.StaffList(&buf, staff); err != nil {
		h.logger.Error("export staff: render", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeXLSX(w, fmt.Sprintf("staff-%s.xlsx", time.Now().Format("20060102")), buf.Bytes())
}

// Get handles GET /staff/{id}.
func (h *StaffHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid staff ID")
		return
	}

	staff, err := h.store.GetStaff(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "get staff", "staff", err)
		return
	}
	writeJSON(w, http.StatusOK, toStaffResponse(staff))
}

// Create handles POST /staff.
func (h *StaffHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStaffRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	joinDate, err := parseDate(req.JoinDate, "join_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("create staff: hash password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	staff, err := h.store.CreateStaff(r.Context(), database.CreateStaffParams{
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:       strings.TrimSpace(req.FullName),
		Phone:          database.NullText(strings.TrimSpace(req.Phone)),
		Role:           req.Role,
		HashedPassword: string(hashed),
		JoinDate:       joinDate,
	})
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "email already exists")
			return
		}
		h.logger.Error("create staff", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toStaffResponse(staff))
}

// Update handles PUT /staff/{id}.
func (h *StaffHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid staff ID")
		return
	}

	var req updateStaffRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	staff, err := h.store.UpdateStaff(r.Context(), database.UpdateStaffParams{
		ID:       id,
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		FullName: strings.TrimSpace(req.FullName),
		Phone:    database.NullText(strings.TrimSpace(req.Phone)),
		Role:     req.Role,
	})
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "email already exists")
			return
		}
		writeStoreError(w, h.logger, "update staff", "staff", err)
		return
	}

	writeJSON(w, http.StatusOK, toStaffResponse(staff))
}

// ResetPassword handles POST /staff/{id}/reset-password-manual.
func (h *StaffHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid staff ID")
		return
	}

	var req resetPasswordRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if _, err := h.store.GetStaff(r.Context(), id); err != nil {
		writeStoreError(w, h.logger, "reset password: get staff", "staff", err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("reset password: hash", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.store.UpdateStaffPassword(r.Context(), database.UpdateStaffPasswordParams{
		ID:             id,
		HashedPassword: string(hashed),
	}); err != nil {
		h.logger.Error("reset password", zap.Error(err), zap.Stringer("staff_id", id))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeMessage(w, http.StatusOK, nil, "password updated")
}

// Activate handles POST /staff/{id}/activate. INACTIVE and TERMINATED staff
// return to ACTIVE with the termination fields cleared.
func (h *StaffHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid staff ID")
		return
	}

	current, err := h.store.GetStaff(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "activate staff: get", "staff", err)
		return
	}
	if current.Status == enum.StaffStatusActive {
		writeError(w, http.StatusConflict, "Failed to activate staff: staff is already active")
		return
	}

	staff, err := h.store.ActivateStaff(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "activate staff", "staff", err)
		return
	}
	writeJSON(w, http.StatusOK, toStaffResponse(staff))
}

// Terminate handles POST /staff/{id}/terminate.
func (h *StaffHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid staff ID")
		return
	}

	var req terminateStaffRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	date, err := time.Parse(dateLayout, req.TerminationDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid termination_date format, use YYYY-MM-DD")
		return
	}

	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil && claims.StaffID == id {
		writeError(w, http.StatusBadRequest, "you cannot terminate your own account")
		return
	}

	current, err := h.store.GetStaff(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, "terminate staff: get", "staff", err)
		return
	}
	if current.Status == enum.StaffStatusTerminated {
		writeError(w, http.StatusConflict, "Failed to terminate staff: staff is already terminated")
		return
	}
	if date.Before(current.JoinDate) {
		writeError(w, http.StatusBadRequest, "termination_date cannot be before join_date")
		return
	}

	staff, err := h.store.TerminateStaff(r.Context(), database.TerminateStaffParams{
		ID:                id,
		TerminationDate:   date,
		TerminationReason: strings.TrimSpace(req.Reason),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "staff not found")
			return
		}
		h.logger.Error("terminate staff", zap.Error(err), zap.Stringer("staff_id", id))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toStaffResponse(staff))
}

// --- Helpers ---

func isStaffRole(role string) bool {
	switch role {
	case enum.StaffRoleAdmin, enum.StaffRoleManager, enum.StaffRoleStaff:
		return true
	}
	return false
}

func isStaffStatus(status string) bool {
	switch status {
	case enum.StaffStatusActive, enum.StaffStatusInactive, enum.StaffStatusTerminated:
		return true
	}
	return false
}

func writeXLSX(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}
