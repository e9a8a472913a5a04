package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const getStaff = `-- name: GetStaff :one
SELECT * FROM staff WHERE id = $1
`

func (q *Queries) GetStaff(ctx context.Context, id uuid.UUID) (Staff, error) {
	return collectOne[Staff](q.db.Query(ctx, getStaff, id))
}

const getStaffByEmail = `-- name: GetStaffByEmail :one
SELECT * FROM staff WHERE lower(email) = lower($1)
`

func (q *Queries) GetStaffByEmail(ctx context.Context, email string) (Staff, error) {
	return collectOne[Staff](q.db.Query(ctx, getStaffByEmail, email))
}

const listStaff = `-- name: ListStaff :many
SELECT * FROM staff
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::text IS NULL OR role = $2)
  AND ($3::text IS NULL OR full_name ILIKE '%' || $3 || '%' OR email ILIKE '%' || $3 || '%')
ORDER BY full_name
LIMIT $4 OFFSET $5
`

type ListStaffParams struct {
	Status pgtype.Text
	Role   pgtype.Text
	Search pgtype.Text
	Limit  int32
	Offset int32
}

func (q *Queries) ListStaff(ctx context.Context, arg ListStaffParams) ([]Staff, error) {
	return collectMany[Staff](q.db.Query(ctx, listStaff, arg.Status, arg.Role, arg.Search, arg.Limit, arg.Offset))
}

const createStaff = `-- name: CreateStaff :one
INSERT INTO staff (email, full_name, phone, role, hashed_password, join_date)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING *
`

type CreateStaffParams struct {
	Email          string
	FullName       string
	Phone          pgtype.Text
	Role           string
	HashedPassword string
	JoinDate       time.Time
}

func (q *Queries) CreateStaff(ctx context.Context, arg CreateStaffParams) (Staff, error) {
	return collectOne[Staff](q.db.Query(ctx, createStaff,
		arg.Email, arg.FullName, arg.Phone, arg.Role, arg.HashedPassword, arg.JoinDate))
}

const updateStaff = `-- name: UpdateStaff :one
UPDATE staff SET email = $2, full_name = $3, phone = $4, role = $5, updated_at = now()
WHERE id = $1
RETURNING *
`

type UpdateStaffParams struct {
	ID       uuid.UUID
	Email    string
	FullName string
	Phone    pgtype.Text
	Role     string
}

func (q *Queries) UpdateStaff(ctx context.Context, arg UpdateStaffParams) (Staff, error) {
	return collectOne[Staff](q.db.Query(ctx, updateStaff, arg.ID, arg.Email, arg.FullName, arg.Phone, arg.Role))
}

const updateStaffPassword = `-- name: UpdateStaffPassword :exec
UPDATE staff SET hashed_password = $2, updated_at = now() WHERE id = $1
`

type UpdateStaffPasswordParams struct {
	ID             uuid.UUID
	HashedPassword string
}

func (q *Queries) UpdateStaffPassword(ctx context.Context, arg UpdateStaffPasswordParams) error {
	_, err := q.db.Exec(ctx, updateStaffPassword, arg.ID, arg.HashedPassword)
	return err
}

const activateStaff = `-- name: ActivateStaff :one
UPDATE staff
SET status = 'ACTIVE', termination_date = NULL, termination_reason = NULL, updated_at = now()
WHERE id = $1
RETURNING *
`

func (q *Queries) ActivateStaff(ctx context.Context, id uuid.UUID) (Staff, error) {
	return collectOne[Staff](q.db.Query(ctx, activateStaff, id))
}

const terminateStaff = `-- name: TerminateStaff :one
UPDATE staff
SET status = 'TERMINATED', termination_date = $2, termination_reason = $3, updated_at = now()
WHERE id = $1
RETURNING *
`

type TerminateStaffParams struct {
	ID                uuid.UUID
	TerminationDate   time.Time
	TerminationReason string
}

func (q *Queries) TerminateStaff(ctx context.Context, arg TerminateStaffParams) (Staff, error) {
	return collectOne[Staff](q.db.Query(ctx, terminateStaff, arg.ID, arg.TerminationDate, arg.TerminationReason))
}

const upsertAdminStaff = `-- name: UpsertAdminStaff :one
INSERT INTO staff (email, full_name, role, hashed_password)
VALUES ($1, $2, 'ADMIN', $3)
ON CONFLICT (email) DO UPDATE SET full_name = EXCLUDED.full_name, updated_at = now()
RETURNING *
`

type UpsertAdminStaffParams struct {
	Email          string
	FullName       string
	HashedPassword string
}

func (q *Queries) UpsertAdminStaff(ctx context.Context, arg UpsertAdminStaffParams) (Staff, error) {
	return collectOne[Staff](q.db.Query(ctx, upsertAdminStaff, arg.Email, arg.FullName, arg.HashedPassword))
}
