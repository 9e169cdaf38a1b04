package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, user_id, user_name, phone, address, items, total::text, payment_method,
	receipt_image, admin_note, status, created_at, updated_at`

// DBTX is the subset of pgx used by PGStore. *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists orders in Postgres.
type PGStore struct {
	db DBTX
}

// NewPGStore wraps a pgx pool or transaction.
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{db: db}
}

// Create inserts a pending order.
func (s *PGStore) Create(ctx context.Context, in NewOrder) (Order, error) {
	items, err := json.Marshal(cloneItems(in.Items))
	if err != nil {
		return Order{}, fmt.Errorf("encode items: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, user_name, phone, address, items, total, payment_method, receipt_image, status)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::numeric, $8, $9, $10)
		RETURNING `+orderColumns,
		uuid.NewString(), in.UserID, in.UserName, in.Phone, in.Address, items, in.Total.StringFixed(2),
		in.PaymentMethod, in.ReceiptImage, string(StatusPending),
	)
	o, err := scanOrder(row)
	if err != nil {
		return Order{}, translatePGError(err)
	}
	return o, nil
}

// Get loads an order by id.
func (s *PGStore) Get(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

// ListByUser returns a user's orders, newest first.
func (s *PGStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Transition performs a compare-and-set status update in a single statement.
func (s *PGStore) Transition(ctx context.Context, req TransitionRequest) (Order, error) {
	if !req.To.Valid() {
		return Order{}, ErrInvalidStatus
	}
	from := make([]string, 0, len(req.From))
	for _, st := range req.From {
		from = append(from, string(st))
	}
	row := s.db.QueryRow(ctx, `
		UPDATE orders
		SET status = $2,
		    admin_note = COALESCE($3, admin_note),
		    updated_at = now()
		WHERE id = $1
		  AND (cardinality($4::text[]) = 0 OR status = ANY($4::text[]))
		RETURNING `+orderColumns, req.ID, string(req.To), req.AdminNote, from)
	o, err := scanOrder(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, translatePGError(err)
	}
	current, getErr := s.Get(ctx, req.ID)
	if getErr != nil {
		return Order{}, getErr
	}
	return Order{}, &TransitionError{ID: current.ID, From: current.Status, To: req.To}
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		items  []byte
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.UserName, &o.Phone, &o.Address, &items, &total,
		&o.PaymentMethod, &o.ReceiptImage, &o.AdminNote, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return Order{}, fmt.Errorf("decode items for order %s: %w", o.ID, err)
		}
	}
	o.Items = cloneItems(o.Items)
	amount, err := decimal.NewFromString(total)
	if err != nil {
		return Order{}, fmt.Errorf("decode total for order %s: %w", o.ID, err)
	}
	o.Total = amount
	o.Status = Status(status)
	return o, nil
}

func translatePGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23514" {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, pgErr.ConstraintName)
	}
	return err
}
