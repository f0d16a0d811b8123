package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/backend/billing/invoice"
	"github.com/clinicore/backend/pkg/pg"
)

// InvoiceStore implements invoice.Store.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	if pool == nil {
		panic("postgres: pool is required")
	}
	return &InvoiceStore{pool: pool}
}

const invoiceColumns = `id, number, tenant_id, subscription_id, plan_id,
	amount, currency, status, gateway, gateway_payment_id, payment_method,
	paid_at, tax_status, tax_invoice_id, tax_note, created_at, updated_at`

const paymentColumns = `id, invoice_id, gateway, gateway_payment_id, method,
	amount, currency, status, paid_at, created_at`

func (s *InvoiceStore) CreatePaid(ctx context.Context, inv *invoice.Invoice, p *invoice.Payment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin invoice insert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		inv.ID, inv.Number, inv.TenantID, inv.SubscriptionID, inv.PlanID,
		inv.Amount.Amount, inv.Amount.Currency, inv.Status, inv.Gateway,
		inv.GatewayPaymentID, inv.PaymentMethod, inv.PaidAt, inv.TaxStatus,
		inv.TaxInvoiceID, inv.TaxNote, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		// The unique index on gateway_payment_id catches a redelivered
		// webhook racing a concurrent instance.
		if pg.IsDuplicateKey(err) {
			return invoice.ErrPaymentAlreadyConfirmed
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	if err := insertPayment(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit invoice insert: %w", err)
	}
	return nil
}

func (s *InvoiceStore) AddPayment(ctx context.Context, p *invoice.Payment) error {
	return insertPayment(ctx, s.pool, p)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPayment(ctx context.Context, db execer, p *invoice.Payment) error {
	_, err := db.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.InvoiceID, p.Gateway, p.GatewayPaymentID, p.Method,
		p.Amount.Amount, p.Amount.Currency, p.Status, p.PaidAt, p.CreatedAt)
	if err != nil {
		// The partial unique index allows one confirmed payment per invoice.
		if pg.IsDuplicateKey(err) {
			return invoice.ErrPaymentAlreadyConfirmed
		}
		if pg.IsForeignKeyViolation(err) {
			return invoice.ErrInvoiceNotFound
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *InvoiceStore) PaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*invoice.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var out []*invoice.Payment
	for rows.Next() {
		var p invoice.Payment
		if err := rows.Scan(
			&p.ID, &p.InvoiceID, &p.Gateway, &p.GatewayPaymentID, &p.Method,
			&p.Amount.Amount, &p.Amount.Currency, &p.Status, &p.PaidAt, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *InvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices SET status=$2, paid_at=$3, tax_status=$4,
			tax_invoice_id=$5, tax_note=$6, updated_at=$7
		WHERE id=$1`,
		inv.ID, inv.Status, inv.PaidAt, inv.TaxStatus,
		inv.TaxInvoiceID, inv.TaxNote, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return invoice.ErrInvoiceNotFound
	}
	return nil
}

func (s *InvoiceStore) GetByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	return s.scanOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
}

func (s *InvoiceStore) GetByGatewayPaymentID(ctx context.Context, paymentID string) (*invoice.Invoice, error) {
	return s.scanOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE gateway_payment_id = $1`, paymentID)
}

func (s *InvoiceStore) List(ctx context.Context, filter invoice.ListFilter) ([]*invoice.Invoice, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	idx := 1

	if filter.TenantID != nil {
		where += fmt.Sprintf(` AND tenant_id = $%d`, idx)
		args = append(args, *filter.TenantID)
		idx++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, filter.Status)
		idx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	page, perPage := normalizePage(filter)
	query := fmt.Sprintf(`SELECT `+invoiceColumns+` FROM invoices`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select invoices: %w", err)
	}
	defer rows.Close()

	var out []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

func (s *InvoiceStore) ListByTaxStatus(ctx context.Context, status invoice.TaxStatus) ([]*invoice.Invoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE tax_status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("select invoices by tax status: %w", err)
	}
	defer rows.Close()

	var out []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *InvoiceStore) Aggregates(ctx context.Context, monthStart time.Time) (invoice.Aggregates, error) {
	agg := invoice.Aggregates{CountByStatus: make(map[invoice.Status]int)}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM invoices GROUP BY status`)
	if err != nil {
		return agg, fmt.Errorf("count invoices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status invoice.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return agg, fmt.Errorf("scan invoice count: %w", err)
		}
		agg.CountByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return agg, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0),
			COALESCE(SUM(amount) FILTER (WHERE paid_at >= $1), 0)
		FROM invoices WHERE status = 'paid'`,
		monthStart).Scan(&agg.TotalPaidRevenue, &agg.MonthPaidRevenue)
	if err != nil {
		return agg, fmt.Errorf("sum paid revenue: %w", err)
	}
	return agg, nil
}

func (s *InvoiceStore) scanOne(ctx context.Context, query string, args ...any) (*invoice.Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, invoice.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("select invoice: %w", err)
	}
	return inv, nil
}

func scanInvoice(row pgx.Row) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.TenantID, &inv.SubscriptionID, &inv.PlanID,
		&inv.Amount.Amount, &inv.Amount.Currency, &inv.Status, &inv.Gateway,
		&inv.GatewayPaymentID, &inv.PaymentMethod, &inv.PaidAt, &inv.TaxStatus,
		&inv.TaxInvoiceID, &inv.TaxNote, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func normalizePage(filter invoice.ListFilter) (page, perPage int) {
	page, perPage = filter.Page, filter.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	return page, perPage
}
