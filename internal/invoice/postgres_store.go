package invoice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mbd888/billflow/internal/pagination"
	"github.com/mbd888/billflow/internal/providers"
)

// PostgresStore persists invoices and payment records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed invoice store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const invoiceColumns = `id, owner_id, invoice_number, currency,
		client_name, client_email, client_address, line_items,
		subtotal, tax_rate, tax_amount, discount_rate, discount_amount, shipping,
		total, paid_amount, payment_status, approval_status,
		rejection_reason, approved_by, payment_link, payment_provider, notes,
		issue_date, due_date, approved_at, sent_at, paid_at, cancelled_at,
		created_at, updated_at`

const paymentColumns = `id, invoice_id, amount, currency, provider, status,
		external_tx_id, note, paid_at, deleted_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, inv *Invoice) error {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21, $22, $23,
			$24, $25, $26, $27, $28, $29,
			$30, $31
		)`,
		inv.ID, inv.OwnerID, inv.InvoiceNumber, inv.Currency,
		inv.Client.Name, nullString(inv.Client.Email), nullString(inv.Client.Address), items,
		inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.DiscountRate, inv.DiscountAmount, inv.Shipping,
		inv.Total, inv.PaidAmount, string(inv.PaymentStatus), string(inv.ApprovalStatus),
		nullString(inv.RejectionReason), nullString(inv.ApprovedBy), nullString(inv.PaymentLink),
		nullString(string(inv.PaymentProvider)), nullString(inv.Notes),
		inv.IssueDate, inv.DueDate, nullTime(inv.ApprovedAt), nullTime(inv.SentAt),
		nullTime(inv.PaidAt), nullTime(inv.CancelledAt),
		inv.CreatedAt, inv.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Invoice, error) {
	return getInvoice(ctx, p.db, id, false)
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, after *pagination.Cursor, limit int) ([]*Invoice, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+invoiceColumns+` FROM invoices
			WHERE owner_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, ownerID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+invoiceColumns+` FROM invoices
			WHERE owner_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, ownerID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanInvoices(rows)
}

func (p *PostgresStore) ListOverdueCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]*Invoice, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE payment_status = 'pending' AND due_date < $1 AND id > $2
		ORDER BY id
		LIMIT $3`, now, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanInvoices(rows)
}

func (p *PostgresStore) GetPayment(ctx context.Context, id string) (*PaymentRecord, error) {
	return getPayment(ctx, p.db, id)
}

func (p *PostgresStore) ListPayments(ctx context.Context, invoiceID string) ([]*PaymentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_records
		WHERE invoice_id = $1
		ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// WithInvoiceLock locks the invoice row with SELECT ... FOR UPDATE for the
// duration of fn.
func (p *PostgresStore) WithInvoiceLock(ctx context.Context, id string, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	inv, err := getInvoice(ctx, sqlTx, id, true)
	if err != nil {
		return err
	}

	if err := fn(&postgresTx{tx: sqlTx, inv: inv}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type postgresTx struct {
	tx  *sql.Tx
	inv *Invoice
}

func (t *postgresTx) Invoice() *Invoice { return t.inv }

func (t *postgresTx) Update(ctx context.Context, inv *Invoice) error {
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	result, err := t.tx.ExecContext(ctx, `
		UPDATE invoices SET
			invoice_number = $1, currency = $2,
			client_name = $3, client_email = $4, client_address = $5, line_items = $6,
			subtotal = $7, tax_rate = $8, tax_amount = $9, discount_rate = $10,
			discount_amount = $11, shipping = $12, total = $13, paid_amount = $14,
			payment_status = $15, approval_status = $16, rejection_reason = $17,
			approved_by = $18, payment_link = $19, payment_provider = $20, notes = $21,
			issue_date = $22, due_date = $23, approved_at = $24, sent_at = $25,
			paid_at = $26, cancelled_at = $27, updated_at = $28
		WHERE id = $29`,
		inv.InvoiceNumber, inv.Currency,
		inv.Client.Name, nullString(inv.Client.Email), nullString(inv.Client.Address), items,
		inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.DiscountRate,
		inv.DiscountAmount, inv.Shipping, inv.Total, inv.PaidAmount,
		string(inv.PaymentStatus), string(inv.ApprovalStatus), nullString(inv.RejectionReason),
		nullString(inv.ApprovedBy), nullString(inv.PaymentLink), nullString(string(inv.PaymentProvider)),
		nullString(inv.Notes),
		inv.IssueDate, inv.DueDate, nullTime(inv.ApprovedAt), nullTime(inv.SentAt),
		nullTime(inv.PaidAt), nullTime(inv.CancelledAt), inv.UpdatedAt,
		inv.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateNumber
		}
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *postgresTx) GetPayment(ctx context.Context, id string) (*PaymentRecord, error) {
	rec, err := getPayment(ctx, t.tx, id)
	if err != nil {
		return nil, err
	}
	if rec.InvoiceID != t.inv.ID {
		return nil, ErrPaymentNotFound
	}
	return rec, nil
}

func (t *postgresTx) FindPaymentByExternalID(ctx context.Context, provider providers.Provider, externalTxID string) (*PaymentRecord, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payment_records
		WHERE provider = $1 AND external_tx_id = $2`, string(provider), externalTxID)
	rec, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (t *postgresTx) InsertPayment(ctx context.Context, rec *PaymentRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_records (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.InvoiceID, rec.Amount, rec.Currency, string(rec.Provider), string(rec.Status),
		nullString(rec.ExternalTxID), nullString(rec.Note), rec.PaidAt, nullTime(rec.DeletedAt), rec.CreatedAt,
	)
	// Another invoice's transaction won the race past FindPaymentByExternalID.
	if isUniqueViolationOn(err, "idx_payment_records_external") {
		return errExternalTxIDTaken()
	}
	return err
}

func (t *postgresTx) DeletePayment(ctx context.Context, id string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE payment_records SET deleted_at = $1
		WHERE id = $2 AND invoice_id = $3 AND deleted_at IS NULL`, at, id, t.inv.ID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *postgresTx) SumCompletedPayments(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payment_records
		WHERE invoice_id = $1 AND status = 'completed' AND deleted_at IS NULL`, t.inv.ID).Scan(&sum)
	return sum, err
}

func getInvoice(ctx context.Context, q querier, id string, forUpdate bool) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inv, err
}

func getPayment(ctx context.Context, q querier, id string) (*PaymentRecord, error) {
	rec, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_records WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(s scanner) (*Invoice, error) {
	inv := &Invoice{}
	var (
		clientEmail, clientAddress    sql.NullString
		rejection, approvedBy         sql.NullString
		link, provider, notes         sql.NullString
		paymentStatus, approvalStatus string
		items                         []byte
		approvedAt, sentAt, paidAt    sql.NullTime
		cancelledAt                   sql.NullTime
	)
	err := s.Scan(
		&inv.ID, &inv.OwnerID, &inv.InvoiceNumber, &inv.Currency,
		&inv.Client.Name, &clientEmail, &clientAddress, &items,
		&inv.Subtotal, &inv.TaxRate, &inv.TaxAmount, &inv.DiscountRate, &inv.DiscountAmount, &inv.Shipping,
		&inv.Total, &inv.PaidAmount, &paymentStatus, &approvalStatus,
		&rejection, &approvedBy, &link, &provider, &notes,
		&inv.IssueDate, &inv.DueDate, &approvedAt, &sentAt, &paidAt, &cancelledAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.LineItems); err != nil {
			return nil, fmt.Errorf("decode line items: %w", err)
		}
	}
	inv.Client.Email = clientEmail.String
	inv.Client.Address = clientAddress.String
	inv.PaymentStatus = PaymentStatus(paymentStatus)
	inv.ApprovalStatus = ApprovalStatus(approvalStatus)
	inv.RejectionReason = rejection.String
	inv.ApprovedBy = approvedBy.String
	inv.PaymentLink = link.String
	inv.PaymentProvider = providers.Provider(provider.String)
	inv.Notes = notes.String
	inv.ApprovedAt = timePtr(approvedAt)
	inv.SentAt = timePtr(sentAt)
	inv.PaidAt = timePtr(paidAt)
	inv.CancelledAt = timePtr(cancelledAt)
	return inv, nil
}

func scanInvoices(rows *sql.Rows) ([]*Invoice, error) {
	var result []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

func scanPayment(s scanner) (*PaymentRecord, error) {
	rec := &PaymentRecord{}
	var (
		provider, status   string
		externalTxID, note sql.NullString
		deletedAt          sql.NullTime
	)
	if err := s.Scan(
		&rec.ID, &rec.InvoiceID, &rec.Amount, &rec.Currency, &provider, &status,
		&externalTxID, &note, &rec.PaidAt, &deletedAt, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.Provider = providers.Provider(provider)
	rec.Status = RecordStatus(status)
	rec.ExternalTxID = externalTxID.String
	rec.Note = note.String
	rec.DeletedAt = timePtr(deletedAt)
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}

func isUniqueViolationOn(err error, index string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation && pqErr.Constraint == index
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
