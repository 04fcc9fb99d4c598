// Package postgres implements the Repository on PostgreSQL. Invoice units of
// work run as serializable transactions with row locks taken via
// SELECT ... FOR UPDATE, so concurrent workflows against the same products or
// client either serialize or fail with a retryable serialization error.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"fakturin/backend/internal/domain"
	"fakturin/backend/internal/oid"
	"fakturin/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the billing tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS clients (
			id                  TEXT PRIMARY KEY,
			username            TEXT NOT NULL UNIQUE,
			email               TEXT NOT NULL DEFAULT '',
			phone               TEXT NOT NULL DEFAULT '',
			company_name        TEXT NOT NULL DEFAULT '',
			city                TEXT NOT NULL DEFAULT '',
			address             TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			total_owed          NUMERIC(18,2) NOT NULL DEFAULT 0,
			total_paid          NUMERIC(18,2) NOT NULL DEFAULT 0,
			outstanding_balance NUMERIC(18,2) NOT NULL DEFAULT 0,
			created_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS client_invoices (
			client_id  TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
			invoice_id TEXT NOT NULL,
			seq        BIGSERIAL,
			PRIMARY KEY (client_id, invoice_id)
		);
		CREATE TABLE IF NOT EXISTS products (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price       NUMERIC(18,2) NOT NULL,
			stock       BIGINT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS product_price_history (
			id         TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			old_price  NUMERIC(18,2) NOT NULL,
			new_price  NUMERIC(18,2) NOT NULL,
			changed_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS invoices (
			id          TEXT PRIMARY KEY,
			client_id   TEXT NOT NULL,
			total_paid  NUMERIC(18,2) NOT NULL,
			total_price NUMERIC(18,2) NOT NULL,
			status      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS invoice_goods (
			invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
			position   INT NOT NULL,
			product_id TEXT NOT NULL,
			name       TEXT NOT NULL,
			price      NUMERIC(18,2) NOT NULL,
			quantity   BIGINT NOT NULL,
			PRIMARY KEY (invoice_id, position)
		);
		CREATE INDEX IF NOT EXISTS idx_invoices_client ON invoices (client_id, created_at DESC);
	`)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (
			id, username, email, phone, company_name, city, address, status,
			total_owed, total_paid, outstanding_balance, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, client.ID, client.Username, client.Email, client.Phone, client.CompanyName,
		client.City, client.Address, client.Status, client.TotalOwed, client.TotalPaid,
		client.OutstandingBalance, client.CreatedAt, client.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := client
	return &created, nil
}

func scanClient(row interface{ Scan(...any) error }) (*domain.Client, error) {
	var c domain.Client
	err := row.Scan(&c.ID, &c.Username, &c.Email, &c.Phone, &c.CompanyName, &c.City,
		&c.Address, &c.Status, &c.TotalOwed, &c.TotalPaid, &c.OutstandingBalance,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

const clientColumns = `id, username, email, phone, company_name, city, address, status,
	total_owed, total_paid, outstanding_balance, created_at, updated_at`

func getClient(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	client, err := scanClient(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	invoices, err := clientInvoiceIDs(ctx, q, id)
	if err != nil {
		return nil, err
	}
	client.Invoices = invoices
	return client, nil
}

func clientInvoiceIDs(ctx context.Context, q querier, clientID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT invoice_id
		FROM client_invoices
		WHERE client_id = $1
		ORDER BY seq
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	return getClient(ctx, s.db, id, false)
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 32)
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *client)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range clients {
		invoices, err := clientInvoiceIDs(ctx, s.db, clients[i].ID)
		if err != nil {
			return nil, err
		}
		clients[i].Invoices = invoices
	}
	return clients, nil
}

func (s *Store) UpdateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET username = $2, email = $3, phone = $4, company_name = $5, city = $6,
			address = $7, status = $8, updated_at = $9
		WHERE id = $1
	`, client.ID, client.Username, client.Email, client.Phone, client.CompanyName,
		client.City, client.Address, client.Status, client.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return getClient(ctx, s.db, client.ID, false)
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.Name, product.Description, product.Price, product.Stock,
		product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func getProduct(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Product, error) {
	query := `
		SELECT id, name, description, price, stock, created_at, updated_at
		FROM products
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanProduct(q.QueryRowContext(ctx, query, id))
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return getProduct(ctx, s.db, id, false)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, price, stock, created_at, updated_at
		FROM products
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *product)
	}
	return products, rows.Err()
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, stock = $5, updated_at = $6
		WHERE id = $1
	`, product.ID, product.Name, product.Description, product.Price, product.Stock, product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.ProductPriceHistory) error {
	if entry.ID == "" {
		entry.ID = oid.New(oid.PrefixPriceHistory)
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_price_history (id, product_id, old_price, new_price, changed_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, entry.ProductID, entry.OldPrice, entry.NewPrice, entry.ChangedAt)
	return err
}

func (s *Store) ListPriceHistory(ctx context.Context, productID string, limit int) ([]domain.ProductPriceHistory, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, old_price, new_price, changed_at
		FROM product_price_history
		WHERE product_id = $1
		ORDER BY changed_at DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.ProductPriceHistory, 0, limit)
	for rows.Next() {
		var entry domain.ProductPriceHistory
		if err := rows.Scan(&entry.ID, &entry.ProductID, &entry.OldPrice, &entry.NewPrice, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entry.ChangedAt = entry.ChangedAt.UTC()
		history = append(history, entry)
	}
	return history, rows.Err()
}

func (s *Store) GetStock(ctx context.Context, productID string) (int64, error) {
	var stock int64
	err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return stock, nil
}

func scanInvoice(row interface{ Scan(...any) error }) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(&inv.ID, &inv.ClientID, &inv.TotalPaid, &inv.TotalPrice, &inv.Status,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return &inv, nil
}

func loadGoods(ctx context.Context, q querier, invoiceID string) ([]domain.Goods, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, name, price, quantity
		FROM invoice_goods
		WHERE invoice_id = $1
		ORDER BY position
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	goods := make([]domain.Goods, 0, 8)
	for rows.Next() {
		var g domain.Goods
		if err := rows.Scan(&g.ProductID, &g.Name, &g.Price, &g.Quantity); err != nil {
			return nil, err
		}
		goods = append(goods, g)
	}
	return goods, rows.Err()
}

func getInvoice(ctx context.Context, q querier, id string, forUpdate bool) (*domain.Invoice, error) {
	query := `
		SELECT id, client_id, total_paid, total_price, status, created_at, updated_at
		FROM invoices
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	goods, err := loadGoods(ctx, q, id)
	if err != nil {
		return nil, err
	}
	inv.Goods = goods
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return getInvoice(ctx, s.db, id, false)
}

func (s *Store) listInvoices(ctx context.Context, query string, args ...any) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 32)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range invoices {
		goods, err := loadGoods(ctx, s.db, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Goods = goods
	}
	return invoices, nil
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	return s.listInvoices(ctx, `
		SELECT id, client_id, total_paid, total_price, status, created_at, updated_at
		FROM invoices
		ORDER BY created_at DESC, id DESC
	`)
}

func (s *Store) ListInvoicesByClient(ctx context.Context, clientID string) ([]domain.Invoice, error) {
	return s.listInvoices(ctx, `
		SELECT id, client_id, total_paid, total_price, status, created_at, updated_at
		FROM invoices
		WHERE client_id = $1
		ORDER BY created_at DESC, id DESC
	`, clientID)
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_invoices WHERE invoice_id = $1`, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DashboardSummary(ctx context.Context, recentLimit int) (domain.DashboardSummary, error) {
	if recentLimit < 1 {
		recentLimit = 5
	}

	var summary domain.DashboardSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM clients),
			(SELECT count(*) FROM products),
			(SELECT count(*) FROM invoices),
			COALESCE((SELECT sum(total_price) FROM invoices), 0),
			COALESCE((SELECT sum(outstanding_balance) FROM clients), 0)
	`).Scan(&summary.Clients, &summary.Products, &summary.Invoices,
		&summary.GrossRevenue, &summary.TotalOutstanding)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	recent, err := s.listInvoices(ctx, `
		SELECT id, client_id, total_paid, total_price, status, created_at, updated_at
		FROM invoices
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, recentLimit)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	summary.RecentInvoices = recent
	return summary, nil
}

func (s *Store) InvoiceTx(ctx context.Context, fn func(tx store.InvoiceSession) error) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(&session{tx: pgTx}); err != nil {
		if isSerializationFailure(err) {
			return store.ErrSerialization
		}
		return err
	}

	if err := pgTx.Commit(); err != nil {
		if isSerializationFailure(err) {
			return store.ErrSerialization
		}
		return err
	}
	return nil
}

type session struct {
	tx *sql.Tx
}

func (t *session) GetProductForUpdate(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, t.tx, productID, true)
}

func (t *session) AdjustStock(ctx context.Context, productID string, delta int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
	`, productID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *session) GetClientForUpdate(ctx context.Context, clientID string) (*domain.Client, error) {
	return getClient(ctx, t.tx, clientID, true)
}

func (t *session) ApplyFinancialDelta(ctx context.Context, clientID string, owedDelta, paidDelta decimal.Decimal, attachInvoiceID string) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE clients
		SET total_owed = total_owed + $2,
			total_paid = total_paid + $3,
			outstanding_balance = total_owed + $2,
			updated_at = now()
		WHERE id = $1
	`, clientID, owedDelta, paidDelta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if attachInvoiceID != "" {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO client_invoices (client_id, invoice_id)
			VALUES ($1, $2)
			ON CONFLICT (client_id, invoice_id) DO NOTHING
		`, clientID, attachInvoiceID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *session) GetInvoiceForUpdate(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return getInvoice(ctx, t.tx, invoiceID, true)
}

func (t *session) insertGoods(ctx context.Context, invoiceID string, goods []domain.Goods) error {
	for i, g := range goods {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO invoice_goods (invoice_id, position, product_id, name, price, quantity)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, invoiceID, i, g.ProductID, g.Name, g.Price, g.Quantity)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *session) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO invoices (id, client_id, total_paid, total_price, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, inv.ID, inv.ClientID, inv.TotalPaid, inv.TotalPrice, inv.Status, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return t.insertGoods(ctx, inv.ID, inv.Goods)
}

func (t *session) ReplaceInvoice(ctx context.Context, inv domain.Invoice) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE invoices
		SET client_id = $2, total_paid = $3, total_price = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, inv.ID, inv.ClientID, inv.TotalPaid, inv.TotalPrice, inv.Status, inv.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM invoice_goods WHERE invoice_id = $1`, inv.ID); err != nil {
		return err
	}
	return t.insertGoods(ctx, inv.ID, inv.Goods)
}
