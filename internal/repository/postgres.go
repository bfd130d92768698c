package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"cafeorders/internal/config"
	"cafeorders/internal/domain"
)

const (
	uniqueViolation   = "23505"
	numericOutOfRange = "22003"
)

// querier общий набор методов пула и транзакции
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

// Postgres хранилище поверх pgxpool
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*Postgres, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode)

	pcfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}
	pcfg.MaxConns = int32(cfg.MaxConns)
	pcfg.MinConns = 2
	pcfg.HealthCheckPeriod = time.Minute
	pcfg.MaxConnLifetime = time.Hour
	pcfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	log.Info("connected to postgres", "host", cfg.Host, "db", cfg.Name)
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Store собирает репозитории поверх одного пула
func (p *Postgres) Store() *Store {
	return &Store{
		Stock:     &pgStock{p},
		Orders:    &pgOrders{p},
		Drivers:   &pgDrivers{p},
		Customers: &pgCustomers{p},
		Messages:  &pgMessages{p},
		Tx:        p,
	}
}

// q возвращает транзакцию из контекста, если она есть
func (p *Postgres) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.pool
}

func inPgTx(ctx context.Context) bool {
	_, ok := ctx.Value(pgTxKey{}).(pgx.Tx)
	return ok
}

func (p *Postgres) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inPgTx(ctx) {
		return fn(ctx)
	}
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// InitSchema создаёт таблицы, если их нет, и заводит начальные остатки
func (p *Postgres) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			type VARCHAR(50) PRIMARY KEY,
			quantity BIGINT NOT NULL DEFAULT 0 CHECK (quantity >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS customers (
			email VARCHAR(255) PRIMARY KEY,
			name VARCHAR(100),
			contact VARCHAR(20),
			address VARCHAR(255)
		)`,
		`CREATE TABLE IF NOT EXISTS drivers (
			email VARCHAR(255) PRIMARY KEY,
			name VARCHAR(100),
			contact VARCHAR(20),
			code VARCHAR(50) UNIQUE NOT NULL,
			position JSONB,
			position_at TIMESTAMPTZ,
			delivering BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			customer_id VARCHAR(255) REFERENCES customers(email) ON DELETE SET NULL,
			product_type VARCHAR(50) NOT NULL REFERENCES products(type),
			quantity BIGINT NOT NULL CHECK (quantity > 0),
			total_price BIGINT NOT NULL,
			status VARCHAR(50) NOT NULL DEFAULT 'En attente',
			driver_id VARCHAR(255) REFERENCES drivers(email) ON DELETE SET NULL,
			invoice_generated BOOLEAN NOT NULL DEFAULT FALSE,
			last_position JSONB,
			last_position_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			customer_id VARCHAR(255) REFERENCES customers(email) ON DELETE CASCADE,
			text TEXT NOT NULL,
			sent_by_admin BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`INSERT INTO products (type, quantity) VALUES ('paquet', 100), ('sac', 10)
			ON CONFLICT (type) DO NOTHING`,
	}
	for _, s := range stmts {
		if _, err := p.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	p.log.Info("database schema ready")
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// isOutOfRange переполнение bigint при сложении остатков
func isOutOfRange(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == numericOutOfRange
}

func marshalPosition(pos *domain.Position) ([]byte, error) {
	if pos == nil {
		return nil, nil
	}
	return json.Marshal(pos)
}

func unmarshalPosition(raw []byte) (*domain.Position, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var pos domain.Position
	if err := json.Unmarshal(raw, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

// pgStock StockLedger
type pgStock struct{ p *Postgres }

func (s *pgStock) CheckAvailable(ctx context.Context, productType string, qty int64) (bool, error) {
	p, err := s.Get(ctx, productType)
	if err != nil {
		return false, err
	}
	return p.Quantity >= qty, nil
}

func (s *pgStock) Decrement(ctx context.Context, productType string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	// одно условное обновление: две конкурентные валидации не пройдут обе
	tag, err := s.p.q(ctx).Exec(ctx,
		`UPDATE products SET quantity = quantity - $1 WHERE type = $2 AND quantity >= $1`,
		qty, productType)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	cur, err := s.Get(ctx, productType)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %q has %d, need %d", domain.ErrInsufficientStock, productType, cur.Quantity, qty)
}

func (s *pgStock) Increment(ctx context.Context, productType string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	tag, err := s.p.q(ctx).Exec(ctx,
		`UPDATE products SET quantity = quantity + $1 WHERE type = $2`, qty, productType)
	if isOutOfRange(err) {
		return fmt.Errorf("%w: stock of %q would overflow", domain.ErrInvalidInput, productType)
	}
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %q", ErrNotFound, productType)
	}
	return nil
}

func (s *pgStock) UpsertAdd(ctx context.Context, productType string, qty int64) (*domain.Product, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidInput)
	}
	var out domain.Product
	err := s.p.q(ctx).QueryRow(ctx,
		`INSERT INTO products (type, quantity) VALUES ($1, $2)
		 ON CONFLICT (type) DO UPDATE SET quantity = products.quantity + EXCLUDED.quantity
		 RETURNING type, quantity`,
		productType, qty).Scan(&out.Type, &out.Quantity)
	if isOutOfRange(err) {
		return nil, fmt.Errorf("%w: stock of %q would overflow", domain.ErrInvalidInput, productType)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert stock: %w", err)
	}
	return &out, nil
}

func (s *pgStock) Get(ctx context.Context, productType string) (*domain.Product, error) {
	var out domain.Product
	err := s.p.q(ctx).QueryRow(ctx,
		`SELECT type, quantity FROM products WHERE type = $1`, productType).Scan(&out.Type, &out.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %q", ErrNotFound, productType)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *pgStock) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.p.q(ctx).Query(ctx, `SELECT type, quantity FROM products ORDER BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Product, 0)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.Type, &p.Quantity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// pgOrders OrderRepository
type pgOrders struct{ p *Postgres }

const orderColumns = `id, customer_id, product_type, quantity, total_price, status, driver_id,
	invoice_generated, last_position, last_position_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var status string
	var pos []byte
	err := row.Scan(&o.ID, &o.CustomerID, &o.ProductType, &o.Quantity, &o.TotalPrice, &status, &o.DriverID,
		&o.InvoiceGenerated, &pos, &o.LastPositionAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if o.LastPosition, err = unmarshalPosition(pos); err != nil {
		return nil, fmt.Errorf("decode order position: %w", err)
	}
	return &o, nil
}

func (r *pgOrders) Create(ctx context.Context, o *domain.Order) error {
	err := r.p.q(ctx).QueryRow(ctx,
		`INSERT INTO orders (customer_id, product_type, quantity, total_price, status, driver_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		o.CustomerID, o.ProductType, o.Quantity, o.TotalPrice, string(o.Status), o.DriverID,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating order: %w", err)
	}
	return nil
}

func (r *pgOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	// внутри транзакции строка блокируется до конца перехода
	if inPgTx(ctx) {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(r.p.q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return o, err
}

func (r *pgOrders) Update(ctx context.Context, o *domain.Order) error {
	pos, err := marshalPosition(o.LastPosition)
	if err != nil {
		return err
	}
	err = r.p.q(ctx).QueryRow(ctx,
		`UPDATE orders SET customer_id = $2, status = $3, driver_id = $4, invoice_generated = $5,
			last_position = $6::jsonb, last_position_at = $7, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		o.ID, o.CustomerID, string(o.Status), o.DriverID, o.InvoiceGenerated, nullableJSON(pos), o.LastPositionAt,
	).Scan(&o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: order %d", ErrNotFound, o.ID)
	}
	if err != nil {
		return fmt.Errorf("error updating order: %w", err)
	}
	return nil
}

func (r *pgOrders) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	var where []string
	var args []any
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.CustomerID != "" {
		args = append(args, f.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if f.DriverID != "" {
		args = append(args, f.DriverID)
		where = append(where, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.p.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *pgOrders) CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error) {
	var n int64
	err := r.p.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status = $1`, string(status)).Scan(&n)
	return n, err
}

// pgDrivers DriverRepository
type pgDrivers struct{ p *Postgres }

func (r *pgDrivers) Create(ctx context.Context, d *domain.Driver) error {
	_, err := r.p.q(ctx).Exec(ctx,
		`INSERT INTO drivers (email, name, contact, code) VALUES ($1, $2, $3, $4)`,
		d.Email, d.Name, d.Contact, d.Code)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: driver email or code already used", domain.ErrInvalidInput)
	}
	return err
}

func (r *pgDrivers) GetByID(ctx context.Context, email string) (*domain.Driver, error) {
	var d domain.Driver
	var pos []byte
	err := r.p.q(ctx).QueryRow(ctx,
		`SELECT email, COALESCE(name, ''), COALESCE(contact, ''), code, position, position_at, delivering
		 FROM drivers WHERE email = $1`, email,
	).Scan(&d.Email, &d.Name, &d.Contact, &d.Code, &pos, &d.PositionAt, &d.Delivering)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: driver %q", ErrNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	if d.Position, err = unmarshalPosition(pos); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *pgDrivers) UpdatePosition(ctx context.Context, email string, pos domain.Position, delivering bool, at time.Time) error {
	raw, err := marshalPosition(&pos)
	if err != nil {
		return err
	}
	tag, err := r.p.q(ctx).Exec(ctx,
		`UPDATE drivers SET position = $1::jsonb, delivering = $2, position_at = $3 WHERE email = $4`,
		string(raw), delivering, at, email)
	if err != nil {
		return fmt.Errorf("update driver position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: driver %q", ErrNotFound, email)
	}
	return nil
}

func (r *pgDrivers) ListWithPosition(ctx context.Context) ([]domain.Driver, error) {
	rows, err := r.p.q(ctx).Query(ctx,
		`SELECT email, COALESCE(name, ''), COALESCE(contact, ''), code, position, position_at, delivering
		 FROM drivers WHERE position IS NOT NULL ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Driver, 0)
	for rows.Next() {
		var d domain.Driver
		var pos []byte
		if err := rows.Scan(&d.Email, &d.Name, &d.Contact, &d.Code, &pos, &d.PositionAt, &d.Delivering); err != nil {
			return nil, err
		}
		if d.Position, err = unmarshalPosition(pos); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *pgDrivers) Delete(ctx context.Context, email string) error {
	// orders.driver_id ON DELETE SET NULL
	tag, err := r.p.q(ctx).Exec(ctx, `DELETE FROM drivers WHERE email = $1`, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: driver %q", ErrNotFound, email)
	}
	return nil
}

// pgCustomers CustomerRepository
type pgCustomers struct{ p *Postgres }

func (r *pgCustomers) Create(ctx context.Context, c *domain.Customer) error {
	_, err := r.p.q(ctx).Exec(ctx,
		`INSERT INTO customers (email, name, contact, address) VALUES ($1, $2, $3, $4)`,
		c.Email, c.Name, c.Contact, c.Address)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: customer %q already exists", domain.ErrInvalidInput, c.Email)
	}
	return err
}

func (r *pgCustomers) GetByID(ctx context.Context, email string) (*domain.Customer, error) {
	var c domain.Customer
	err := r.p.q(ctx).QueryRow(ctx,
		`SELECT email, COALESCE(name, ''), COALESCE(contact, ''), COALESCE(address, '')
		 FROM customers WHERE email = $1`, email,
	).Scan(&c.Email, &c.Name, &c.Contact, &c.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: customer %q", ErrNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *pgCustomers) Delete(ctx context.Context, email string) error {
	// orders.customer_id ON DELETE SET NULL, messages ON DELETE CASCADE
	tag, err := r.p.q(ctx).Exec(ctx, `DELETE FROM customers WHERE email = $1`, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: customer %q", ErrNotFound, email)
	}
	return nil
}

// pgMessages MessageRepository
type pgMessages struct{ p *Postgres }

func (r *pgMessages) Create(ctx context.Context, m *domain.ChatMessage) error {
	err := r.p.q(ctx).QueryRow(ctx,
		`INSERT INTO messages (customer_id, text, sent_by_admin) VALUES ($1, $2, $3)
		 RETURNING id, timestamp`,
		m.CustomerID, m.Text, m.SentByAdmin,
	).Scan(&m.ID, &m.Timestamp)
	if err != nil {
		return fmt.Errorf("error creating message: %w", err)
	}
	return nil
}

func (r *pgMessages) ListByCustomer(ctx context.Context, customerID string) ([]domain.ChatMessage, error) {
	rows, err := r.p.q(ctx).Query(ctx,
		`SELECT id, customer_id, text, sent_by_admin, timestamp
		 FROM messages WHERE customer_id = $1 ORDER BY timestamp ASC, id ASC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.ChatMessage, 0)
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.CustomerID, &m.Text, &m.SentByAdmin, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// nullableJSON turns an empty payload into SQL NULL
func nullableJSON(raw []byte) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}
