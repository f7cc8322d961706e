package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"restockbot/internal/models"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrDuplicateProduct is returned by Add when the URL is already tracked.
	ErrDuplicateProduct = errors.New("product already tracked")
	// ErrNotFound is returned when no product exists with the given id.
	ErrNotFound = errors.New("product not found")
)

// Store is the sqlite-backed product store. It is the sole writer of
// persisted product state; every mutation is a single statement keyed by id,
// so concurrent writes to different products cannot partially interleave.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the product database at path.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows one writer at a time; a single pooled connection keeps
	// concurrent worker writes queued instead of failing with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) init() error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		availability TEXT NOT NULL DEFAULT 'unknown',
		price TEXT,
		last_checked DATETIME,
		last_error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.conn.Exec(createTableSQL); err != nil {
		return fmt.Errorf("create products table: %w", err)
	}
	return nil
}

// Add registers a new product for tracking. The product starts with unknown
// availability until its first successful check. The name may be empty; a
// display name is then derived from the URL.
func (s *Store) Add(rawURL, name string) (models.Product, error) {
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil || parsed.Host == "" {
		return models.Product{}, fmt.Errorf("invalid product URL %q", rawURL)
	}
	if name == "" {
		name = parsed.Host
	}

	res, err := s.conn.Exec(
		"INSERT INTO products (url, name, availability) VALUES (?, ?, ?)",
		rawURL, name, string(models.AvailabilityUnknown),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return models.Product{}, ErrDuplicateProduct
		}
		return models.Product{}, fmt.Errorf("insert product: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return s.Get(id)
}

// Remove deletes a product from tracking.
func (s *Store) Remove(id int64) error {
	res, err := s.conn.Exec("DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveAll deletes every tracked product and returns how many were removed.
func (s *Store) RemoveAll() (int64, error) {
	res, err := s.conn.Exec("DELETE FROM products")
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}
	return n, nil
}

const productColumns = "id, url, name, availability, price, last_checked, last_error, created_at"

// Get returns a single product by id.
func (s *Store) Get(id int64) (models.Product, error) {
	row := s.conn.QueryRow("SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, ErrNotFound
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// List returns all tracked products in insertion order.
func (s *Store) List() ([]models.Product, error) {
	rows, err := s.conn.Query("SELECT " + productColumns + " FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("list products: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Count returns the number of tracked products.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM products").Scan(&n); err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

// Update folds a successful observation into the product row: availability,
// price and last_checked are set together and last_error is cleared.
func (s *Store) Update(id int64, obs models.Observation) error {
	var price sql.NullString
	if obs.Price.Valid {
		price = sql.NullString{String: obs.Price.Decimal.String(), Valid: true}
	}

	res, err := s.conn.Exec(
		"UPDATE products SET availability = ?, price = ?, last_checked = ?, last_error = NULL WHERE id = ?",
		string(obs.Availability), price, obs.ObservedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordError stores a failed check. All observed state is left untouched so
// the last good observation remains the comparison baseline.
func (s *Store) RecordError(id int64, message string) error {
	res, err := s.conn.Exec("UPDATE products SET last_error = ? WHERE id = ?", message, id)
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (models.Product, error) {
	var (
		p            models.Product
		availability string
		price        sql.NullString
		lastChecked  sql.NullTime
		lastError    sql.NullString
	)
	err := row.Scan(&p.ID, &p.URL, &p.Name, &availability, &price, &lastChecked, &lastError, &p.CreatedAt)
	if err != nil {
		return models.Product{}, err
	}

	p.Availability = models.Availability(availability)
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return models.Product{}, fmt.Errorf("corrupt price %q for product %d: %w", price.String, p.ID, err)
		}
		p.Price = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if lastChecked.Valid {
		p.LastChecked = lastChecked.Time
	}
	if lastError.Valid {
		p.LastError = lastError.String
	}
	return p, nil
}
