package remotestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Mhmdachkar/vlanco-cart-engine/internal/domain"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(cred *Credentials) (*PostgresStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing connection; used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{
		MigrationsTable: "cart_engine_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ListCart(ctx context.Context, userID string) ([]domain.CartLine, error) {
	query := `SELECT id, product_id, variant_id, quantity, unit_price_cents, product_snapshot, variant_snapshot, added_at
	          FROM cart_items WHERE user_id = $1 ORDER BY added_at`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *PostgresStore) GetCartLine(ctx context.Context, userID, productID, variantID string) (domain.CartLine, error) {
	query := `SELECT id, product_id, variant_id, quantity, unit_price_cents, product_snapshot, variant_snapshot, added_at
	          FROM cart_items WHERE user_id = $1 AND product_id = $2 AND variant_id = $3`

	row := s.db.QueryRowContext(ctx, query, userID, productID, variantID)
	line, err := scanCartLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CartLine{}, ErrNotFound
	}
	return line, err
}

func (s *PostgresStore) InsertCartLine(ctx context.Context, userID string, line domain.CartLine) (domain.CartLine, error) {
	productJSON, err := json.Marshal(line.Product)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("failed to marshal product snapshot: %w", err)
	}
	variantJSON, err := json.Marshal(line.Variant)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("failed to marshal variant snapshot: %w", err)
	}

	// AddedAt is preserved when set so merged guest lines keep their original
	// timestamp.
	query := `INSERT INTO cart_items (id, user_id, product_id, variant_id, quantity, unit_price_cents, product_snapshot, variant_snapshot, added_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`

	// The caller's id is kept when present: the engine issues provisional
	// uuids, and an undo restore must re-insert the just-deleted row under its
	// original id so clients holding it stay valid.
	id := line.ID
	if id == "" {
		id = uuid.NewString()
	}
	var addedAt any
	if !line.AddedAt.IsZero() {
		addedAt = line.AddedAt
	}

	_, insertErr := s.db.ExecContext(ctx, query,
		id,
		userID,
		line.ProductID,
		line.VariantID,
		line.Quantity,
		line.UnitPriceCents,
		productJSON,
		variantJSON,
		addedAt)

	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return domain.CartLine{}, ErrConflict
		}
		return domain.CartLine{}, fmt.Errorf("insert cart item: %w", insertErr)
	}

	line.ID = id
	return line, nil
}

func (s *PostgresStore) UpdateCartQuantity(ctx context.Context, userID, lineID string, quantity int) error {
	query := `UPDATE cart_items SET quantity = $1 WHERE user_id = $2 AND id = $3`

	res, err := s.db.ExecContext(ctx, query, quantity, userID, lineID)
	if err != nil {
		return fmt.Errorf("update cart item quantity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteCartLine(ctx context.Context, userID, lineID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND id = $2`, userID, lineID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ClearCart(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWishlist(ctx context.Context, userID string) ([]domain.WishlistEntry, error) {
	query := `SELECT product_id, unit_price_cents, product_snapshot, added_at
	          FROM wishlist_items WHERE user_id = $1 ORDER BY added_at`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query wishlist items: %w", err)
	}
	defer rows.Close()

	var entries []domain.WishlistEntry
	for rows.Next() {
		var e domain.WishlistEntry
		var productJSON []byte
		if err := rows.Scan(&e.ProductID, &e.UnitPriceCents, &productJSON, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan wishlist item: %w", err)
		}
		if err := json.Unmarshal(productJSON, &e.Product); err != nil {
			return nil, fmt.Errorf("failed to unmarshal product snapshot: %w", err)
		}
		e.ID = e.ProductID
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertWishlistEntry(ctx context.Context, userID string, entry domain.WishlistEntry) (domain.WishlistEntry, error) {
	productJSON, err := json.Marshal(entry.Product)
	if err != nil {
		return domain.WishlistEntry{}, fmt.Errorf("failed to marshal product snapshot: %w", err)
	}

	query := `INSERT INTO wishlist_items (user_id, product_id, unit_price_cents, product_snapshot, added_at)
	          VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`

	var addedAt any
	if !entry.AddedAt.IsZero() {
		addedAt = entry.AddedAt
	}

	_, insertErr := s.db.ExecContext(ctx, query,
		userID,
		entry.ProductID,
		entry.UnitPriceCents,
		productJSON,
		addedAt)

	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return domain.WishlistEntry{}, ErrConflict
		}
		return domain.WishlistEntry{}, fmt.Errorf("insert wishlist item: %w", insertErr)
	}

	entry.ID = entry.ProductID
	return entry, nil
}

func (s *PostgresStore) DeleteWishlistEntry(ctx context.Context, userID, productID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return fmt.Errorf("delete wishlist item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCartLine(row rowScanner) (domain.CartLine, error) {
	var line domain.CartLine
	var productJSON, variantJSON []byte

	err := row.Scan(
		&line.ID,
		&line.ProductID,
		&line.VariantID,
		&line.Quantity,
		&line.UnitPriceCents,
		&productJSON,
		&variantJSON,
		&line.AddedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CartLine{}, err
		}
		return domain.CartLine{}, fmt.Errorf("scan cart item: %w", err)
	}

	if err := json.Unmarshal(productJSON, &line.Product); err != nil {
		return domain.CartLine{}, fmt.Errorf("failed to unmarshal product snapshot: %w", err)
	}
	if err := json.Unmarshal(variantJSON, &line.Variant); err != nil {
		return domain.CartLine{}, fmt.Errorf("failed to unmarshal variant snapshot: %w", err)
	}
	return line, nil
}
