package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felicita-pe/felicita-core/internal/shared"
)

// Repository persists catalog entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func duplicateAware(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

// CreateProduct inserts a product.
func (r *Repository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO products (code, name, unit, tracks_stock, state)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		p.Code, p.Name, p.Unit, p.TracksStock, p.State).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, duplicateAware(err)
	}
	return p, nil
}

// GetProduct returns one product.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, unit, tracks_stock, state, created_at, updated_at
FROM products WHERE id=$1`, id).Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.TracksStock, &p.State, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// ListProducts returns all products ordered by code.
func (r *Repository) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, unit, tracks_stock, state, created_at, updated_at
FROM products ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Unit, &p.TracksStock, &p.State, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// SetProductState updates the lifecycle state of a product.
func (r *Repository) SetProductState(ctx context.Context, id int64, state shared.LifecycleState) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE products SET state=$2, updated_at=NOW() WHERE id=$1`, id, state)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// CreateWarehouse inserts a warehouse.
func (r *Repository) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO warehouses (code, name, type, allows_sales, allows_purchases, tracks_lots, state)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		w.Code, w.Name, w.Type, w.AllowsSales, w.AllowsPurchases, w.TracksLots, w.State).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Warehouse{}, duplicateAware(err)
	}
	return w, nil
}

// GetWarehouse returns one warehouse.
func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, type, allows_sales, allows_purchases, tracks_lots, state, created_at, updated_at
FROM warehouses WHERE id=$1`, id).Scan(&w.ID, &w.Code, &w.Name, &w.Type, &w.AllowsSales, &w.AllowsPurchases, &w.TracksLots, &w.State, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, ErrWarehouseNotFound
		}
		return Warehouse{}, err
	}
	return w, nil
}

// ListWarehouses returns all warehouses ordered by code.
func (r *Repository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, type, allows_sales, allows_purchases, tracks_lots, state, created_at, updated_at
FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.Type, &w.AllowsSales, &w.AllowsPurchases, &w.TracksLots, &w.State, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

// SetWarehouseState updates the lifecycle state of a warehouse.
func (r *Repository) SetWarehouseState(ctx context.Context, id int64, state shared.LifecycleState) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE warehouses SET state=$2, updated_at=NOW() WHERE id=$1`, id, state)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrWarehouseNotFound
	}
	return nil
}

// CreateLot inserts a lot.
func (r *Repository) CreateLot(ctx context.Context, l Lot) (Lot, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO lots (product_id, number, manufactured_at, expires_at, state)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		l.ProductID, l.Number, l.ManufacturedAt, l.ExpiresAt, l.State).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Lot{}, duplicateAware(err)
	}
	return l, nil
}

// ListLotsByProduct returns the lots of a product, oldest expiry first.
func (r *Repository) ListLotsByProduct(ctx context.Context, productID int64) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, number, manufactured_at, expires_at, state, created_at, updated_at
FROM lots WHERE product_id=$1 ORDER BY expires_at ASC NULLS LAST, number ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLots(rows)
}

// ListLotsExpiringBefore returns active lots expiring on or before the cutoff.
func (r *Repository) ListLotsExpiringBefore(ctx context.Context, cutoff time.Time) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, number, manufactured_at, expires_at, state, created_at, updated_at
FROM lots WHERE state='ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1 ORDER BY expires_at ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLots(rows)
}

func collectLots(rows pgx.Rows) ([]Lot, error) {
	var lots []Lot
	for rows.Next() {
		var l Lot
		if err := rows.Scan(&l.ID, &l.ProductID, &l.Number, &l.ManufacturedAt, &l.ExpiresAt, &l.State, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}
