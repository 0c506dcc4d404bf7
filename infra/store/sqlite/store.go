package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/repairdispatch/core/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    lat REAL,
    lon REAL,
    status TEXT NOT NULL,
    master_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS workers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    lat REAL,
    lon REAL,
    rating REAL,
    completed_jobs INTEGER,
    on_shift INTEGER NOT NULL,
    status TEXT NOT NULL,
    specializations TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    master_id TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    responded_at INTEGER NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS assignments_order ON assignments(order_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS assignments_one_pending ON assignments(order_id) WHERE status = 'PENDING';
`

// Store persists orders, masters and assignments in a SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the database at path and ensures the schema.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps writers serialized and in-memory DSNs alive
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// PutOrder inserts or replaces an order.
func (s *Store) PutOrder(ctx context.Context, o model.Order) error {
	if o.ID == "" {
		return fmt.Errorf("order id is required")
	}
	lat, lon := point(o.Location)
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (id, category, lat, lon, status, master_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            category = excluded.category,
            lat = excluded.lat,
            lon = excluded.lon,
            status = excluded.status,
            master_id = excluded.master_id,
            created_at = excluded.created_at,
            updated_at = excluded.updated_at`,
		o.ID, o.Category, lat, lon, string(o.Status), o.MasterID, unix(o.CreatedAt), unix(o.UpdatedAt))
	return err
}

// PutWorker inserts or replaces a master.
func (s *Store) PutWorker(ctx context.Context, w model.Worker) error {
	if w.ID == "" {
		return fmt.Errorf("worker id is required")
	}
	specs, err := json.Marshal(w.Specializations)
	if err != nil {
		return err
	}
	lat, lon := point(w.Location)
	var rating sql.NullFloat64
	if w.Rating != nil {
		rating = sql.NullFloat64{Float64: *w.Rating, Valid: true}
	}
	var jobs sql.NullInt64
	if w.CompletedJobs != nil {
		jobs = sql.NullInt64{Int64: int64(*w.CompletedJobs), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workers (id, name, lat, lon, rating, completed_jobs, on_shift, status, specializations)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            lat = excluded.lat,
            lon = excluded.lon,
            rating = excluded.rating,
            completed_jobs = excluded.completed_jobs,
            on_shift = excluded.on_shift,
            status = excluded.status,
            specializations = excluded.specializations`,
		w.ID, w.Name, lat, lon, rating, jobs, w.OnShift, string(w.Status), string(specs))
	return err
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, category, lat, lon, status, master_id, created_at, updated_at
        FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	return o, err
}

func (s *Store) UpdateOrder(ctx context.Context, o model.Order) error {
	lat, lon := point(o.Location)
	res, err := s.db.ExecContext(ctx, `UPDATE orders
        SET category = ?, lat = ?, lon = ?, status = ?, master_id = ?, updated_at = ?
        WHERE id = ?`,
		o.Category, lat, lon, string(o.Status), o.MasterID, unix(o.UpdatedAt), o.ID)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("order %s: %w", o.ID, model.ErrNotFound))
}

// ListOrders returns every order sorted by ID.
func (s *Store) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, category, lat, lon, status, master_id, created_at, updated_at
        FROM orders ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (s *Store) GetAvailableWorkers(ctx context.Context, category string) ([]model.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, lat, lon, rating, completed_jobs, on_shift, status, specializations
        FROM workers WHERE status = ? ORDER BY id`, string(model.WorkerAvailable))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		if w.Specializes(category) {
			res = append(res, w)
		}
	}
	return res, rows.Err()
}

// GetWorker returns a master by ID.
func (s *Store) GetWorker(ctx context.Context, id string) (model.Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, lat, lon, rating, completed_jobs, on_shift, status, specializations
        FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Worker{}, fmt.Errorf("worker %s: %w", id, model.ErrNotFound)
	}
	return w, err
}

func (s *Store) UpdateWorkerStatus(ctx context.Context, id string, status model.WorkerStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workers SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("worker %s: %w", id, model.ErrNotFound))
}

func (s *Store) CreateAssignment(ctx context.Context, n model.NewAssignment) (model.Assignment, error) {
	a := model.Assignment{
		ID:        uuid.NewString(),
		OrderID:   n.OrderID,
		MasterID:  n.MasterID,
		Status:    model.AssignmentPending,
		CreatedAt: n.CreatedAt,
		ExpiresAt: n.ExpiresAt,
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO assignments (id, order_id, master_id, status, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrderID, a.MasterID, string(a.Status), unix(a.CreatedAt), unix(a.ExpiresAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return model.Assignment{}, fmt.Errorf("order %s: %w", n.OrderID, model.ErrPendingAssignmentExists)
		}
		return model.Assignment{}, err
	}
	return a, nil
}

// UpdateAssignmentStatus only touches rows still PENDING, so concurrent
// resolutions of the same assignment have exactly one winner.
func (s *Store) UpdateAssignmentStatus(ctx context.Context, id string, u model.StatusUpdate) error {
	if !u.Status.Terminal() {
		return fmt.Errorf("invalid target status %s", u.Status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE assignments SET status = ?, responded_at = ?, reason = ?
        WHERE id = ? AND status = ?`,
		string(u.Status), unix(u.At), u.Reason, id, string(model.AssignmentPending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	a, err := s.GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("assignment %s is %s: %w", id, a.Status, model.ErrAssignmentNotPending)
}

func (s *Store) GetActiveAssignmentForOrder(ctx context.Context, orderID string) (*model.Assignment, error) {
	row := s.db.QueryRowContext(ctx, selectAssignment+` WHERE order_id = ? AND status = ?`, orderID, string(model.AssignmentPending))
	a, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (model.Assignment, error) {
	a, err := scanAssignment(s.db.QueryRowContext(ctx, selectAssignment+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Assignment{}, fmt.Errorf("assignment %s: %w", id, model.ErrNotFound)
	}
	return a, err
}

// ListAssignmentsForOrder returns the order's assignments, oldest first.
func (s *Store) ListAssignmentsForOrder(ctx context.Context, orderID string) ([]model.Assignment, error) {
	return s.listAssignments(ctx, selectAssignment+` WHERE order_id = ? ORDER BY created_at, id`, orderID)
}

// ListPendingAssignments returns every PENDING assignment.
func (s *Store) ListPendingAssignments(ctx context.Context) ([]model.Assignment, error) {
	return s.listAssignments(ctx, selectAssignment+` WHERE status = ? ORDER BY order_id`, string(model.AssignmentPending))
}

const selectAssignment = `SELECT id, order_id, master_id, status, created_at, expires_at, responded_at, reason FROM assignments`

func (s *Store) listAssignments(ctx context.Context, query string, args ...any) ([]model.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (model.Order, error) {
	var o model.Order
	var lat, lon sql.NullFloat64
	var status string
	var created, updated int64
	if err := row.Scan(&o.ID, &o.Category, &lat, &lon, &status, &o.MasterID, &created, &updated); err != nil {
		return model.Order{}, err
	}
	o.Location = geo(lat, lon)
	o.Status = model.OrderStatus(status)
	o.CreatedAt = fromUnix(created)
	o.UpdatedAt = fromUnix(updated)
	return o, nil
}

func scanWorker(row scanner) (model.Worker, error) {
	var w model.Worker
	var lat, lon, rating sql.NullFloat64
	var jobs sql.NullInt64
	var status, specs string
	if err := row.Scan(&w.ID, &w.Name, &lat, &lon, &rating, &jobs, &w.OnShift, &status, &specs); err != nil {
		return model.Worker{}, err
	}
	w.Location = geo(lat, lon)
	if rating.Valid {
		r := rating.Float64
		w.Rating = &r
	}
	if jobs.Valid {
		j := int(jobs.Int64)
		w.CompletedJobs = &j
	}
	w.Status = model.WorkerStatus(status)
	if err := json.Unmarshal([]byte(specs), &w.Specializations); err != nil {
		return model.Worker{}, fmt.Errorf("worker %s specializations: %w", w.ID, err)
	}
	return w, nil
}

func scanAssignment(row scanner) (model.Assignment, error) {
	var a model.Assignment
	var status string
	var created, expires, responded int64
	if err := row.Scan(&a.ID, &a.OrderID, &a.MasterID, &status, &created, &expires, &responded, &a.Reason); err != nil {
		return model.Assignment{}, err
	}
	a.Status = model.AssignmentStatus(status)
	a.CreatedAt = fromUnix(created)
	a.ExpiresAt = fromUnix(expires)
	a.RespondedAt = fromUnix(responded)
	return a, nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func point(p *model.GeoPoint) (sql.NullFloat64, sql.NullFloat64) {
	if p == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: p.Lat, Valid: true}, sql.NullFloat64{Float64: p.Lon, Valid: true}
}

func geo(lat, lon sql.NullFloat64) *model.GeoPoint {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &model.GeoPoint{Lat: lat.Float64, Lon: lon.Float64}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
