package repositories

import (
	"context"
	"database/sql"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/obs"
	"delivery-run-service/internal/ports"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Postgres-backed implementation of the RunRepository port, over
// database/sql with the pgx driver.
type PostgresRunRepository struct{ DB *sql.DB }

func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{DB: db}
}

func (p *PostgresRunRepository) CreateRun(ctx context.Context, run *domain.DeliveryRun) (err error) {
	defer obs.Time(ctx, "runs.create")(&err)

	_, err = p.DB.ExecContext(ctx, `
	INSERT INTO delivery_runs (run_id, delivery_date, status, created_at)
	VALUES ($1, $2::date, $3, $4);
	`, run.RunID, run.DeliveryDate.String(), string(run.Status), run.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &domain.InvalidArgumentError{
			Field:  "delivery_date",
			Reason: fmt.Sprintf("a run already exists for %s", run.DeliveryDate),
		}
	}
	if err != nil {
		return fmt.Errorf("create run: insert delivery_runs: %w", err)
	}
	return nil
}

func (p *PostgresRunRepository) LoadRun(ctx context.Context, runID string) (_ *domain.DeliveryRun, err error) {
	defer obs.Time(ctx, "runs.load")(&err)

	run, err := p.readRun(ctx, `WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if run == nil {
		return nil, &domain.RunNotFoundError{RunID: runID}
	}
	return run, nil
}

func (p *PostgresRunRepository) FindRunByDate(ctx context.Context, date domain.Date) (*domain.DeliveryRun, error) {
	run, err := p.readRun(ctx, `WHERE delivery_date = $1::date`, date.String())
	if err != nil {
		return nil, fmt.Errorf("find run by date %s: %w", date, err)
	}
	return run, nil
}

func (p *PostgresRunRepository) ListRuns(ctx context.Context) (_ []domain.RunSummary, err error) {
	defer obs.Time(ctx, "runs.list")(&err)

	rows, err := p.DB.QueryContext(ctx, `
	SELECT
		r.run_id,
		r.delivery_date,
		r.status,
		r.distance_meters,
		r.duration_seconds,
		r.last_optimized_at,
		(SELECT COUNT(*) FROM run_orders ro WHERE ro.run_id = r.run_id),
		(SELECT COUNT(*) FROM routes rt WHERE rt.run_id = r.run_id),
		(SELECT COUNT(*) FROM stops s WHERE s.run_id = r.run_id AND NOT s.unassigned),
		(SELECT COUNT(*) FROM stops s WHERE s.run_id = r.run_id AND s.unassigned)
	FROM delivery_runs r
	ORDER BY r.delivery_date;
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: query delivery_runs table: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RunSummary, 0, 16)
	for rows.Next() {
		var (
			run       domain.DeliveryRun
			date      time.Time
			status    string
			optimized sql.NullTime
			s         domain.RunSummary
		)
		if err := rows.Scan(
			&run.RunID, &date, &status,
			&run.Metrics.DistanceMeters, &run.Metrics.DurationSeconds, &optimized,
			&s.OrderCount, &s.RouteCount, &s.StopCount, &s.UnassignedCount,
		); err != nil {
			return nil, fmt.Errorf("list runs: scan row: %w", err)
		}

		if run.Status, err = domain.ParseRunStatus(status); err != nil {
			return nil, fmt.Errorf("list runs: run_id=%s: %w", run.RunID, err)
		}
		run.DeliveryDate = domain.DateOf(date)
		if optimized.Valid {
			t := optimized.Time
			run.LastOptimizedAt = &t
		}

		s.RunID, s.DeliveryDate, s.Status = run.RunID, run.DeliveryDate, run.Status
		if run.HasOptimizedMetrics() {
			s.DistanceKm = run.Metrics.DistanceKm()
			s.DurationMin = run.Metrics.DurationMin()
			s.LastOptimizedAt = run.LastOptimizedAt
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: row iteration: %w", err)
	}

	return out, nil
}

// DeleteRun removes the run; memberships, routes and stops cascade. The
// orders themselves remain and become ungrouped.
func (p *PostgresRunRepository) DeleteRun(ctx context.Context, runID string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM delivery_runs WHERE run_id = $1;`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: rows affected: %w", err)
	}
	if n == 0 {
		return &domain.RunNotFoundError{RunID: runID}
	}
	return nil
}

func (p *PostgresRunRepository) AddOrders(ctx context.Context, runID string, orders []domain.Order) (err error) {
	defer obs.Time(ctx, "runs.add_orders")(&err)

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add orders: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockRun(ctx, tx, runID)
	if err != nil {
		return fmt.Errorf("add orders: %w", err)
	}
	if status != domain.StatusDraft {
		return &domain.StatusConflictError{RunID: runID, Expected: domain.StatusDraft, Actual: status}
	}

	if err := upsertOrders(ctx, tx, orders); err != nil {
		return fmt.Errorf("add orders: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO run_orders (run_id, order_id)
	VALUES ($1, $2)
	ON CONFLICT DO NOTHING;
	`)
	if err != nil {
		return fmt.Errorf("add orders: prepare membership insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		if _, err := stmt.ExecContext(ctx, runID, o.OrderID); err != nil {
			return fmt.Errorf("add orders: insert membership order_id=%s: %w", o.OrderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add orders: commit tx: %w", err)
	}
	return nil
}

func (p *PostgresRunRepository) ListUngroupedOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := queryOrders(ctx, p.DB, `
	SELECT o.order_id, o.address, o.delivery_date, o.service_minutes, o.lat, o.lon, o.geocoded_address
	FROM orders o
	WHERE NOT EXISTS (SELECT 1 FROM run_orders ro WHERE ro.order_id = o.order_id)
	ORDER BY o.delivery_date, o.order_id;
	`)
	if err != nil {
		return nil, fmt.Errorf("list ungrouped orders: %w", err)
	}
	return orders, nil
}

func (p *PostgresRunRepository) Atomically(ctx context.Context, fn func(tx ports.RunTx) error) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&postgresRunTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresRunTx struct{ tx *sql.Tx }

// Replace all routes and stops of a run. The run row is locked first so a
// concurrent delete either completes before (and this fails) or waits.
func (t *postgresRunTx) SaveRoutes(ctx context.Context, runID string, routes []domain.Route, unassigned []domain.Stop) error {
	if _, err := lockRun(ctx, t.tx, runID); err != nil {
		return fmt.Errorf("save routes: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM stops WHERE run_id = $1;`, runID); err != nil {
		return fmt.Errorf("save routes: delete stops: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM routes WHERE run_id = $1;`, runID); err != nil {
		return fmt.Errorf("save routes: delete routes: %w", err)
	}

	routeStmt, err := t.tx.PrepareContext(ctx, `
	INSERT INTO routes (route_id, run_id, driver_id, position, distance_meters, duration_seconds)
	VALUES ($1, $2, $3, $4, $5, $6);
	`)
	if err != nil {
		return fmt.Errorf("save routes: prepare route insert: %w", err)
	}
	defer routeStmt.Close()

	stopStmt, err := t.tx.PrepareContext(ctx, `
	INSERT INTO stops (stop_id, run_id, route_id, sequence_index, order_id, lat, lon, eta, unassigned)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`)
	if err != nil {
		return fmt.Errorf("save routes: prepare stop insert: %w", err)
	}
	defer stopStmt.Close()

	insertStop := func(s domain.Stop, routeID sql.NullString, unassigned bool) error {
		var eta sql.NullTime
		if s.ETA != nil && !unassigned {
			eta = sql.NullTime{Time: *s.ETA, Valid: true}
		}
		_, err := stopStmt.ExecContext(ctx,
			s.StopID, runID, routeID, s.SequenceIndex, s.OrderID,
			s.Coordinates.Lat, s.Coordinates.Lon, eta, unassigned,
		)
		if err != nil {
			return fmt.Errorf("save routes: insert stop order_id=%s: %w", s.OrderID, err)
		}
		return nil
	}

	for i, r := range routes {
		if _, err := routeStmt.ExecContext(ctx, r.RouteID, runID, r.DriverID, i, r.DistanceMeters, r.DurationSeconds); err != nil {
			return fmt.Errorf("save routes: insert route driver_id=%s: %w", r.DriverID, err)
		}
		for _, s := range r.Stops {
			if err := insertStop(s, sql.NullString{String: r.RouteID, Valid: true}, false); err != nil {
				return err
			}
		}
	}
	for _, s := range unassigned {
		if err := insertStop(s, sql.NullString{}, true); err != nil {
			return err
		}
	}

	return nil
}

func (t *postgresRunTx) UpdateStatus(ctx context.Context, runID string, u domain.StatusUpdate) error {
	var windowStart sql.NullString
	if u.DeliveryWindowStart != nil {
		windowStart = sql.NullString{String: u.DeliveryWindowStart.String(), Valid: true}
	}
	var optimized sql.NullTime
	if u.LastOptimizedAt != nil {
		optimized = sql.NullTime{Time: *u.LastOptimizedAt, Valid: true}
	}

	res, err := t.tx.ExecContext(ctx, `
	UPDATE delivery_runs
	SET status = $2,
		distance_meters = $3,
		duration_seconds = $4,
		last_optimized_at = $5,
		window_start = $6
	WHERE run_id = $1 AND status = $7;
	`, runID, string(u.Status), u.Metrics.DistanceMeters, u.Metrics.DurationSeconds, optimized, windowStart, string(u.Expect))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: rows affected: %w", err)
	}
	if n == 1 {
		return t.checkMembership(ctx, runID, u)
	}

	actual, err := lockRun(ctx, t.tx, runID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return &domain.StatusConflictError{RunID: runID, Expected: u.Expect, Actual: actual}
}

// checkMembership runs after the status UPDATE, which holds the run row lock
// AddOrders also takes, so no membership insert can interleave.
func (t *postgresRunTx) checkMembership(ctx context.Context, runID string, u domain.StatusUpdate) error {
	if u.ExpectOrders == nil {
		return nil
	}

	rows, err := t.tx.QueryContext(ctx, `SELECT order_id FROM run_orders WHERE run_id = $1;`, runID)
	if err != nil {
		return fmt.Errorf("update status: read membership: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("update status: scan membership: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("update status: read membership: %w", err)
	}

	return u.CheckMembership(runID, members)
}

func (t *postgresRunTx) SaveGeocodes(ctx context.Context, updates []domain.GeocodeUpdate) error {
	stmt, err := t.tx.PrepareContext(ctx, `
	UPDATE orders
	SET lat = $2,
		lon = $3,
		geocoded_address = $4
	WHERE order_id = $1;
	`)
	if err != nil {
		return fmt.Errorf("save geocodes: prepare update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.OrderID, u.Coordinates.Lat, u.Coordinates.Lon, u.Address); err != nil {
			return fmt.Errorf("save geocodes: order_id=%s: %w", u.OrderID, err)
		}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lockRun takes a row lock on the run and returns its status.
func lockRun(ctx context.Context, tx *sql.Tx, runID string) (domain.RunStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM delivery_runs WHERE run_id = $1 FOR UPDATE;`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &domain.RunNotFoundError{RunID: runID}
	}
	if err != nil {
		return "", fmt.Errorf("lock run %s: %w", runID, err)
	}
	return domain.ParseRunStatus(status)
}

// upsertOrders inserts orders or refreshes their address, date and service
// time. Stored coordinates are kept; geocoded_address tells whether they
// still apply.
func upsertOrders(ctx context.Context, tx *sql.Tx, orders []domain.Order) error {
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO orders (order_id, address, delivery_date, service_minutes)
	VALUES ($1, $2, $3::date, $4)
	ON CONFLICT (order_id) DO UPDATE
	SET address = EXCLUDED.address,
		delivery_date = EXCLUDED.delivery_date,
		service_minutes = EXCLUDED.service_minutes;
	`)
	if err != nil {
		return fmt.Errorf("prepare order upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		if _, err := stmt.ExecContext(ctx, o.OrderID, o.Address, o.DeliveryDate.String(), o.ServiceMinutes); err != nil {
			return fmt.Errorf("upsert order_id=%s: %w", o.OrderID, err)
		}
	}
	return nil
}

func queryOrders(ctx context.Context, q queryer, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var (
			o        domain.Order
			date     time.Time
			lat, lon sql.NullFloat64
			geocoded sql.NullString
		)
		if err := rows.Scan(&o.OrderID, &o.Address, &date, &o.ServiceMinutes, &lat, &lon, &geocoded); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.DeliveryDate = domain.DateOf(date)
		if lat.Valid && lon.Valid {
			o.Coordinates = &domain.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
			o.GeocodedAddress = geocoded.String
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders row iteration: %w", err)
	}
	return out, nil
}

// readRun loads a run with its children from one snapshot, or returns
// (nil, nil) when no row matches.
func (p *PostgresRunRepository) readRun(ctx context.Context, where string, args ...any) (*domain.DeliveryRun, error) {
	tx, err := p.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	run, err := loadRunRow(ctx, tx, where, args...)
	if err != nil || run == nil {
		return nil, err
	}
	if err := loadChildren(ctx, tx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// loadRunRow reads one delivery_runs row, or returns (nil, nil).
func loadRunRow(ctx context.Context, q queryer, where string, args ...any) (*domain.DeliveryRun, error) {
	var (
		run         domain.DeliveryRun
		date        time.Time
		status      string
		windowStart sql.NullString
		optimized   sql.NullTime
	)

	err := q.QueryRowContext(ctx, `
	SELECT run_id, delivery_date, status, window_start, distance_meters, duration_seconds, last_optimized_at, created_at
	FROM delivery_runs
	`+where+`;`, args...).Scan(
		&run.RunID, &date, &status, &windowStart,
		&run.Metrics.DistanceMeters, &run.Metrics.DurationSeconds, &optimized, &run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery_runs: %w", err)
	}

	run.DeliveryDate = domain.DateOf(date)
	if run.Status, err = domain.ParseRunStatus(status); err != nil {
		return nil, err
	}
	if windowStart.Valid {
		tod, err := domain.ParseTimeOfDay(windowStart.String)
		if err != nil {
			return nil, err
		}
		run.DeliveryWindowStart = &tod
	}
	if optimized.Valid {
		t := optimized.Time
		run.LastOptimizedAt = &t
	}
	return &run, nil
}

// loadChildren fills orders, routes and stops.
func loadChildren(ctx context.Context, tx *sql.Tx, run *domain.DeliveryRun) error {
	var err error
	run.Orders, err = queryOrders(ctx, tx, `
	SELECT o.order_id, o.address, o.delivery_date, o.service_minutes, o.lat, o.lon, o.geocoded_address
	FROM orders o
	JOIN run_orders ro ON ro.order_id = o.order_id
	WHERE ro.run_id = $1
	ORDER BY o.order_id;
	`, run.RunID)
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `
	SELECT route_id, driver_id, distance_meters, duration_seconds
	FROM routes
	WHERE run_id = $1
	ORDER BY position;
	`, run.RunID)
	if err != nil {
		return fmt.Errorf("query routes: %w", err)
	}
	index := map[string]int{}
	for rows.Next() {
		r := domain.Route{RunID: run.RunID, Stops: []domain.Stop{}}
		if err := rows.Scan(&r.RouteID, &r.DriverID, &r.DistanceMeters, &r.DurationSeconds); err != nil {
			rows.Close()
			return fmt.Errorf("scan route: %w", err)
		}
		index[r.RouteID] = len(run.Routes)
		run.Routes = append(run.Routes, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("routes row iteration: %w", err)
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, `
	SELECT stop_id, route_id, sequence_index, order_id, lat, lon, eta, unassigned
	FROM stops
	WHERE run_id = $1
	ORDER BY unassigned, route_id, sequence_index;
	`, run.RunID)
	if err != nil {
		return fmt.Errorf("query stops: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s       domain.Stop
			routeID sql.NullString
			eta     sql.NullTime
		)
		if err := rows.Scan(&s.StopID, &routeID, &s.SequenceIndex, &s.OrderID,
			&s.Coordinates.Lat, &s.Coordinates.Lon, &eta, &s.Unassigned); err != nil {
			return fmt.Errorf("scan stop: %w", err)
		}
		s.RunID = run.RunID
		s.RouteID = routeID.String
		if eta.Valid {
			t := eta.Time
			s.ETA = &t
		}

		if s.Unassigned {
			run.Unassigned = append(run.Unassigned, s)
			continue
		}
		i, ok := index[s.RouteID]
		if !ok {
			return fmt.Errorf("stop %s references unknown route %s", s.StopID, s.RouteID)
		}
		run.Routes[i].Stops = append(run.Routes[i].Stops, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("stops row iteration: %w", err)
	}
	return nil
}
