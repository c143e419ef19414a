package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/example/agro-freight/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const shipmentColumns = `id, client_id, transporter_id, vehicle_id, product_type, quantity, weight,
	pickup_address, pickup_lat, pickup_lon, pickup_date,
	delivery_address, delivery_lat, delivery_lon, delivery_date,
	route_distance, route_duration, route_polyline,
	status, price, price_status, estimated_price, current_lat, current_lon, notes,
	created_at, updated_at`

func (p *PostgresStore) CreateShipment(ctx context.Context, s *models.Shipment, seed models.TrackingEvent) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO shipments(`+shipmentColumns+`)
			VALUES($1,$2,NULL,NULL,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULL,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
			s.ID, s.ClientID, s.ProductType, s.Quantity, s.Weight,
			s.Pickup.Address, s.Pickup.Location.Lat, s.Pickup.Location.Lon, s.Pickup.Date,
			s.Delivery.Address, s.Delivery.Location.Lat, s.Delivery.Location.Lon,
			s.Route.Distance, s.Route.Duration, s.Route.Polyline,
			s.Status, s.Price, s.PriceStatus, s.EstimatedPrice, s.CurrentLocation.Lat, s.CurrentLocation.Lon, s.Notes,
			s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return translate(err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO tracking_records(shipment_id, created_at, updated_at) VALUES($1,$2,$2)`, s.ID, s.CreatedAt); err != nil {
			return translate(err)
		}
		return insertEvent(ctx, tx, s.ID, seed)
	})
}

func (p *PostgresStore) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id=$1`, id)
	return scanShipment(row)
}

func (p *PostgresStore) ListShipments(ctx context.Context, f ShipmentFilter) ([]models.Shipment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ClientID != "" {
		add("client_id=$%d", f.ClientID)
	}
	if f.TransporterID != "" {
		add("transporter_id=$%d", f.TransporterID)
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	q := `SELECT ` + shipmentColumns + ` FROM shipments`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Shipment, 0)
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AcceptShipment(ctx context.Context, a AcceptParams) (*models.Shipment, error) {
	var out *models.Shipment
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE vehicles SET is_available=false, updated_at=$3
			WHERE id=$1 AND transporter_id=$2 AND is_available`, a.VehicleID, a.TransporterID, a.At)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var owner string
			err := tx.QueryRowContext(ctx, `SELECT transporter_id FROM vehicles WHERE id=$1`, a.VehicleID).Scan(&owner)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err != nil || owner != a.TransporterID {
				return fmt.Errorf("vehicle %s: %w", a.VehicleID, ErrNotFound)
			}
			return fmt.Errorf("vehicle %s: %w", a.VehicleID, ErrVehicleBusy)
		}

		row := tx.QueryRowContext(ctx, `UPDATE shipments
			SET transporter_id=$2, vehicle_id=$3, status='accepted',
				estimated_price=CASE WHEN $4::double precision > 0 THEN $4::double precision ELSE estimated_price END, updated_at=$5
			WHERE id=$1 AND status='pending'
			RETURNING `+shipmentColumns, a.ShipmentID, a.TransporterID, a.VehicleID, a.EstimatedPrice, a.At)
		s, err := scanShipment(row)
		if errors.Is(err, ErrNotFound) {
			return shipmentConflict(ctx, tx, a.ShipmentID, "", "")
		}
		if err != nil {
			return err
		}
		if err := touchTracking(ctx, tx, s.ID, a.At); err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, s.ID, a.Event); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (p *PostgresStore) TransitionShipment(ctx context.Context, t TransitionParams) (*models.Shipment, error) {
	var out *models.Shipment
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		q := `UPDATE shipments SET status=$3, updated_at=$4,
				delivery_date=CASE WHEN $3::text = 'delivered' THEN $4::timestamptz ELSE delivery_date END
			WHERE id=$1 AND status=$2`
		args := []any{t.ShipmentID, string(t.From), string(t.To), t.At}
		if t.TransporterID != "" {
			args = append(args, t.TransporterID)
			q += fmt.Sprintf(" AND transporter_id=$%d", len(args))
		}
		if t.ClientID != "" {
			args = append(args, t.ClientID)
			q += fmt.Sprintf(" AND client_id=$%d", len(args))
		}
		s, err := scanShipment(tx.QueryRowContext(ctx, q+" RETURNING "+shipmentColumns, args...))
		if errors.Is(err, ErrNotFound) {
			return shipmentConflict(ctx, tx, t.ShipmentID, t.TransporterID, t.ClientID)
		}
		if err != nil {
			return err
		}
		if t.ReleaseVehicle && s.VehicleID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE vehicles SET is_available=true, updated_at=$2 WHERE id=$1`, s.VehicleID, t.At); err != nil {
				return err
			}
		}
		if t.CountDelivery && s.Transporter != "" {
			if _, err := tx.ExecContext(ctx, `INSERT INTO transporters(id, is_available, total_deliveries, rating, updated_at)
				VALUES($1, true, 1, 0, $2)
				ON CONFLICT (id) DO UPDATE SET total_deliveries = transporters.total_deliveries + 1, updated_at = $2`,
				s.Transporter, t.At); err != nil {
				return err
			}
		}
		if t.Event != nil {
			if err := touchTracking(ctx, tx, s.ID, t.At); err != nil {
				return err
			}
			if err := insertEvent(ctx, tx, s.ID, *t.Event); err != nil {
				return err
			}
		}
		out = s
		return nil
	})
	return out, err
}

// shipmentConflict tells a missing row apart from one in the wrong state after a
// guarded UPDATE matched nothing.
func shipmentConflict(ctx context.Context, tx *sql.Tx, id, transporterID, clientID string) error {
	var (
		status, client string
		transporter    sql.NullString
	)
	err := tx.QueryRowContext(ctx, `SELECT status, client_id, transporter_id FROM shipments WHERE id=$1`, id).
		Scan(&status, &client, &transporter)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if (transporterID != "" && transporter.String != transporterID) || (clientID != "" && client != clientID) {
		return ErrNotFound
	}
	return fmt.Errorf("shipment %s is %s: %w", id, status, ErrConflict)
}

func (p *PostgresStore) AppendLocation(ctx context.Context, shipmentID, transporterID string, sample models.LocationSample) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var vehicleID sql.NullString
		err := tx.QueryRowContext(ctx, `UPDATE shipments SET current_lat=$3, current_lon=$4, updated_at=$5
			WHERE id=$1 AND transporter_id=$2 AND status='in_transit'
			RETURNING vehicle_id`,
			shipmentID, transporterID, sample.Coordinates.Lat, sample.Coordinates.Lon, sample.Timestamp).Scan(&vehicleID)
		if errors.Is(err, sql.ErrNoRows) {
			var owner sql.NullString
			err := tx.QueryRowContext(ctx, `SELECT transporter_id FROM shipments WHERE id=$1`, shipmentID).Scan(&owner)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if err != nil || owner.String != transporterID {
				return ErrNotFound
			}
			return fmt.Errorf("shipment %s not in transit: %w", shipmentID, ErrConflict)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO tracking_locations(shipment_id, lat, lon, speed, heading, recorded_at)
			VALUES($1,$2,$3,$4,$5,$6)`,
			shipmentID, sample.Coordinates.Lat, sample.Coordinates.Lon, sample.Speed, sample.Heading, sample.Timestamp); err != nil {
			return err
		}
		if vehicleID.Valid {
			if _, err := tx.ExecContext(ctx, `UPDATE vehicles SET current_lat=$2, current_lon=$3 WHERE id=$1`,
				vehicleID.String, sample.Coordinates.Lat, sample.Coordinates.Lon); err != nil {
				return err
			}
		}
		return touchTracking(ctx, tx, shipmentID, sample.Timestamp)
	})
}

func (p *PostgresStore) AppendEvent(ctx context.Context, shipmentID string, ev models.TrackingEvent) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		if err := touchTracking(ctx, tx, shipmentID, ev.Timestamp); err != nil {
			return err
		}
		return insertEvent(ctx, tx, shipmentID, ev)
	})
}

func (p *PostgresStore) GetTracking(ctx context.Context, shipmentID string) (*models.TrackingRecord, error) {
	tr := &models.TrackingRecord{ShipmentID: shipmentID, Locations: []models.LocationSample{}, Events: []models.TrackingEvent{}}
	err := p.db.QueryRowContext(ctx, `SELECT created_at, updated_at FROM tracking_records WHERE shipment_id=$1`, shipmentID).
		Scan(&tr.CreatedAt, &tr.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `SELECT lat, lon, speed, heading, recorded_at FROM tracking_locations
		WHERE shipment_id=$1 ORDER BY id`, shipmentID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var l models.LocationSample
		if err := rows.Scan(&l.Coordinates.Lat, &l.Coordinates.Lon, &l.Speed, &l.Heading, &l.Timestamp); err != nil {
			rows.Close()
			return nil, err
		}
		tr.Locations = append(tr.Locations, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `SELECT type, lat, lon, note, recorded_at FROM tracking_events
		WHERE shipment_id=$1 ORDER BY id`, shipmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e        models.TrackingEvent
			lat, lon sql.NullFloat64
			note     sql.NullString
		)
		if err := rows.Scan(&e.Type, &lat, &lon, &note, &e.Timestamp); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid {
			e.Location = &models.Coord{Lat: lat.Float64, Lon: lon.Float64}
		}
		e.Note = note.String
		tr.Events = append(tr.Events, e)
	}
	return tr, rows.Err()
}

const vehicleColumns = `id, transporter_id, vehicle_type, capacity, license_plate, model, year, is_available,
	current_lat, current_lon, created_at, updated_at`

func (p *PostgresStore) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO vehicles(`+vehicleColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		v.ID, v.TransporterID, string(v.Type), v.Capacity, strings.ToUpper(v.LicensePlate), v.Model, v.Year, v.IsAvailable,
		v.CurrentLocation.Lat, v.CurrentLocation.Lon, v.CreatedAt, v.UpdatedAt)
	return translate(err)
}

func (p *PostgresStore) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	return scanVehicle(p.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id=$1`, id))
}

func (p *PostgresStore) ListVehicles(ctx context.Context, transporterID string) ([]models.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE transporter_id=$1 ORDER BY created_at`, transporterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Vehicle, 0)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

const transporterColumns = `is_available, total_deliveries, rating,
	ai_category, ai_total_trips, ai_consistency, ai_rated_at, updated_at`

func (p *PostgresStore) GetTransporter(ctx context.Context, id string) (*models.Transporter, error) {
	t, err := scanTransporter(id, p.db.QueryRowContext(ctx, `SELECT `+transporterColumns+` FROM transporters WHERE id=$1`, id))
	if errors.Is(err, ErrNotFound) {
		return newTransporter(id), nil
	}
	if err != nil {
		return nil, err
	}
	if t.RatingHistory, err = ratingHistory(ctx, p.db, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) SetTransporterAvailability(ctx context.Context, id string, available bool, at time.Time) (*models.Transporter, error) {
	if _, err := p.db.ExecContext(ctx, `INSERT INTO transporters(id, is_available, total_deliveries, rating, updated_at)
		VALUES($1, $2, 0, 0, $3)
		ON CONFLICT (id) DO UPDATE SET is_available = $2, updated_at = $3`, id, available, at); err != nil {
		return nil, err
	}
	return p.GetTransporter(ctx, id)
}

func (p *PostgresStore) RecordTransporterRating(ctx context.Context, id string, r models.AIRating) (*models.Transporter, error) {
	var out *models.Transporter
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		t, err := scanTransporter(id, tx.QueryRowContext(ctx, `INSERT INTO transporters(id, is_available, total_deliveries, rating,
				ai_category, ai_total_trips, ai_consistency, ai_rated_at, updated_at)
			VALUES($1, true, 0, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (id) DO UPDATE SET rating = $2, ai_category = $3, ai_total_trips = $4,
				ai_consistency = $5, ai_rated_at = $6, updated_at = $6
			RETURNING `+transporterColumns, id, r.Score, r.Category, r.TotalTrips, r.Consistency, r.LastUpdated))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO transporter_rating_history(transporter_id, score, category, recorded_at)
			VALUES($1, $2, $3, $4)`, id, r.Score, r.Category, r.LastUpdated); err != nil {
			return err
		}
		if t.RatingHistory, err = ratingHistory(ctx, tx, id); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func ratingHistory(ctx context.Context, q queryer, id string) ([]models.RatingEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT score, category, recorded_at FROM transporter_rating_history
		WHERE transporter_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RatingEntry
	for rows.Next() {
		var e models.RatingEntry
		if err := rows.Scan(&e.Score, &e.Category, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanTransporter(id string, row scanner) (*models.Transporter, error) {
	t := &models.Transporter{ID: id}
	var (
		category    sql.NullString
		trips       sql.NullInt64
		consistency sql.NullFloat64
		ratedAt     sql.NullTime
	)
	err := row.Scan(&t.IsAvailable, &t.TotalDeliveries, &t.Rating, &category, &trips, &consistency, &ratedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ratedAt.Valid {
		t.AIRating = &models.AIRating{
			Score:       t.Rating,
			Category:    category.String,
			TotalTrips:  int(trips.Int64),
			Consistency: consistency.Float64,
			LastUpdated: ratedAt.Time.UTC(),
		}
	}
	return t, nil
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func touchTracking(ctx context.Context, tx *sql.Tx, shipmentID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE tracking_records SET updated_at=$2 WHERE shipment_id=$1`, shipmentID, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tracking %s: %w", shipmentID, ErrNotFound)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, shipmentID string, ev models.TrackingEvent) error {
	var lat, lon sql.NullFloat64
	if ev.Location != nil {
		lat = sql.NullFloat64{Float64: ev.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: ev.Location.Lon, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO tracking_events(shipment_id, type, lat, lon, note, recorded_at) VALUES($1,$2,$3,$4,$5,$6)`,
		shipmentID, string(ev.Type), lat, lon, ev.Note, ev.Timestamp)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShipment(row scanner) (*models.Shipment, error) {
	var (
		s            models.Shipment
		transporter  sql.NullString
		vehicle      sql.NullString
		deliveryDate sql.NullTime
		notes        sql.NullString
		polyline     sql.NullString
	)
	err := row.Scan(&s.ID, &s.ClientID, &transporter, &vehicle, &s.ProductType, &s.Quantity, &s.Weight,
		&s.Pickup.Address, &s.Pickup.Location.Lat, &s.Pickup.Location.Lon, &s.Pickup.Date,
		&s.Delivery.Address, &s.Delivery.Location.Lat, &s.Delivery.Location.Lon, &deliveryDate,
		&s.Route.Distance, &s.Route.Duration, &polyline,
		&s.Status, &s.Price, &s.PriceStatus, &s.EstimatedPrice, &s.CurrentLocation.Lat, &s.CurrentLocation.Lon, &notes,
		&s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Transporter = transporter.String
	s.VehicleID = vehicle.String
	s.Notes = notes.String
	s.Route.Polyline = polyline.String
	if deliveryDate.Valid {
		d := deliveryDate.Time
		s.Delivery.Date = &d
	}
	return &s, nil
}

func scanVehicle(row scanner) (*models.Vehicle, error) {
	var v models.Vehicle
	err := row.Scan(&v.ID, &v.TransporterID, &v.Type, &v.Capacity, &v.LicensePlate, &v.Model, &v.Year, &v.IsAvailable,
		&v.CurrentLocation.Lat, &v.CurrentLocation.Lon, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// translate maps postgres unique violations onto ErrDuplicate.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pqErr.Constraint, ErrDuplicate)
	}
	return err
}
