package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/trip-sync/internal/models"
)

// Postgres stores trips, messages and audit events in Postgres and fans
// every committed mutation out on the change feed. All state-changing
// trip writes are conditional and report the affected-row count through
// their boolean return.
type Postgres struct {
	db  *sql.DB
	pub ChangePublisher // optional
}

func NewPostgres(dsn string, pub ChangePublisher) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db, pub: pub}, nil
}

func (p *Postgres) publishTrip(ctx context.Context, kind string, t *models.Trip) {
	if p.pub == nil {
		return
	}
	_ = p.pub.PublishChange(ctx, models.ChangeEvent{Table: models.ChangeTableTrips, Kind: kind, Trip: t})
}

const tripColumns = `id, status, version, requester_id, fulfiller_id,
	origin_address, origin_lat, origin_lng, dest_address, dest_lat, dest_lng,
	price, original_price, distance_km, duration_min, payment_method, service_type,
	stops, waiting_time_minutes, waiting_time_cost, route_adjustment_cost,
	security_pin, stop_wait, created_at, updated_at`

func (p *Postgres) CreateTrip(ctx context.Context, t *models.Trip) error {
	stops, err := json.Marshal(t.Stops)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO trips(`+tripColumns+`)
		VALUES($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,NULLIF($22,''),$23,$24,$25)`,
		t.ID, string(t.Status), t.Version, t.RequesterID, t.FulfillerID,
		t.OriginAddress, t.OriginLat, t.OriginLng, t.DestAddress, t.DestLat, t.DestLng,
		t.Price, t.OriginalPrice, t.DistanceKm, t.DurationMin, t.PaymentMethod, t.ServiceType,
		stops, t.WaitingTimeMinutes, t.WaitingTimeCost, t.RouteAdjustCost,
		t.SecurityPin, t.StopWait, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	p.publishTrip(ctx, models.ChangeInsert, t)
	return nil
}

func (p *Postgres) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id)
	return scanTrip(row)
}

func (p *Postgres) ActiveTripFor(ctx context.Context, actorID string, role models.Role) (*models.Trip, error) {
	col := "requester_id"
	if role == models.RoleFulfiller {
		col = "fulfiller_id"
	}
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips
		WHERE `+col+`=$1 AND status NOT IN ('COMPLETED','CANCELLED')
		ORDER BY created_at DESC LIMIT 1`, actorID)
	return scanTrip(row)
}

func (p *Postgres) UpdateTrip(ctx context.Context, t *models.Trip, expectedVersion int64) (bool, error) {
	stops, err := json.Marshal(t.Stops)
	if err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET
		status=$1, version=$2, fulfiller_id=NULLIF($3,''),
		price=$4, original_price=$5, stops=$6,
		waiting_time_minutes=$7, waiting_time_cost=$8, route_adjustment_cost=$9,
		stop_wait=$10, updated_at=$11
		WHERE id=$12 AND version=$13`,
		string(t.Status), t.Version, t.FulfillerID,
		t.Price, t.OriginalPrice, stops,
		t.WaitingTimeMinutes, t.WaitingTimeCost, t.RouteAdjustCost,
		t.StopWait, t.UpdatedAt, t.ID, expectedVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	p.publishTrip(ctx, models.ChangeUpdate, t)
	return true, nil
}

func (p *Postgres) ClaimTrip(ctx context.Context, tripID, fulfillerID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET
		status='ACCEPTED', fulfiller_id=$1, version=version+1, updated_at=$2
		WHERE id=$3 AND status='REQUESTING' AND fulfiller_id IS NULL`,
		fulfillerID, time.Now(), tripID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if t, err := p.GetTrip(ctx, tripID); err == nil {
		p.publishTrip(ctx, models.ChangeUpdate, t)
	}
	return true, nil
}

func (p *Postgres) OpenRequests(ctx context.Context, window time.Duration) ([]*models.Trip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tripColumns+` FROM trips
		WHERE status='REQUESTING' AND fulfiller_id IS NULL AND created_at > $1
		ORDER BY created_at DESC`, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendEvent(ctx context.Context, ev models.TripEvent) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO trip_events(trip_id, event_type, actor, payload, ts) VALUES($1,$2,$3,$4,$5)`,
		ev.TripID, ev.EventType, ev.Actor, ev.Payload, ev.Timestamp)
	return err
}

func (p *Postgres) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO messages(id, trip_id, sender_id, content, status, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		m.ID, m.TripID, m.SenderID, m.Content, string(m.Status), m.CreatedAt)
	if err != nil {
		return err
	}
	if p.pub != nil {
		_ = p.pub.PublishChange(ctx, models.ChangeEvent{Table: models.ChangeTableMessages, Kind: models.ChangeInsert, Message: m})
	}
	return nil
}

func (p *Postgres) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE messages SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if p.pub != nil {
		row := p.db.QueryRowContext(ctx,
			`SELECT id, trip_id, sender_id, content, status, created_at FROM messages WHERE id=$1`, id)
		var m models.Message
		var st string
		if err := row.Scan(&m.ID, &m.TripID, &m.SenderID, &m.Content, &st, &m.CreatedAt); err == nil {
			m.Status = models.MessageStatus(st)
			_ = p.pub.PublishChange(ctx, models.ChangeEvent{Table: models.ChangeTableMessages, Kind: models.ChangeUpdate, Message: &m})
		}
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var t models.Trip
	var status string
	var fulfiller, pin sql.NullString
	var stops []byte
	err := row.Scan(&t.ID, &status, &t.Version, &t.RequesterID, &fulfiller,
		&t.OriginAddress, &t.OriginLat, &t.OriginLng, &t.DestAddress, &t.DestLat, &t.DestLng,
		&t.Price, &t.OriginalPrice, &t.DistanceKm, &t.DurationMin, &t.PaymentMethod, &t.ServiceType,
		&stops, &t.WaitingTimeMinutes, &t.WaitingTimeCost, &t.RouteAdjustCost,
		&pin, &t.StopWait, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.TripStatus(status)
	t.FulfillerID = fulfiller.String
	t.SecurityPin = pin.String
	if len(stops) > 0 {
		if err := json.Unmarshal(stops, &t.Stops); err != nil {
			return nil, err
		}
	}
	return &t, nil
}
