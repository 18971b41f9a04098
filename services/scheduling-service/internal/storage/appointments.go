package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmendozar/citadesk/libs/db"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/booking"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

const appointmentColumns = `
	id::text, client_id::text, office_id::text, service_id::text,
	start_time, end_time, state, attendance, attendance_code,
	cancel_before, COALESCE(note, ''), created_at, updated_at`

// AppointmentRepository is the pgx booking.Ledger. Reserve serializes
// contending writers with transaction-scoped advisory locks and re-checks
// capacity, quota and the duplicate guard while holding them; a partial
// unique index on (client_id, office_id, start_time) backstops the guard.
type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) StartCounts(ctx context.Context, officeID string, date time.Time) (map[int]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, COUNT(*)
		FROM appointments
		WHERE office_id = $1
			AND start_time >= $2
			AND start_time < $2 + INTERVAL '1 day'
			AND state <> 'CANCELLED'
		GROUP BY start_time
	`, officeID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var start time.Time
		var n int
		if err := rows.Scan(&start, &n); err != nil {
			return nil, err
		}
		local := start.In(date.Location())
		counts[local.Hour()*60+local.Minute()] = n
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

func (r *AppointmentRepository) CountPending(ctx context.Context, clientID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE client_id = $1 AND state = 'PENDING'
	`, clientID).Scan(&n)
	return n, err
}

func (r *AppointmentRepository) HasActiveAt(ctx context.Context, clientID, officeID string, start time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE client_id = $1 AND office_id = $2 AND start_time = $3 AND state <> 'CANCELLED'
		)
	`, clientID, officeID, start).Scan(&exists)
	return exists, err
}

// Reserve inserts the appointment after re-validating capacity and quota
// under advisory locks keyed by the slot and by the client. Both lock keys
// are taken in a fixed order so contending transactions cannot deadlock.
func (r *AppointmentRepository) Reserve(ctx context.Context, appt model.Appointment, capacity, quota int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slotKey := fmt.Sprintf("slot:%s:%d", appt.OfficeID, appt.Start.Unix())
	clientKey := "client:" + appt.ClientID
	for _, key := range []string{slotKey, clientKey} {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return err
		}
	}

	var taken int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE office_id = $1 AND start_time = $2 AND state <> 'CANCELLED'
	`, appt.OfficeID, appt.Start).Scan(&taken)
	if err != nil {
		return err
	}
	if taken >= capacity {
		return booking.ErrCapacityExhausted
	}

	var pending int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE client_id = $1 AND state = 'PENDING'
	`, appt.ClientID).Scan(&pending)
	if err != nil {
		return err
	}
	if pending >= quota {
		return booking.ErrQuotaExhausted
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments
			(id, client_id, office_id, service_id, start_time, end_time,
			state, attendance, attendance_code, cancel_before, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, appt.ID, appt.ClientID, appt.OfficeID, appt.ServiceID, appt.Start, appt.End,
		appt.State, appt.Attendance, appt.AttendanceCode, appt.CancelBefore, appt.Note, appt.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return booking.ErrDuplicateStart
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *AppointmentRepository) Get(ctx context.Context, appointmentID string) (model.Appointment, bool, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, appointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

func (r *AppointmentRepository) ListPending(ctx context.Context, clientID string, from time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1 AND state = 'PENDING' AND start_time >= $2
		ORDER BY start_time ASC
	`, clientID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// Cancel flips PENDING to CANCELLED. The state guard in the WHERE clause
// makes concurrent cancels and counter attendance marks lose cleanly.
func (r *AppointmentRepository) Cancel(ctx context.Context, appointmentID string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET state = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND state = 'PENDING'
		RETURNING `+appointmentColumns,
		appointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, booking.ErrStateChanged
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.ClientID,
		&appt.OfficeID,
		&appt.ServiceID,
		&appt.Start,
		&appt.End,
		&appt.State,
		&appt.Attendance,
		&appt.AttendanceCode,
		&appt.CancelBefore,
		&appt.Note,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	return appt, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
