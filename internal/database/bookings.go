package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookingagent/internal/booking"
)

// SourceAgentChat marks bookings created through the chat agent.
const SourceAgentChat = "agent_chat"

// Booking is a confirmed booking row.
type Booking struct {
	ID             string    `json:"booking_id"`
	SessionID      string    `json:"session_id"`
	Service        string    `json:"service"`
	Package        string    `json:"package"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	PhoneCountry   string    `json:"phone_country,omitempty"`
	ServiceCountry string    `json:"service_country"`
	Address        string    `json:"address"`
	Pincode        string    `json:"pincode"`
	EventDate      string    `json:"event_date"`
	Message        string    `json:"message,omitempty"`
	Language       string    `json:"language"`
	Source         string    `json:"source"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`

	// ConfirmationKey identifies the code verification that produced the
	// booking. Empty for bookings inserted by other means.
	ConfirmationKey string `json:"-"`
}

// NewBookingID returns an ID of the form BK-1A2B3C4D.
func NewBookingID() string {
	return "BK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// ConfirmationKey derives the idempotency key of a session's pending code.
// It is empty when no code was issued.
func ConfirmationKey(s booking.Session) string {
	if s.Pending == nil {
		return ""
	}
	return s.ID + ":" + s.Pending.IssuedAt.UTC().Format(time.RFC3339Nano)
}

// SaveBooking stores the session's collected intent as a confirmed booking
// and returns its ID. Saving the same verified code twice returns the first
// booking's ID with created set to false.
func (db *DB) SaveBooking(ctx context.Context, s booking.Session, source string) (id string, created bool, err error) {
	if source == "" {
		source = SourceAgentChat
	}
	i := s.Intent
	b := &Booking{
		ID:              NewBookingID(),
		SessionID:       s.ID,
		Service:         i.Get(booking.FieldService),
		Package:         i.Get(booking.FieldPackage),
		Name:            i.Get(booking.FieldName),
		Email:           i.Get(booking.FieldEmail),
		Phone:           i.Get(booking.FieldPhone),
		PhoneCountry:    i.Get(booking.FieldPhoneCountry),
		ServiceCountry:  i.Get(booking.FieldServiceCountry),
		Address:         i.Get(booking.FieldAddress),
		Pincode:         i.Get(booking.FieldPincode),
		EventDate:       i.Get(booking.FieldEventDate),
		Message:         i.Get(booking.FieldMessage),
		Language:        string(s.Language),
		Source:          source,
		Status:          "confirmed",
		CreatedAt:       time.Now().UTC(),
		ConfirmationKey: ConfirmationKey(s),
	}
	created, err = db.InsertBooking(ctx, b)
	if err != nil {
		return "", false, err
	}
	if created {
		return b.ID, true, nil
	}

	err = db.QueryRowContext(ctx, `SELECT id FROM bookings WHERE confirmation_key = ?`, b.ConfirmationKey).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("find booking for %s: %w", b.ConfirmationKey, err)
	}
	return id, false, nil
}

// InsertBooking writes b as is. It reports false when a booking with the
// same confirmation key already exists.
func (db *DB) InsertBooking(ctx context.Context, b *Booking) (bool, error) {
	var key sql.NullString
	if b.ConfirmationKey != "" {
		key = sql.NullString{String: b.ConfirmationKey, Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO bookings (id, session_id, service, package, name, email, phone, phone_country,
		                      service_country, address, pincode, event_date, message, language,
		                      source, status, created_at, confirmation_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(confirmation_key) DO NOTHING`,
		b.ID, b.SessionID, b.Service, b.Package, b.Name, b.Email, b.Phone, b.PhoneCountry,
		b.ServiceCountry, b.Address, b.Pincode, b.EventDate, b.Message, b.Language,
		b.Source, b.Status, b.CreatedAt.UTC(), key)
	if err != nil {
		return false, fmt.Errorf("insert booking %s: %w", b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert booking %s: %w", b.ID, err)
	}
	return n > 0, nil
}

const bookingColumns = `id, session_id, service, package, name, email, phone, phone_country,
	service_country, address, pincode, event_date, message, language, source, status, created_at`

func scanBooking(row interface{ Scan(...any) error }) (Booking, error) {
	var b Booking
	var phoneCountry, message sql.NullString
	err := row.Scan(&b.ID, &b.SessionID, &b.Service, &b.Package, &b.Name, &b.Email, &b.Phone,
		&phoneCountry, &b.ServiceCountry, &b.Address, &b.Pincode, &b.EventDate, &message,
		&b.Language, &b.Source, &b.Status, &b.CreatedAt)
	b.PhoneCountry = phoneCountry.String
	b.Message = message.String
	return b, err
}

// GetBooking returns a booking by ID.
func (db *DB) GetBooking(ctx context.Context, id string) (*Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", id, err)
	}
	return &b, nil
}

// ListBookings returns bookings created in [from, to), oldest first.
func (db *DB) ListBookings(ctx context.Context, from, to time.Time) ([]Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at, id`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
