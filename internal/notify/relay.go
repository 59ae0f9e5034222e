// Package notify relays confirmed bookings from the event log to customers
// as WhatsApp confirmation messages.
package notify

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"bookingagent/internal/database"
	"bookingagent/internal/events"
	"bookingagent/internal/metrics"
	"bookingagent/internal/otp"
)

// TemplateBookingConfirmed is the gateway template used for confirmations.
// Params: booking ID, name, service, package, event date, service country.
const TemplateBookingConfirmed = "booking_confirmation"

// Messenger sends a message template to a phone number.
type Messenger interface {
	SendTemplate(ctx context.Context, phone, template, lang string, params ...string) error
}

// EventStore is the outbox the relay drains.
type EventStore interface {
	PendingEventsOfType(ctx context.Context, eventType string, limit int) ([]events.Event, error)
	MarkEventProcessed(ctx context.Context, id int64) error
}

// BookingLookup loads the booking an event refers to.
type BookingLookup interface {
	GetBooking(ctx context.Context, id string) (*database.Booking, error)
}

// Config holds relay settings.
type Config struct {
	// Interval between outbox polls. Default: 30s.
	Interval time.Duration
	// BatchSize is the most events handled per poll. Default: 50.
	BatchSize int
	// RatePerSecond caps gateway sends. Default: 5.
	RatePerSecond float64
	// Burst is the token bucket size. Default: 10.
	Burst int
	// MaxConcurrent limits parallel sends. Default: 4.
	MaxConcurrent int
	// JitterMax spreads sends by up to this much. Zero disables jitter.
	JitterMax time.Duration
}

func (c *Config) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
}

// Relay sends a confirmation message for every booking.confirmed event.
// Transient gateway failures leave the event pending for the next poll;
// anything else marks it processed so one bad row cannot block the outbox.
type Relay struct {
	cfg      Config
	events   EventStore
	bookings BookingLookup
	sender   Messenger
	limiter  *rate.Limiter
	logger   *zerolog.Logger
}

func NewRelay(cfg Config, store EventStore, bookings BookingLookup, sender Messenger, logger *zerolog.Logger) *Relay {
	cfg.withDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Relay{
		cfg:      cfg,
		events:   store,
		bookings: bookings,
		sender:   sender,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:   logger,
	}
}

// Start polls until ctx is done. The first poll runs immediately.
func (r *Relay) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("Notification relay started")

	r.poll(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Notification relay stopped")
			return
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

func (r *Relay) poll(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error().Err(err).Msg("Notification relay poll failed")
	}
}

// RunOnce handles one batch and returns how many messages were sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.events.PendingEventsOfType(ctx, events.TypeBookingConfirmed, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	r.logger.Debug().Int("count", len(pending)).Msg("Relaying booking confirmations")

	var sent atomic.Int64
	sem := make(chan struct{}, r.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for _, e := range pending {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return int(sent.Load()), ctx.Err()
		}
		wg.Add(1)
		go func(e events.Event) {
			defer wg.Done()
			defer func() { <-sem }()
			if r.relay(ctx, e) {
				sent.Add(1)
			}
		}(e)
	}
	wg.Wait()
	return int(sent.Load()), nil
}

// relay handles one event and reports whether a message went out.
func (r *Relay) relay(ctx context.Context, e events.Event) bool {
	log := r.logger.With().Int64("event_id", e.ID).Logger()

	var payload events.BookingConfirmed
	if err := e.Decode(&payload); err != nil {
		log.Error().Err(err).Msg("Undecodable booking event, skipping")
		r.finish(ctx, e.ID, "skipped")
		return false
	}

	b, err := r.bookings.GetBooking(ctx, payload.BookingID)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn().Str("booking_id", payload.BookingID).Msg("Booking for event not found, skipping")
		r.finish(ctx, e.ID, "skipped")
		return false
	}
	if err != nil {
		log.Error().Err(err).Str("booking_id", payload.BookingID).Msg("Load booking failed")
		return false
	}

	if err := r.wait(ctx); err != nil {
		return false
	}

	start := time.Now()
	err = r.sender.SendTemplate(ctx, b.Phone, TemplateBookingConfirmed, b.Language,
		b.ID, b.Name, b.Service, b.Package, b.EventDate, b.ServiceCountry)
	metrics.ObserveNotification(time.Since(start))

	switch {
	case err == nil:
		log.Info().Str("booking_id", b.ID).Msg("Booking confirmation sent")
		r.finish(ctx, e.ID, "sent")
		return true
	case errors.Is(err, otp.ErrTransient):
		metrics.IncNotification("retry")
		log.Warn().Err(err).Str("booking_id", b.ID).Msg("Confirmation send failed, will retry")
		return false
	default:
		log.Error().Err(err).Str("booking_id", b.ID).Msg("Confirmation send failed permanently")
		r.finish(ctx, e.ID, "failed")
		return false
	}
}

func (r *Relay) finish(ctx context.Context, id int64, status string) {
	metrics.IncNotification(status)
	if err := r.events.MarkEventProcessed(ctx, id); err != nil {
		r.logger.Error().Err(err).Int64("event_id", id).Msg("Mark event processed failed")
	}
}

func (r *Relay) wait(ctx context.Context) error {
	if r.cfg.JitterMax > 0 {
		jitter := time.Duration(rand.Int64N(int64(r.cfg.JitterMax)))
		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.limiter.Wait(ctx)
}
