// Package report builds the monthly booking workbook.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"bookingagent/internal/booking"
	"bookingagent/internal/database"
)

// Sheet names.
const (
	SheetBookings = "Bookings"
	SheetSummary  = "Summary"
)

var bookingColumns = []string{
	"Booking ID", "Created", "Service", "Package", "Name", "Email", "Phone",
	"Service country", "Address", "Pincode", "Event date", "Language", "Source", "Status",
}

// BookingSource lists bookings created in [from, to).
type BookingSource interface {
	ListBookings(ctx context.Context, from, to time.Time) ([]database.Booking, error)
}

// Service exports bookings to Excel.
type Service struct {
	source    BookingSource
	newWriter func() ExcelWriter
	logger    *zerolog.Logger
	now       func() time.Time
}

// NewService creates a report service. A nil writer factory uses excelize.
func NewService(source BookingSource, newWriter func() ExcelWriter, logger *zerolog.Logger) *Service {
	if newWriter == nil {
		newWriter = NewExcelizeWriter
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{source: source, newWriter: newWriter, logger: logger, now: time.Now}
}

// ParseMonth parses "YYYY-MM" into the first instant of that month in UTC.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("month must be YYYY-MM: %w", err)
	}
	return t, nil
}

// Filename returns the workbook name for month, e.g. bookings_2024_12.xlsx.
func Filename(month time.Time) string {
	return fmt.Sprintf("bookings_%d_%02d.xlsx", month.Year(), int(month.Month()))
}

func monthRange(month time.Time) (time.Time, time.Time) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// Export writes the workbook for month to w and returns the number of
// bookings in it.
func (s *Service) Export(ctx context.Context, month time.Time, w io.Writer) (int, error) {
	from, to := monthRange(month)
	bookings, err := s.source.ListBookings(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("list bookings: %w", err)
	}

	excel := s.newWriter()
	defer excel.Close()

	if err := excel.AddSheet(SheetBookings); err != nil {
		return 0, err
	}
	if err := excel.WriteHeader(bookingColumns); err != nil {
		return 0, err
	}
	for _, b := range bookings {
		row := []any{
			b.ID, b.CreatedAt.UTC().Format("2006-01-02 15:04"), b.Service, b.Package, b.Name, b.Email,
			booking.MaskPhone(b.Phone), b.ServiceCountry, b.Address, b.Pincode, b.EventDate,
			b.Language, b.Source, b.Status,
		}
		if err := excel.WriteRow(row); err != nil {
			return 0, fmt.Errorf("write booking %s: %w", b.ID, err)
		}
	}

	if err := excel.AddSheet(SheetSummary); err != nil {
		return 0, err
	}
	if err := excel.WriteHeader([]string{"Service", "Package", "Bookings"}); err != nil {
		return 0, err
	}
	for _, line := range summarize(bookings) {
		if err := excel.WriteRow([]any{line.service, line.pkg, line.count}); err != nil {
			return 0, err
		}
	}

	if err := excel.Save(w); err != nil {
		return 0, fmt.Errorf("save excel: %w", err)
	}
	return len(bookings), nil
}

// ExportToDir writes the workbook for month into dir and returns its path.
func (s *Service) ExportToDir(ctx context.Context, month time.Time, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, Filename(month))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	n, err := s.Export(ctx, month, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	s.logger.Info().Str("path", path).Int("bookings", n).Msg("Booking report written")
	return path, nil
}

// Start writes the previous month's report into dir on every tick of
// schedule until ctx is done.
func (s *Service) Start(ctx context.Context, schedule, dir string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		prev := s.now().UTC().AddDate(0, -1, 0)
		if _, err := s.ExportToDir(ctx, prev, dir); err != nil {
			s.logger.Error().Err(err).Msg("Monthly booking report failed")
		}
	})
	if err != nil {
		return fmt.Errorf("parse report schedule %q: %w", schedule, err)
	}

	s.logger.Info().Str("schedule", schedule).Str("dir", dir).Msg("Report service started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

type summaryLine struct {
	service, pkg string
	count        int
}

func summarize(bookings []database.Booking) []summaryLine {
	counts := make(map[[2]string]int)
	for _, b := range bookings {
		counts[[2]string{b.Service, b.Package}]++
	}
	lines := make([]summaryLine, 0, len(counts))
	for k, n := range counts {
		lines = append(lines, summaryLine{service: k[0], pkg: k[1], count: n})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].service != lines[j].service {
			return lines[i].service < lines[j].service
		}
		return lines[i].pkg < lines[j].pkg
	})
	return lines
}
