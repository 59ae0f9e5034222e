package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrTransient marks a dispatch failure worth retrying.
var ErrTransient = errors.New("transient dispatch failure")

// Dispatcher delivers a code to a phone number out of band.
type Dispatcher interface {
	Dispatch(ctx context.Context, phone, code, lang string) error
}

// RetryDispatcher retries a transient failure exactly once.
type RetryDispatcher struct {
	next  Dispatcher
	delay time.Duration
}

// NewRetryDispatcher wraps next.
func NewRetryDispatcher(next Dispatcher, delay time.Duration) *RetryDispatcher {
	return &RetryDispatcher{next: next, delay: delay}
}

func (d *RetryDispatcher) Dispatch(ctx context.Context, phone, code, lang string) error {
	err := d.next.Dispatch(ctx, phone, code, lang)
	if err == nil || !errors.Is(err, ErrTransient) {
		return err
	}

	if d.delay > 0 {
		timer := time.NewTimer(d.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return d.next.Dispatch(ctx, phone, code, lang)
}

// WhatsAppDispatcher posts codes to a WhatsApp messaging gateway.
type WhatsAppDispatcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewWhatsAppDispatcher creates a gateway client.
func NewWhatsAppDispatcher(baseURL, apiKey string, timeout time.Duration) *WhatsAppDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WhatsAppDispatcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To       string   `json:"to"`
	Template string   `json:"template"`
	Language string   `json:"language"`
	Params   []string `json:"params"`
}

func (d *WhatsAppDispatcher) Dispatch(ctx context.Context, phone, code, lang string) error {
	return d.SendTemplate(ctx, phone, "booking_otp", lang, code)
}

// SendTemplate sends a pre-approved message template with positional params.
func (d *WhatsAppDispatcher) SendTemplate(ctx context.Context, phone, template, lang string, params ...string) error {
	body, err := json.Marshal(sendRequest{
		To:       phone,
		Template: template,
		Language: lang,
		Params:   params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/messages", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("x-api-key", d.apiKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("whatsapp gateway: http %d", resp.StatusCode)
	}
	return nil
}

// LogDispatcher writes codes to the log. Meant for local development.
type LogDispatcher struct {
	logger *zerolog.Logger
}

// NewLogDispatcher creates a dispatcher that only logs.
func NewLogDispatcher(logger *zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, phone, code, lang string) error {
	d.logger.Info().Str("phone", phone).Str("code", code).Str("lang", lang).Msg("otp dispatched")
	return nil
}

func (d *LogDispatcher) SendTemplate(_ context.Context, phone, template, lang string, params ...string) error {
	d.logger.Info().Str("phone", phone).Str("template", template).Str("lang", lang).Strs("params", params).Msg("message sent")
	return nil
}
