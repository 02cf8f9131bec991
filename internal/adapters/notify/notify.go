// Package notify delivers long-loading alerts and daily reports.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/markumedium/loading-server/internal/app"
)

// defaultWebhookTimeout bounds one webhook request.
const defaultWebhookTimeout = 10 * time.Second

// LogNotifier writes alerts and reports to a structured logger.
type LogNotifier struct {
	logger app.Logger
}

var (
	_ app.Notifier = (*LogNotifier)(nil)
	_ app.Notifier = (*WebhookNotifier)(nil)
	_ app.Notifier = Fanout(nil)
)

// NewLogNotifier constructs a notifier backed by logger.
func NewLogNotifier(logger app.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyAlert logs one long-loading alert.
func (n *LogNotifier) NotifyAlert(_ context.Context, alert app.Alert) error {
	n.logger.Warn(
		"vehicle loading too long",
		"vehicle_id", alert.Vehicle.ID,
		"model", alert.Vehicle.Model,
		"license_plate", alert.Vehicle.LicensePlate,
		"cycle", alert.Vehicle.Cycle,
		"since", alert.Since,
		"elapsed", alert.Elapsed.Round(time.Second),
	)
	return nil
}

// DeliverReport logs a report summary.
func (n *LogNotifier) DeliverReport(_ context.Context, report app.Report, _ string) error {
	n.logger.Info(
		"daily report",
		"day", report.Day,
		"active", len(report.Active),
		"completed", len(report.Completed),
	)
	return nil
}

// AlertMessage is the webhook body for an alert.
type AlertMessage struct {
	Kind           string    `json:"kind"`
	VehicleID      string    `json:"vehicle_id"`
	Model          string    `json:"model"`
	LicensePlate   string    `json:"license_plate"`
	Cycle          int       `json:"cycle"`
	Since          time.Time `json:"since"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	Text           string    `json:"text"`
}

// ReportMessage is the webhook body for a daily report.
type ReportMessage struct {
	Kind      string `json:"kind"`
	Day       string `json:"day"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Text      string `json:"text"`
}

// WebhookNotifier posts JSON messages to a chat or ops webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier constructs a webhook notifier; a nil client gets a default with timeout.
func NewWebhookNotifier(url string, client *http.Client) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &WebhookNotifier{url: url, client: client}, nil
}

// NotifyAlert posts one alert.
func (n *WebhookNotifier) NotifyAlert(ctx context.Context, alert app.Alert) error {
	v := alert.Vehicle
	return n.post(ctx, AlertMessage{
		Kind:           "loading_alert",
		VehicleID:      v.ID,
		Model:          v.Model,
		LicensePlate:   v.LicensePlate,
		Cycle:          v.Cycle,
		Since:          alert.Since.UTC(),
		ElapsedSeconds: int64(alert.Elapsed / time.Second),
		Text: fmt.Sprintf(
			"%s %s has been loading for %s",
			v.Model, v.LicensePlate, app.FormatDuration(alert.Elapsed),
		),
	})
}

// DeliverReport posts the rendered report.
func (n *WebhookNotifier) DeliverReport(ctx context.Context, report app.Report, markdown string) error {
	return n.post(ctx, ReportMessage{
		Kind:      "daily_report",
		Day:       report.Day,
		Active:    len(report.Active),
		Completed: len(report.Completed),
		Text:      markdown,
	})
}

func (n *WebhookNotifier) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Fanout sends to every notifier and joins their errors.
type Fanout []app.Notifier

// NotifyAlert sends alert to every notifier.
func (f Fanout) NotifyAlert(ctx context.Context, alert app.Alert) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeliverReport sends report to every notifier.
func (f Fanout) DeliverReport(ctx context.Context, report app.Report, markdown string) error {
	var errs []error
	for _, n := range f {
		if err := n.DeliverReport(ctx, report, markdown); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
