package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"migration-guard/internal/config"
	"migration-guard/internal/logging"
)

// NotificationChannel delivers alerts to one destination
type NotificationChannel interface {
	Send(ctx context.Context, alert Alert) error
	GetType() string
	IsEnabled() bool
	// Accepts reports whether alerts of sev go to this channel
	Accepts(sev Severity) bool
}

// SeverityFilter is embedded by channels to implement Accepts. An empty
// filter accepts every severity.
type SeverityFilter struct {
	severities map[Severity]bool
}

// NewSeverityFilter builds a filter from severity names
func NewSeverityFilter(names []string) (SeverityFilter, error) {
	f := SeverityFilter{severities: make(map[Severity]bool, len(names))}
	for _, name := range names {
		sev, err := ParseSeverity(name)
		if err != nil {
			return SeverityFilter{}, err
		}
		f.severities[sev] = true
	}
	return f, nil
}

// Accepts implements NotificationChannel
func (f SeverityFilter) Accepts(sev Severity) bool {
	return len(f.severities) == 0 || f.severities[sev]
}

// NotificationMessage is the JSON body posted by the webhook channel and
// written by the file channel in json format
type NotificationMessage struct {
	AlertID     string                 `json:"alert_id"`
	RuleID      string                 `json:"rule_id"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Severity    Severity               `json:"severity"`
	AlertType   AlertType              `json:"alert_type"`
	MigrationID string                 `json:"migration_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Color       string                 `json:"color,omitempty"`
	IconEmoji   string                 `json:"icon_emoji,omitempty"`
}

func formatMessage(alert Alert) NotificationMessage {
	message := NotificationMessage{
		AlertID:     alert.ID,
		RuleID:      alert.RuleID,
		Title:       alert.Title,
		Message:     alert.Message,
		Severity:    alert.Severity,
		AlertType:   alert.Type,
		MigrationID: alert.MigrationID,
		Timestamp:   alert.CreatedAt,
		Metadata:    alert.Metadata,
	}

	switch alert.Severity {
	case SeverityLow:
		message.Color = "#36a64f"
		message.IconEmoji = ":information_source:"
	case SeverityMedium:
		message.Color = "#ffcc00"
		message.IconEmoji = ":large_yellow_circle:"
	case SeverityHigh:
		message.Color = "#ff9900"
		message.IconEmoji = ":warning:"
	case SeverityCritical:
		message.Color = "#ff0000"
		message.IconEmoji = ":rotating_light:"
	}

	return message
}

// ConsoleChannel prints colored alert lines
type ConsoleChannel struct {
	SeverityFilter
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleChannel writes to out, or stderr when out is nil
func NewConsoleChannel(out io.Writer, filter SeverityFilter) *ConsoleChannel {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleChannel{SeverityFilter: filter, out: out}
}

// Send prints one line per alert
func (cc *ConsoleChannel) Send(_ context.Context, alert Alert) error {
	var c *color.Color
	switch alert.Severity {
	case SeverityCritical:
		c = color.New(color.FgHiRed, color.Bold)
	case SeverityHigh:
		c = color.New(color.FgRed)
	case SeverityMedium:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgCyan)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	_, err := fmt.Fprintf(cc.out, "%s %s %s: %s\n",
		alert.CreatedAt.Format(time.RFC3339),
		c.Sprintf("[%s]", alert.Severity),
		alert.Title,
		alert.Message)
	return err
}

// GetType returns the channel type
func (cc *ConsoleChannel) GetType() string {
	return "console"
}

// IsEnabled checks if the channel is enabled
func (cc *ConsoleChannel) IsEnabled() bool {
	return cc.out != nil
}

// FileChannel appends alerts to a file as text lines or JSON lines
type FileChannel struct {
	SeverityFilter
	mu     sync.Mutex
	path   string
	format string
}

// NewFileChannel creates a file channel. format is "json" or "text".
func NewFileChannel(path, format string, filter SeverityFilter) *FileChannel {
	return &FileChannel{SeverityFilter: filter, path: path, format: format}
}

// Send appends the alert to the file
func (fc *FileChannel) Send(_ context.Context, alert Alert) error {
	if fc.path == "" {
		return fmt.Errorf("file path not configured")
	}

	var content string
	switch fc.format {
	case "json":
		data, err := json.Marshal(formatMessage(alert))
		if err != nil {
			return fmt.Errorf("failed to marshal notification to JSON: %w", err)
		}
		content = string(data) + "\n"
	default:
		content = fmt.Sprintf("[%s] %s - %s: %s (%s)\n",
			alert.CreatedAt.Format(time.RFC3339),
			alert.Severity,
			alert.Type,
			alert.Title,
			alert.Message)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fc.path), 0755); err != nil {
		return fmt.Errorf("failed to create notification directory: %w", err)
	}
	file, err := os.OpenFile(fc.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write notification to file: %w", err)
	}
	return nil
}

// GetType returns the channel type
func (fc *FileChannel) GetType() string {
	return "file"
}

// IsEnabled checks if the channel is enabled
func (fc *FileChannel) IsEnabled() bool {
	return fc.path != ""
}

// SendMailFunc matches smtp.SendMail
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends alerts through SMTP
type EmailChannel struct {
	SeverityFilter
	config   config.EmailChannelConfig
	sendMail SendMailFunc
}

// NewEmailChannel creates an email channel
func NewEmailChannel(cfg config.EmailChannelConfig, filter SeverityFilter) *EmailChannel {
	return &EmailChannel{SeverityFilter: filter, config: cfg, sendMail: smtp.SendMail}
}

// Send sends an email notification
func (ec *EmailChannel) Send(ctx context.Context, alert Alert) error {
	if ec.config.SMTPHost == "" || len(ec.config.To) == 0 {
		return fmt.Errorf("email configuration incomplete")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("[%s] Migration alert: %s", alert.Severity, alert.Title)
	body := fmt.Sprintf(`Migration Alert

Alert ID: %s
Rule: %s
Type: %s
Severity: %s
Migration: %s
Time: %s

%s

This is an automated message from migration-guard.
`, alert.ID, alert.RuleID, alert.Type, alert.Severity, alert.MigrationID,
		alert.CreatedAt.Format(time.RFC3339), alert.Message)

	message := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		ec.config.From, strings.Join(ec.config.To, ","), subject, body)

	var auth smtp.Auth
	if ec.config.Username != "" {
		auth = smtp.PlainAuth("", ec.config.Username, ec.config.Password, ec.config.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", ec.config.SMTPHost, ec.config.SMTPPort)

	if err := ec.sendMail(addr, auth, ec.config.From, ec.config.To, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// GetType returns the channel type
func (ec *EmailChannel) GetType() string {
	return "email"
}

// IsEnabled checks if the channel is enabled
func (ec *EmailChannel) IsEnabled() bool {
	return ec.config.SMTPHost != "" && len(ec.config.To) > 0
}

// WebhookChannel posts alerts as JSON
type WebhookChannel struct {
	SeverityFilter
	config config.WebhookChannelConfig
	client *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(cfg config.WebhookChannelConfig, filter SeverityFilter) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		SeverityFilter: filter,
		config:         cfg,
		client:         &http.Client{Timeout: timeout},
	}
}

// Send posts the alert
func (wc *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	if wc.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload, err := json.Marshal(formatMessage(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range wc.config.Headers {
		headers[k] = v
	}
	return postJSON(ctx, wc.client, wc.config.URL, payload, headers, "webhook")
}

// GetType returns the channel type
func (wc *WebhookChannel) GetType() string {
	return "webhook"
}

// IsEnabled checks if the channel is enabled
func (wc *WebhookChannel) IsEnabled() bool {
	return wc.config.URL != ""
}

// SlackChannel posts alerts to a Slack incoming webhook
type SlackChannel struct {
	SeverityFilter
	config config.SlackChannelConfig
	client *http.Client
}

// NewSlackChannel creates a Slack channel
func NewSlackChannel(cfg config.SlackChannelConfig, filter SeverityFilter) *SlackChannel {
	return &SlackChannel{
		SeverityFilter: filter,
		config:         cfg,
		client:         &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts a Slack message with one attachment
func (sc *SlackChannel) Send(ctx context.Context, alert Alert) error {
	if sc.config.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	message := formatMessage(alert)
	payload := map[string]interface{}{
		"text": fmt.Sprintf("%s %s", message.IconEmoji, alert.Title),
		"attachments": []map[string]interface{}{
			{
				"color":     message.Color,
				"title":     alert.Title,
				"text":      alert.Message,
				"timestamp": alert.CreatedAt.Unix(),
				"fields": []map[string]interface{}{
					{"title": "Alert ID", "value": alert.ID, "short": true},
					{"title": "Type", "value": string(alert.Type), "short": true},
					{"title": "Severity", "value": string(alert.Severity), "short": true},
					{"title": "Migration", "value": alert.MigrationID, "short": true},
				},
			},
		},
	}
	if sc.config.Channel != "" {
		payload["channel"] = sc.config.Channel
	}
	if sc.config.Username != "" {
		payload["username"] = sc.config.Username
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}
	return postJSON(ctx, sc.client, sc.config.WebhookURL, data, map[string]string{"Content-Type": "application/json"}, "slack")
}

// GetType returns the channel type
func (sc *SlackChannel) GetType() string {
	return "slack"
}

// IsEnabled checks if the channel is enabled
func (sc *SlackChannel) IsEnabled() bool {
	return sc.config.WebhookURL != ""
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string, kind string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", kind, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned error status: %d", kind, resp.StatusCode)
	}
	return nil
}

// ChannelsFromConfig builds every enabled channel of the notifications
// section. Console output goes to consoleOut.
func ChannelsFromConfig(cfg config.NotificationsConfig, consoleOut io.Writer, logger *logging.Logger) ([]NotificationChannel, error) {
	var channels []NotificationChannel

	build := func(name string, cc config.ChannelConfig, create func(SeverityFilter) NotificationChannel) error {
		if !cc.Enabled {
			return nil
		}
		filter, err := NewSeverityFilter(cc.Severities)
		if err != nil {
			return fmt.Errorf("notifications.%s: %w", name, err)
		}
		channels = append(channels, create(filter))
		if logger != nil {
			logger.WithField("channel", name).Debug("Notification channel enabled")
		}
		return nil
	}

	steps := []struct {
		name   string
		cc     config.ChannelConfig
		create func(SeverityFilter) NotificationChannel
	}{
		{"console", cfg.Console, func(f SeverityFilter) NotificationChannel {
			return NewConsoleChannel(consoleOut, f)
		}},
		{"file", cfg.File.ChannelConfig, func(f SeverityFilter) NotificationChannel {
			return NewFileChannel(cfg.File.Path, "json", f)
		}},
		{"email", cfg.Email.ChannelConfig, func(f SeverityFilter) NotificationChannel {
			return NewEmailChannel(cfg.Email, f)
		}},
		{"webhook", cfg.Webhook.ChannelConfig, func(f SeverityFilter) NotificationChannel {
			return NewWebhookChannel(cfg.Webhook, f)
		}},
		{"slack", cfg.Slack.ChannelConfig, func(f SeverityFilter) NotificationChannel {
			return NewSlackChannel(cfg.Slack, f)
		}},
	}

	for _, step := range steps {
		if err := build(step.name, step.cc, step.create); err != nil {
			return nil, err
		}
	}
	return channels, nil
}
