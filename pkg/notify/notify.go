package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/types"
)

const webhookTimeout = 10 * time.Second

// Notifier delivers per-app notifications over the channels enabled in the
// app's configuration. Delivery is best-effort: each enabled channel is
// attempted and the first error is returned after all attempts.
type Notifier struct {
	client *http.Client
	logger zerolog.Logger
}

// New creates a notifier
func New() *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: webhookTimeout},
		logger: log.WithComponent("notify"),
	}
}

// Send dispatches subject and message over every enabled channel
func (n *Notifier) Send(ctx context.Context, app *types.Application, subject, message string) error {
	var firstErr error
	cfg := app.Notification
	if cfg.Email.Enabled {
		if err := n.sendEmail(cfg.Email, app.Users, subject, message); err != nil {
			n.logger.Error().Err(err).Str("app_id", app.AppID).Msg("email notification failed")
			firstErr = err
		}
	}
	if cfg.Webhook.Enabled {
		if err := n.sendWebhook(ctx, cfg.Webhook, subject, message); err != nil {
			n.logger.Error().Err(err).Str("app_id", app.AppID).Msg("webhook notification failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// sendEmail delivers over SMTP with plain auth. Recipients default to the
// sender address when the app has no user addresses.
func (n *Notifier) sendEmail(cfg types.EmailNotification, recipients []string, subject, message string) error {
	if cfg.SMTPServer == "" || cfg.FromAddress == "" {
		return fmt.Errorf("email notification misconfigured: server and from address required")
	}
	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if strings.Contains(r, "@") {
			to = append(to, r)
		}
	}
	if len(to) == 0 {
		to = []string{cfg.FromAddress}
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		cfg.FromAddress, strings.Join(to, ", "), subject, message)
	addr := fmt.Sprintf("%s:%d", cfg.SMTPServer, cfg.Port)
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPServer)
	}
	if err := smtp.SendMail(addr, auth, cfg.FromAddress, to, []byte(body)); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}

// sendWebhook POSTs the rendered template, or a default JSON payload when
// no template is configured. Templates may reference {{subject}} and
// {{message}}.
func (n *Notifier) sendWebhook(ctx context.Context, cfg types.WebhookNotification, subject, message string) error {
	if cfg.URL == "" {
		return fmt.Errorf("webhook notification misconfigured: url required")
	}
	var payload []byte
	if cfg.Template != "" {
		rendered := strings.NewReplacer(
			"{{subject}}", subject,
			"{{message}}", message,
		).Replace(cfg.Template)
		payload = []byte(rendered)
	} else {
		var err error
		payload, err = json.Marshal(map[string]string{"subject": subject, "message": message})
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}
