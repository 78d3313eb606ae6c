package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notification event names.
const (
	EventLeakDetected = "leak_detected"
	EventLeakResolved = "leak_resolved"
	EventAppsTrimmed  = "apps_trimmed"
)

// AlertConfig defines alert destinations.
type AlertConfig struct {
	Webhook string
	Command string
}

// Notifier sends alert notifications.
type Notifier struct {
	cfg    AlertConfig
	client *http.Client
	log    *zap.Logger
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier.
func NewNotifier(cfg AlertConfig, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

// Enabled returns true if any alert destination is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && (n.cfg.Webhook != "" || n.cfg.Command != "")
}

// Notify sends an alert event asynchronously.
func (n *Notifier) Notify(event string, payload any) {
	if !n.Enabled() {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.notify(event, payload)
	}()
}

// Wait blocks until in-flight notifications are delivered or dropped.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// validateWebhookURL checks that the webhook URL uses http/https and does not
// target loopback, private, link-local, or cloud metadata endpoints.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https scheme, got %q", scheme)
	}
	host := strings.ToLower(u.Hostname())
	switch host {
	case "", "localhost", "metadata.google.internal":
		return fmt.Errorf("webhook URL host %q is blocked", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("webhook URL host %q is blocked", host)
		}
	}
	return nil
}

func (n *Notifier) notify(event string, payload any) {
	body := map[string]any{
		"event":   event,
		"payload": payload,
		"ts":      time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(body)
	if err != nil {
		n.log.Warn("alert marshal failed", zap.String("event", event), zap.Error(err))
		return
	}

	if n.cfg.Webhook != "" {
		if err := validateWebhookURL(n.cfg.Webhook); err != nil {
			n.log.Warn("webhook blocked", zap.Error(err))
		} else if err := n.post(data); err != nil {
			n.log.Warn("webhook failed", zap.String("event", event), zap.Error(err))
		}
	}

	if n.cfg.Command != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "sh", "-c", n.cfg.Command)
		cmd.Env = append(os.Environ(), "XMEM_EVENT="+event, "XMEM_PAYLOAD="+string(data))
		if err := cmd.Run(); err != nil {
			n.log.Warn("alert command failed", zap.String("event", event), zap.Error(err))
		}
	}
}

func (n *Notifier) post(data []byte) error {
	req, err := http.NewRequest(http.MethodPost, n.cfg.Webhook, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
