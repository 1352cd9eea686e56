package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Notifier posts messages to an ntfy server.
type Notifier struct {
	client  *http.Client
	baseURL string
	topic   string
}

// New returns nil when no topic is configured; a nil *Notifier drops every message.
func New(baseURL, topic string) *Notifier {
	if topic == "" {
		log.Warn().Msg("Ntfy topic not configured - notifications disabled")
		return nil
	}

	n := &Notifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		topic:   topic,
	}

	log.Info().
		Str("url", n.baseURL).
		Str("topic", topic).
		Msg("Ntfy notifications initialized")
	return n
}

// Send posts a notification to the configured topic.
func (n *Notifier) Send(title, message string) error {
	if n == nil {
		return fmt.Errorf("notifications not initialized")
	}

	payload := map[string]interface{}{
		"topic":   n.topic,
		"title":   title,
		"message": message,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.baseURL+"/", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}

// FaultChanged reports acquisition fault transitions. The post runs in the
// background so a slow server cannot stall a cycle.
func (n *Notifier) FaultChanged(fault bool, cause error) {
	if n == nil {
		return
	}

	title, message := "BMS acquisition recovered", "Monitor chain is converting again"
	if fault {
		title = "BMS acquisition fault"
		message = "Monitor chain stopped answering conversion polls"
		if cause != nil {
			message += ": " + cause.Error()
		}
	}

	_ = Background{n}.Send(title, message)
}

// Background posts without blocking the caller. Delivery errors are logged.
type Background struct {
	*Notifier
}

func (b Background) Send(title, message string) error {
	if b.Notifier == nil {
		return nil
	}
	go func() {
		if err := b.Notifier.Send(title, message); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send notification")
		}
	}()
	return nil
}
