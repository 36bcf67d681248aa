package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// MemorySender collects messages in memory. Used by tests and by local
// development setups that want to inspect outgoing mail.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemorySender creates an empty in-memory sender.
func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// Send implements Sender.
func (s *MemorySender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// HTTPSenderSettings configures HTTPSender.
type HTTPSenderSettings struct {
	APIURL      string
	ServerToken string
	TokenHeader string
}

// HTTPSender delivers mail through a Postmark-style JSON API.
type HTTPSender struct {
	client   *http.Client
	settings HTTPSenderSettings
}

// NewHTTPSender creates a sender that posts messages to a mail API.
func NewHTTPSender(client *http.Client, settings HTTPSenderSettings) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	if settings.TokenHeader == "" {
		settings.TokenHeader = "X-Postmark-Server-Token"
	}
	return &HTTPSender{
		client:   client,
		settings: settings,
	}
}

type mailJSON struct {
	From     string
	To       string
	Subject  string
	TextBody string
	HtmlBody string `json:",omitempty"`
}

type mailResponse struct {
	ErrorCode int
	Message   string
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	data := mailJSON{
		From:     msg.From,
		To:       msg.To,
		Subject:  msg.Subject,
		TextBody: msg.Body,
		HtmlBody: msg.HTML,
	}

	var b bytes.Buffer
	if err := json.NewEncoder(&b).Encode(data); err != nil {
		return fmt.Errorf("failed to encode mail json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.settings.APIURL, &b)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if s.settings.ServerToken != "" {
		req.Header.Set(s.settings.TokenHeader, s.settings.ServerToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var res mailResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if res.ErrorCode != 0 {
		return fmt.Errorf("error code in response: %d %v", res.ErrorCode, res.Message)
	}

	return nil
}
