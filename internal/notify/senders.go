package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Mailer delivers a plain-text email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Texter delivers an SMS to an E.164 number.
type Texter interface {
	SendSMS(ctx context.Context, to, text string) error
}

type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", host, port),
		from: from,
		auth: auth,
		send: smtp.SendMail,
	}
}

func (m *SMTPMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.send(m.addr, m.auth, m.from, []string{to}, buildMail(m.from, to, subject, body)); err != nil {
		return fmt.Errorf("send email via %s: %w", m.addr, err)
	}
	return nil
}

// headerSafe folds CR and LF out of a header value so names cannot add headers.
var headerSafe = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func buildMail(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", headerSafe.Replace(from))
	fmt.Fprintf(&b, "To: %s\r\n", headerSafe.Replace(to))
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe.Replace(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// HTTPTexter posts messages to an SMS gateway, throttled to the provider's
// rate limit.
type HTTPTexter struct {
	url     string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPTexter(url, apiKey string, perSecond float64, client *http.Client) *HTTPTexter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &HTTPTexter{
		url:     url,
		apiKey:  apiKey,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func (t *HTTPTexter) SendSMS(ctx context.Context, to, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms rate limit: %w", err)
	}

	payload, err := json.Marshal(smsRequest{To: to, Message: text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
