package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/airticket/internal/domain"
)

const SignatureHeader = "X-Payment-Signature"

type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		OrderID string      `json:"order_id"`
		Status  OrderStatus `json:"status"`
	} `json:"data"`
}

// WebhookVerifier checks "t=<unix>,v1=<hex>" signatures, where v1 is the
// HMAC-SHA256 of "<t>.<body>" under the shared secret.
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

func (v *WebhookVerifier) Verify(body []byte, header string) error {
	if len(v.secret) == 0 {
		return &domain.AuthenticityError{Reason: "webhook secret is not configured"}
	}
	ts, signatures, err := parseSignature(header)
	if err != nil {
		return err
	}

	if age := v.now().Sub(time.Unix(ts, 0)); age > v.tolerance || age < -v.tolerance {
		return &domain.AuthenticityError{Reason: "timestamp outside tolerance"}
	}

	expected := v.mac(ts, body)
	for _, sig := range signatures {
		decoded, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return &domain.AuthenticityError{Reason: "signature mismatch"}
}

// Sign produces a header value for body, used by tests and local simulators.
func (v *WebhookVerifier) Sign(body []byte, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(v.mac(ts, body)))
}

func (v *WebhookVerifier) mac(ts int64, body []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return m.Sum(nil)
}

func parseSignature(header string) (int64, []string, error) {
	if header == "" {
		return 0, nil, &domain.AuthenticityError{Reason: "missing signature header"}
	}
	var (
		ts         int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, &domain.AuthenticityError{Reason: "malformed timestamp"}
			}
			ts = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == 0 || len(signatures) == 0 {
		return 0, nil, &domain.AuthenticityError{Reason: "malformed signature header"}
	}
	return ts, signatures, nil
}

// ParseWebhookEvent decodes a verified body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, &domain.ValidationError{Field: "body", Message: "malformed webhook payload"}
	}
	if event.Data.OrderID == "" {
		return nil, &domain.ValidationError{Field: "data.order_id", Message: "is required"}
	}
	return &event, nil
}
