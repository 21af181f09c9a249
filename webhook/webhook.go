// Package webhook verifies and receives Xero webhook deliveries.
// see https://developer.xero.com/documentation/guides/webhooks/overview/
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rorycl/xeroinvoiceserver/metrics"
	"github.com/rs/zerolog/log"
)

// SignatureHeader carries the base64 hmac-sha256 of the body
const SignatureHeader = "x-xero-signature"

// maxBody bounds the payload read
const maxBody = 1 << 20

// Sign returns the base64 hmac-sha256 of body under key
func Sign(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the signature of body under key.
// The comparison is constant time.
func Verify(key string, body []byte, signature string) bool {
	if key == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(key, body)), []byte(signature))
}

// Event is one event of a delivery
type Event struct {
	ResourceURL   string `json:"resourceUrl"`
	ResourceID    string `json:"resourceId"`
	EventDateUTC  string `json:"eventDateUtc"`
	EventType     string `json:"eventType"`
	EventCategory string `json:"eventCategory"`
	TenantID      string `json:"tenantId"`
	TenantType    string `json:"tenantType"`
}

// Payload is a webhook delivery. Xero's intent to receive check sends
// no events.
type Payload struct {
	Events        []Event `json:"events"`
	FirstEventSeq int     `json:"firstEventSequence"`
	LastEventSeq  int     `json:"lastEventSequence"`
	Entropy       string  `json:"entropy"`
}

// Handler answers deliveries: 200 for a valid signature, 401 otherwise,
// with an empty body either way as Xero requires
type Handler struct {
	key     string
	metrics *metrics.Metrics
	// OnEvents, if set, receives the events of each verified delivery
	OnEvents func([]Event)
}

// NewHandler returns a Handler verifying with key
func NewHandler(key string, m *metrics.Metrics) *Handler {
	return &Handler{key: key, metrics: m}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !Verify(h.key, body, r.Header.Get(SignatureHeader)) {
		h.metrics.Webhook("rejected")
		log.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature rejected")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	h.metrics.Webhook("ok")

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		log.Warn().Err(err).Msg("webhook payload not decodable")
	}
	log.Info().Int("events", len(p.Events)).Msg("webhook received")
	if h.OnEvents != nil && len(p.Events) > 0 {
		h.OnEvents(p.Events)
	}
	w.WriteHeader(http.StatusOK)
}
