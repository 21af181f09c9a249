package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rorycl/xeroinvoiceserver/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey  = "webhook-key"
	testBody = `{"events":[{"resourceUrl":"https://api.xero.com/api.xro/2.0/Invoices/a","resourceId":"a","eventDateUtc":"2024-03-28T10:00:00.000","eventType":"CREATE","eventCategory":"INVOICE","tenantId":"t","tenantType":"ORGANISATION"}],"firstEventSequence":1,"lastEventSequence":1,"entropy":"S0M3R4ND0M3NTR0PY"}`
	// openssl dgst -sha256 -hmac webhook-key -binary body.json | base64
	testSignature = "riN6SOehy7nPpHEKuiLfdH5/bwBbzJ83OciaxXIOyGU="
)

func TestSign(t *testing.T) {
	assert.Equal(t, testSignature, Sign(testKey, []byte(testBody)))
	assert.True(t, Verify(testKey, []byte(testBody), testSignature))
	assert.NotEqual(t, Sign(testKey, []byte(testBody)), Sign("other-key", []byte(testBody)))
}

func TestVerifyReference(t *testing.T) {
	// the standard hmac-sha256 test vector of RFC 4231 case 2, base64
	// encoded
	assert.True(t, Verify("Jefe", []byte("what do ya want for nothing?"),
		"W9zBRr9gdU5qBCQmCJV1x1oAPwidJzmDnexYuWTsOEM="))
}

func TestVerify(t *testing.T) {
	sig := Sign(testKey, []byte(testBody))
	assert.True(t, Verify(testKey, []byte(testBody), sig))

	for i := 0; i < len(testBody); i++ {
		mutated := []byte(testBody)
		mutated[i] ^= 0x01
		if Verify(testKey, mutated, sig) {
			t.Fatalf("mutation at byte %d verified", i)
		}
	}

	assert.False(t, Verify("", []byte(testBody), Sign("", []byte(testBody))), "no key configured")
	assert.False(t, Verify(testKey, []byte(testBody), ""))
	assert.False(t, Verify(testKey, []byte(testBody), sig[:len(sig)-2]))
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	h := NewHandler(testKey, m)
	var received []Event
	h.OnEvents = func(ev []Event) { received = ev }

	tests := []struct {
		name      string
		body      string
		signature string
		status    int
	}{
		{"valid", testBody, Sign(testKey, []byte(testBody)), http.StatusOK},
		{"intent to receive", `{"events":[],"firstEventSequence":0,"lastEventSequence":0,"entropy":"X"}`, Sign(testKey, []byte(`{"events":[],"firstEventSequence":0,"lastEventSequence":0,"entropy":"X"}`)), http.StatusOK},
		{"bad signature", testBody, Sign("wrong", []byte(testBody)), http.StatusUnauthorized},
		{"no signature", testBody, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/webhooks", strings.NewReader(tt.body))
			if tt.signature != "" {
				r.Header.Set(SignatureHeader, tt.signature)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
			assert.Empty(t, w.Body.String())
		})
	}

	require.Len(t, received, 1)
	assert.Equal(t, "INVOICE", received[0].EventCategory)

	// counter vectors are registered under their full names
	assert.Equal(t, 2, testutil.CollectAndCount(m.Registry(), "xeroinvoice_webhook_deliveries_total"))
}
