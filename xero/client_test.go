package xero_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rorycl/xeroinvoiceserver/apierror"
	"github.com/rorycl/xeroinvoiceserver/metrics"
	"github.com/rorycl/xeroinvoiceserver/xero"
	"github.com/rorycl/xeroinvoiceserver/xero/xerotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var conn = xero.Conn{AccessToken: "abc", TenantID: "70784a63-d24b-46a9-a4db-0e70a274b056"}

func newClient(url string, opts ...xero.Option) *xero.Client {
	opts = append([]xero.Option{
		xero.WithBaseURL(url),
		xero.WithRetries(3, time.Millisecond),
		xero.WithRateLimit(6000, 100),
	}, opts...)
	return xero.NewClient(opts...)
}

func TestGetOrganisation(t *testing.T) {
	server := xerotest.NewServer()
	defer server.Close()

	org, err := newClient(server.URL).GetOrganisation(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "Maple Florist", org.Name)
	assert.Equal(t, conn.TenantID, server.LastTenant())
}

func TestConnRequired(t *testing.T) {
	c := newClient("http://127.0.0.1:1")

	_, err := c.GetOrganisation(context.Background(), xero.Conn{TenantID: "t"})
	assert.Equal(t, apierror.Unauthenticated, apierror.KindOf(err))

	_, err = c.GetOrganisation(context.Background(), xero.Conn{AccessToken: "abc"})
	assert.Equal(t, apierror.NoTenantConnected, apierror.KindOf(err))
}

func TestGetContactsByEmail(t *testing.T) {
	server := xerotest.NewServer()
	defer server.Close()
	id := server.AddContact(xero.Contact{Name: "Gooch", EmailAddress: "ops@gooch.example"})
	server.AddContact(xero.Contact{Name: "Other", EmailAddress: "other@example.com"})

	found, err := newClient(server.URL).GetContactsByEmail(context.Background(), conn, "ops@gooch.example")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].ContactID)
}

func TestCreateContacts(t *testing.T) {
	server := xerotest.NewServer()
	defer server.Close()

	created, err := newClient(server.URL).CreateContacts(context.Background(), conn, []xero.Contact{{
		Name:         "Gooch",
		EmailAddress: "ops@gooch.example",
		Phones:       []xero.Phone{{PhoneType: xero.PhoneMobile, PhoneNumber: "021 555 123"}},
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.NotEmpty(t, created[0].ContactID)
	assert.Len(t, server.Contacts(), 1)
}

func TestValidationErrorNotRetried(t *testing.T) {
	server := xerotest.NewServer()
	defer server.Close()
	server.Fail(http.StatusBadRequest)

	_, err := newClient(server.URL).CreateContacts(context.Background(), conn, []xero.Contact{{Name: "x"}})
	require.Error(t, err)
	assert.Equal(t, apierror.UpstreamValidationError, apierror.KindOf(err))
	assert.Equal(t, "Email address must be valid.", apierror.BodyOf(err).Message)
	assert.Equal(t, 1, server.Calls("PUT Contacts"))
}

func TestCreateNotRetriedWhenUnavailable(t *testing.T) {
	server := xerotest.NewServer()
	defer server.Close()
	server.Fail(http.StatusServiceUnavailable)

	_, err := newClient(server.URL).CreateInvoices(context.Background(), conn, []xero.Invoice{{Type: xero.InvoiceTypeReceivable}})
	assert.Equal(t, apierror.UpstreamUnavailable, apierror.KindOf(err))
	assert.Equal(t, 1, server.Calls("PUT Invoices"))
	assert.Empty(t, server.Invoices())
}

func TestReadRetried(t *testing.T) {
	server := xerotest.NewServer()
	defer server.Close()
	server.Fail(http.StatusServiceUnavailable, http.StatusTooManyRequests)

	org, err := newClient(server.URL).GetOrganisation(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "Maple Florist", org.Name)
	assert.Equal(t, 3, server.Calls("GET Organisation"))
}

func TestReadRetriesExhausted(t *testing.T) {
	server := xerotest.NewServer()
	defer server.Close()
	server.Fail(500, 500, 500, 500)

	_, err := newClient(server.URL).GetOrganisation(context.Background(), conn)
	assert.Equal(t, apierror.UpstreamUnavailable, apierror.KindOf(err))
	assert.Equal(t, 3, server.Calls("GET Organisation"))
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   apierror.Kind
	}{
		{http.StatusUnauthorized, apierror.Unauthenticated},
		{http.StatusForbidden, apierror.Forbidden},
		{http.StatusNotFound, apierror.NotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newClient(server.URL).GetOrganisation(context.Background(), conn)
			assert.Equal(t, tt.kind, apierror.KindOf(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "non transient errors are not retried")
		})
	}
}

func TestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
	}))
	defer server.Close()

	c := newClient(server.URL, xero.WithTimeout(30*time.Millisecond), xero.WithRetries(1, time.Millisecond))
	_, err := c.CreateInvoices(context.Background(), conn, []xero.Invoice{{Type: xero.InvoiceTypeReceivable}})
	assert.Equal(t, apierror.UpstreamTimeout, apierror.KindOf(err))
}

func TestRateLimitWaits(t *testing.T) {
	server := xerotest.NewServer()
	defer server.Close()

	// one call per 50ms with no burst beyond one
	c := newClient(server.URL, xero.WithRateLimit(1200, 1), xero.WithMetrics(metrics.New()))
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.GetOrganisation(context.Background(), conn)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestDateJSON(t *testing.T) {
	var v struct {
		A xero.Date
		B xero.Date
		C xero.Date
		D xero.Date
	}
	err := json.Unmarshal([]byte(`{
		"A": "/Date(1539993600000+0000)/",
		"B": "2018-10-20",
		"C": "2018-10-20T00:00:00",
		"D": null
	}`), &v)
	require.NoError(t, err)
	assert.Equal(t, "2018-10-20", v.A.Format("2006-01-02"))
	assert.True(t, v.A.Equal(v.B.Time))
	assert.True(t, v.B.Equal(v.C.Time))
	assert.True(t, v.D.IsZero())

	out, err := json.Marshal(xero.NewDate(time.Date(2024, 2, 29, 15, 4, 5, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, `"2024-02-29"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &v.A))
}
