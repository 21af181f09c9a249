package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rorycl/xeroinvoiceserver/apierror"
)

// jsonDateTime is for encoding/decoding json date formats
type jsonDateTime struct {
	time.Time
}

const jsonDateTimeFMT = "2006-01-02T15:04:05.0000000"

// UnmarshalJSON unmarshals from a RFC3339 format date (without the "Z")
func (t *jsonDateTime) UnmarshalJSON(buf []byte) error {
	s := strings.Trim(string(buf), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	tt, err := time.Parse(jsonDateTimeFMT, s)
	if err != nil {
		return err
	}
	t.Time = tt
	return nil
}

// MarshalJSON marshals a jsonDateTime to a RFC3339 format date string (without the "Z")
func (t jsonDateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.Format(jsonDateTimeFMT) + `"`), nil
}

// Tenant is a Xero connection to an organisation or practice
type Tenant struct {
	ID             string       `json:"id"`
	AuthEventID    string       `json:"authEventId"`
	TenantID       string       `json:"tenantId"`
	TenantType     string       `json:"tenantType"`
	TenantName     string       `json:"tenantName"`
	CreatedDateUTC jsonDateTime `json:"createdDateUtc"`
	UpdatedDateUTC jsonDateTime `json:"updatedDateUtc"`
}

// Tenants represents a slice of Xero tenants in the order returned by
// the connections endpoint
type Tenants []Tenant

// IDs returns the tenant identifiers in order
func (ts Tenants) IDs() []string {
	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		ids = append(ids, t.TenantID)
	}
	return ids
}

// Tenants retrieves the Xero tenants authorised for accessToken
func (c *Client) Tenants(ctx context.Context, accessToken string) (Tenants, error) {

	req, err := http.NewRequestWithContext(ctx, "GET", c.tenantURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", "Bearer "+accessToken)
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err, apierror.UpstreamUnavailable, "tenant callout failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apierror.Wrap(apierror.Unauthenticated, newHTTPClientError(resp), "tenant callout rejected")
	case resp.StatusCode != http.StatusOK:
		return nil, apierror.Wrap(apierror.UpstreamUnavailable, newHTTPClientError(resp), "tenant callout http error")
	}

	var tenants Tenants
	if err := json.NewDecoder(resp.Body).Decode(&tenants); err != nil {
		return nil, fmt.Errorf("tenant callout failed, body decode error: %w", err)
	}
	return tenants, nil
}
