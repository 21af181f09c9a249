package xero

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rorycl/xeroinvoiceserver/apierror"
)

// apiError is the body Xero returns with a 400, for example
//
//	{"ErrorNumber": 10, "Type": "ValidationException",
//	 "Message": "A validation exception occurred",
//	 "Elements": [{"ValidationErrors": [{"Message": "Email address must be valid."}]}]}
type apiError struct {
	ErrorNumber int    `json:"ErrorNumber"`
	Type        string `json:"Type"`
	Message     string `json:"Message"`
	Detail      string `json:"Detail"`
	Elements    []struct {
		ValidationErrors []struct {
			Message string `json:"Message"`
		} `json:"ValidationErrors"`
	} `json:"Elements"`
}

// messages returns the validation messages, or the top level message
func (e apiError) messages() string {
	var msgs []string
	for _, el := range e.Elements {
		for _, v := range el.ValidationErrors {
			msgs = append(msgs, v.Message)
		}
	}
	if len(msgs) > 0 {
		return strings.Join(msgs, "; ")
	}
	if e.Detail != "" {
		return e.Detail
	}
	return e.Message
}

// statusError classifies a non 2xx response
func statusError(resp *http.Response, endpoint string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	cause := fmt.Errorf("xero %s status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		var ae apiError
		msg := "xero rejected the request"
		if json.Unmarshal(body, &ae) == nil && ae.messages() != "" {
			msg = ae.messages()
		}
		return apierror.Wrap(apierror.UpstreamValidationError, cause, msg)
	case resp.StatusCode == http.StatusUnauthorized:
		return apierror.Wrap(apierror.Unauthenticated, cause, "xero rejected the access token")
	case resp.StatusCode == http.StatusForbidden:
		return apierror.Wrap(apierror.Forbidden, cause, "xero refused access to the tenant")
	case resp.StatusCode == http.StatusNotFound:
		return apierror.Wrap(apierror.NotFound, cause, fmt.Sprintf("xero %s not found", endpoint))
	case resp.StatusCode == http.StatusTooManyRequests:
		return apierror.Wrap(apierror.UpstreamUnavailable, cause, "xero rate limit exceeded")
	}
	return apierror.Wrap(apierror.UpstreamUnavailable, cause, fmt.Sprintf("xero %s unavailable", endpoint))
}
