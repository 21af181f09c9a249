package token

import (
	"fmt"
	"io"
	"net/http"
)

// HTTPClientError reports a non-200 response from a remote service
type HTTPClientError struct {
	Code    int
	Message string
}

func (e *HTTPClientError) Error() string {
	return fmt.Sprintf("status: %d message: %s", e.Code, e.Message)
}

func newHTTPClientError(resp *http.Response) *HTTPClientError {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		body = []byte("could not read body")
	}
	return &HTTPClientError{resp.StatusCode, string(body)}
}
