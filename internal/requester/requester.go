package requester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ngescape/internal/models"
)

// ErrTransport wraps every failure to obtain a response from the target.
var ErrTransport = errors.New("transport error")

// maxBodySize caps how much of a response body is kept for analysis.
const maxBodySize = 10 << 20

// Executor sends a replayable request and returns the fully read response.
type Executor interface {
	Execute(ctx context.Context, req models.Request) (*models.Response, error)
}

// NewRequest builds an *http.Request from a replayable request. A non-empty
// form is sent as an application/x-www-form-urlencoded body.
func NewRequest(ctx context.Context, r models.Request) (*http.Request, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(r.Form) > 0 {
		body = strings.NewReader(r.Form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

// Execute sends the request and reads up to maxBodySize bytes of the body.
// Every failure is reported as ErrTransport.
func (c *HTTPClient) Execute(ctx context.Context, r models.Request) (*models.Response, error) {
	req, err := NewRequest(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransport, r.String(), err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, r.String(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body of %s: %w", ErrTransport, r.String(), err)
	}

	return &models.Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
