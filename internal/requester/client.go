// Package requester provides an HTTP client for making requests to the target.
package requester

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Options configures an HTTPClient.
type Options struct {
	Timeout             time.Duration
	Retries             int
	RetryDelay          time.Duration
	UserAgents          []string
	Headers             map[string]string
	Proxy               string
	IgnoreInvalidCerts  bool
	TrustedCertificates string // PEM bundle file or directory of PEM files
}

// HTTPClient is a wrapper around the standard http.Client that provides
// additional features like User-Agent rotation and automatic retries.
type HTTPClient struct {
	client     *http.Client
	userAgents []string
	headers    map[string]string
	retries    int
	retryDelay time.Duration
	rand       *rand.Rand
	mu         sync.Mutex
}

// NewHTTPClient creates a new instance of our custom HTTPClient.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: opts.IgnoreInvalidCerts} //nolint:gosec // operator opt-in
	if opts.TrustedCertificates != "" {
		pool, err := loadCertPool(opts.TrustedCertificates)
		if err != nil {
			return nil, fmt.Errorf("failed to load trusted certificates: %w", err)
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgents: opts.UserAgents,
		headers:    opts.Headers,
		retries:    opts.Retries,
		retryDelay: opts.RetryDelay,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// UserAgent returns a random configured User-Agent, or an empty string.
func (c *HTTPClient) UserAgent() string {
	if len(c.userAgents) == 0 {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userAgents[c.rand.Intn(len(c.userAgents))]
}

// Headers returns the static headers sent with every request.
func (c *HTTPClient) Headers() map[string]string {
	return c.headers
}

// Do wraps the standard http.Client's Do method, adding a random User-Agent
// and a retry mechanism for network errors or 5xx server responses.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	if ua := c.UserAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
	}

	var resp *http.Response
	var err error

	for i := 0; i <= c.retries; i++ {
		if i > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(c.retryDelay):
			}
		}

		clonedReq := req.Clone(req.Context())
		if bodyBytes != nil {
			clonedReq.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err = c.client.Do(clonedReq)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		if resp != nil && i < c.retries {
			resp.Body.Close()
		}
	}

	return resp, err
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.pem"))
		if err != nil {
			return nil, err
		}
	}

	added := 0
	for _, f := range files {
		pem, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		if pool.AppendCertsFromPEM(pem) {
			added++
		}
	}
	if added == 0 {
		return nil, fmt.Errorf("no PEM certificates found in %s", path)
	}
	return pool, nil
}
