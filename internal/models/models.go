// Package models contains the data structures used across the application.
package models

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"ngescape/internal/payloads"
)

// Param is a single key/value pair of a query string or form-encoded body.
// An Encoded value is already percent-encoded and is written verbatim.
type Param struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Encoded bool   `json:"encoded,omitempty"`
}

// Params is an ordered parameter list. Order and duplicate keys are preserved.
type Params []Param

// ParseParams parses a query string or application/x-www-form-urlencoded body
// without losing the original parameter order.
func ParseParams(raw string) Params {
	if raw == "" {
		return nil
	}

	var params Params
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		params = append(params, Param{Key: unescape(key), Value: unescape(value)})
	}
	return params
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

// Encode serializes the parameters in order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, param := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(param.Key))
		b.WriteByte('=')
		if param.Encoded {
			b.WriteString(param.Value)
		} else {
			b.WriteString(url.QueryEscape(param.Value))
		}
	}
	return b.String()
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	copy(out, p)
	return out
}

// Keys returns the distinct keys in order of first appearance.
func (p Params) Keys() []string {
	seen := make(map[string]struct{}, len(p))
	keys := make([]string, 0, len(p))
	for _, param := range p {
		if _, ok := seen[param.Key]; ok {
			continue
		}
		seen[param.Key] = struct{}{}
		keys = append(keys, param.Key)
	}
	return keys
}

// With returns a copy where every occurrence of key carries value.
func (p Params) With(key, value string) Params {
	return p.replace(key, value, false)
}

// WithEncoded is With for a value that is already percent-encoded.
func (p Params) WithEncoded(key, value string) Params {
	return p.replace(key, value, true)
}

func (p Params) replace(key, value string, encoded bool) Params {
	out := p.Clone()
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			out[i].Encoded = encoded
		}
	}
	return out
}

// Decoded returns the plain value of the parameter.
func (p Param) Decoded() string {
	if p.Encoded {
		return unescape(p.Value)
	}
	return p.Value
}

// Request is a replayable HTTP request. Form is non-nil for form-encoded bodies.
type Request struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Form   Params `json:"form,omitempty"`
}

// Clone returns a deep copy of the request.
func (r Request) Clone() Request {
	return Request{Method: r.Method, URL: r.URL, Form: r.Form.Clone()}
}

// Body returns the encoded form body, or an empty string.
func (r Request) Body() string {
	if len(r.Form) == 0 {
		return ""
	}
	return r.Form.Encode()
}

// String renders the request as METHOD(key=value&...): URL.
func (r Request) String() string {
	pairs := make([]string, 0, len(r.Form))
	for _, p := range r.Form {
		pairs = append(pairs, p.Key+"="+p.Value)
	}
	return strings.ToUpper(r.Method) + "(" + strings.Join(pairs, "&") + "): " + r.URL
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"-"`
	Body       []byte      `json:"-"`
}

// ContentType returns the declared Content-Type header.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// Page is a fetched request/response pair handed to the scanner by the crawler.
type Page struct {
	Request  Request   `json:"request"`
	Response *Response `json:"-"`
	Depth    int       `json:"depth"`
}

// Candidate is a mutated request carrying one payload at one injection point.
// Confirmation is the sibling carrying the non-modal variant at the same position.
type Candidate struct {
	Action       string           `json:"action"`
	Point        string           `json:"point"`
	Source       *Page            `json:"-"`
	Request      Request          `json:"request"`
	Payload      payloads.Payload `json:"payload"`
	Confirmation *Candidate       `json:"-"`
	Fingerprint  string           `json:"fingerprint"`
}

// VulnerableResult is a candidate that passed detection (and confirmation, if enabled).
type VulnerableResult struct {
	Action    string           `json:"action"`
	Point     string           `json:"point"`
	Request   Request          `json:"request"`
	Payload   payloads.Payload `json:"payload"`
	Message   string           `json:"message,omitempty"`
	Confirmed bool             `json:"confirmed"`
	Timestamp time.Time        `json:"timestamp"`
}
