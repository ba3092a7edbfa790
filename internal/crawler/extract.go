package crawler

import (
	"net/url"
	"strings"

	"ngescape/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// resolveURL resolves a potentially relative URL against a base URL.
// Empty, javascript:, mailto: and fragment-only references yield nil.
func resolveURL(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)

	lower := strings.ToLower(href)
	if href == "" || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(href, "#") {
		return nil
	}

	rel, err := url.Parse(href)
	if err != nil {
		log.Debug().Str("href", href).Err(err).Msg("Failed to parse href")
		return nil
	}

	resolved := base.ResolveReference(rel)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved
}

// extract returns the requests a page links to: anchors, frames and forms.
// GET forms become query URLs, every other method keeps its fields as a form body.
func extract(doc *goquery.Document, pageURL *url.URL) []models.Request {
	var out []models.Request

	tags := []struct{ sel, attr string }{
		{"a[href]", "href"},
		{"area[href]", "href"},
		{"iframe[src]", "src"},
		{"frame[src]", "src"},
	}
	for _, t := range tags {
		doc.Find(t.sel).Each(func(_ int, s *goquery.Selection) {
			val, _ := s.Attr(t.attr)
			if u := resolveURL(pageURL, val); u != nil {
				out = append(out, models.Request{Method: "GET", URL: u.String()})
			}
		})
	}

	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		if req, ok := formRequest(s, pageURL); ok {
			out = append(out, req)
		}
	})

	return out
}

func formRequest(form *goquery.Selection, pageURL *url.URL) (models.Request, bool) {
	action, _ := form.Attr("action")
	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", "GET")))
	if method == "" {
		method = "GET"
	}

	target := pageURL
	if strings.TrimSpace(action) != "" {
		target = resolveURL(pageURL, action)
		if target == nil {
			return models.Request{}, false
		}
	}

	var fields models.Params
	form.Find("input, textarea, select, button").Each(func(_ int, f *goquery.Selection) {
		name, ok := f.Attr("name")
		if !ok || name == "" {
			return
		}
		if t := strings.ToLower(f.AttrOr("type", "")); (t == "checkbox" || t == "radio") && !f.Is("[checked]") {
			return
		}
		fields = append(fields, models.Param{Key: name, Value: fieldValue(f)})
	})

	if method == "GET" {
		u := *target
		if len(fields) > 0 {
			u.RawQuery = fields.Encode()
		}
		return models.Request{Method: method, URL: u.String()}, true
	}

	if fields == nil {
		fields = models.Params{}
	}
	return models.Request{Method: method, URL: target.String(), Form: fields}, true
}

func fieldValue(f *goquery.Selection) string {
	switch goquery.NodeName(f) {
	case "textarea":
		return f.Text()
	case "select":
		opt := f.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = f.Find("option").First()
		}
		if v, ok := opt.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(opt.Text())
	default:
		return f.AttrOr("value", "")
	}
}
