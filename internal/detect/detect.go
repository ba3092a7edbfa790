// Package detect decides whether a reflected payload landed inside the live
// AngularJS binding scope of a page.
package detect

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"ngescape/internal/models"
	"ngescape/internal/payloads"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	// ErrNotHTML is returned when the response does not declare an HTML content type.
	ErrNotHTML = errors.New("response is not html")
	// ErrParse is returned when the body cannot be parsed as markup.
	ErrParse = errors.New("unable to parse response body")
	// ErrNoAppRoot is returned when the document has no ng-app element.
	ErrNoAppRoot = errors.New("no ng-app element")
)

const (
	appRootSelector     = "[ng-app]"
	nonBindableSelector = "[ng-non-bindable]"
)

// IsVulnerable reports whether payload appears inside the first ng-app
// element of resp, ignoring ng-non-bindable regions.
func IsVulnerable(resp *models.Response, payload payloads.Payload) bool {
	ok, _ := Check(resp, payload.Value)
	return ok
}

// Check is IsVulnerable with the reason for a negative answer.
// A missing payload is reported as (false, nil).
func Check(resp *models.Response, value string) (bool, error) {
	if resp == nil || !strings.Contains(strings.ToLower(resp.ContentType()), "html") {
		return false, ErrNotHTML
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrParse, err)
	}

	root := AppRoot(doc)
	if root.Length() == 0 {
		return false, ErrNoAppRoot
	}

	return InScope(root, value), nil
}

// AppRoot returns a detached copy of the first ng-app element with every
// ng-non-bindable descendant removed. The document itself is left untouched.
func AppRoot(doc *goquery.Document) *goquery.Selection {
	first := doc.Find(appRootSelector).First()
	if first.Length() == 0 {
		return first
	}

	root := first.Clone()
	root.Find(nonBindableSelector).Remove()
	return root
}

// InScope reports whether value is present in the rendered markup of root,
// or literally in one of its text nodes or attribute values.
//
// The text and attribute walk intentionally widens a plain markup substring
// check. Rendering escapes quotes (' becomes &#39;), so most sandbox escapes
// never match the re-serialized markup even when they are reflected verbatim.
// Do not reduce this to the OuterHtml comparison alone.
func InScope(root *goquery.Selection, value string) bool {
	if value == "" || root.Length() == 0 {
		return false
	}

	if rendered, err := goquery.OuterHtml(root); err == nil && strings.Contains(rendered, value) {
		return true
	}

	for _, n := range root.Nodes {
		if containsLiteral(n, value) {
			return true
		}
	}
	return false
}

func containsLiteral(n *html.Node, value string) bool {
	switch n.Type {
	case html.TextNode:
		if strings.Contains(n.Data, value) {
			return true
		}
	case html.ElementNode:
		for _, attr := range n.Attr {
			if strings.Contains(attr.Val, value) {
				return true
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if containsLiteral(c, value) {
			return true
		}
	}
	return false
}
