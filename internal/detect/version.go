package detect

import (
	"bytes"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var (
	// .../angularjs/1.5.8/angular.min.js, .../1.5.8/angular.js, angular-1.5.8.min.js
	scriptVersionRe = regexp.MustCompile(`(?i)(?:/(\d+\.\d+\.\d+)/angular(?:\.min)?\.js|angular[.-](\d+\.\d+\.\d+)(?:\.min)?\.js)`)
	// license banner of an inlined build
	bannerVersionRe = regexp.MustCompile(`AngularJS v(\d+\.\d+\.\d+)`)
)

// SniffVersion guesses the AngularJS version from markup alone: script URLs
// carrying a version number first, then an inlined license banner.
// It returns an empty string when nothing matches.
func SniffVersion(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var version string
	doc.Find("script[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if m := scriptVersionRe.FindStringSubmatch(src); m != nil {
			version = m[1]
			if version == "" {
				version = m[2]
			}
			return false
		}
		return true
	})
	if version != "" {
		return version
	}

	doc.Find("script:not([src])").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := bannerVersionRe.FindStringSubmatch(s.Text()); m != nil {
			version = m[1]
			return false
		}
		return true
	})
	return version
}
