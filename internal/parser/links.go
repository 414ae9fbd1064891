// Package parser extracts crawlable link targets from raw page text.
package parser

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// hrefPattern matches href attributes with quoted or bare values.
// Any tag counts, not only anchors.
var hrefPattern = regexp.MustCompile(`(?i)href=["']?([^\s"'<>]+)`)

// LinkExtractor turns page text into absolute, query-free link targets
type LinkExtractor struct {
	ignore         *regexp.Regexp
	allowedSchemes []string
}

// NewLinkExtractor creates an extractor that drops links matching ignore.
// A nil ignore pattern keeps every link.
func NewLinkExtractor(ignore *regexp.Regexp) *LinkExtractor {
	return &LinkExtractor{
		ignore:         ignore,
		allowedSchemes: []string{"http", "https"},
	}
}

// Extract returns the distinct link targets found in text, sorted.
// Relative references are resolved against baseURL; query strings and
// fragments are removed before the ignore pattern is applied.
func (e *LinkExtractor) Extract(baseURL, text string) []string {
	if text == "" {
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	targets := make(map[string]struct{})
	for _, match := range hrefPattern.FindAllStringSubmatch(text, -1) {
		target, ok := e.normalize(base, match[1])
		if !ok {
			continue
		}
		if e.ignore != nil && e.ignore.MatchString(target) {
			continue
		}
		targets[target] = struct{}{}
	}

	links := make([]string, 0, len(targets))
	for target := range targets {
		links = append(links, target)
	}
	sort.Strings(links)
	return links
}

// normalize resolves href against base and strips the query and fragment
func (e *LinkExtractor) normalize(base *url.URL, href string) (string, bool) {
	href = html.UnescapeString(href)

	if !e.isAbsolute(href) {
		ref, err := url.Parse(href)
		if err != nil {
			return "", false
		}
		href = base.ResolveReference(ref).String()
	}

	if i := strings.IndexByte(href, '?'); i >= 0 {
		href = href[:i]
	}
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}

	parsed, err := url.Parse(href)
	if err != nil || parsed.Host == "" || !e.isAllowedScheme(parsed.Scheme) {
		return "", false
	}

	return href, true
}

// isAbsolute reports whether href already carries an allowed scheme prefix
func (e *LinkExtractor) isAbsolute(href string) bool {
	lower := strings.ToLower(href)
	for _, scheme := range e.allowedSchemes {
		if strings.HasPrefix(lower, scheme+"://") {
			return true
		}
	}
	return false
}

// isAllowedScheme checks the resolved scheme against the allow list
func (e *LinkExtractor) isAllowedScheme(scheme string) bool {
	scheme = strings.ToLower(scheme)
	for _, allowed := range e.allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}
