package helpers

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy

	reportPolicyOnce sync.Once
	reportPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy strips every element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// ReportHTMLPolicy allows the markup a rendered report needs (headings,
// emphasis, lists, tables, code, links) and nothing executable.
func ReportHTMLPolicy() *bluemonday.Policy {
	reportPolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowAttrs("class").OnElements("code", "pre")
		policy.AllowURLSchemes("http", "https", "mailto")
		policy.AllowRelativeURLs(true)
		policy.RequireParseableURLs(true)
		policy.RequireNoFollowOnLinks(false)
		reportPolicy = policy
	})
	return reportPolicy
}

// PlainText removes all markup from s and trims it. Used for search snippets
// and extracted page text before they reach a prompt.
func PlainText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// SanitizeReportHTML cleans an HTML fragment with ReportHTMLPolicy.
func SanitizeReportHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return ReportHTMLPolicy().Sanitize(s)
}
