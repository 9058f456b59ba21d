// Package render turns report markdown into a standalone HTML document.
package render

import (
	"html"
	"strings"

	blackfriday "github.com/russross/blackfriday/v2"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

const DefaultTitle = "Report"

var markdownExtensions = blackfriday.CommonExtensions |
	blackfriday.AutoHeadingIDs |
	blackfriday.Strikethrough |
	blackfriday.Tables

const documentTemplate = "<!doctype html><html><head><meta charset='utf-8'><title>%TITLE%</title>" +
	"<style>body{font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',sans-serif;max-width:960px;margin:0 auto;padding:2rem;color:#0f172a;line-height:1.55;}" +
	"table{border-collapse:collapse;}th,td{border:1px solid #e2e8f0;padding:0.4rem;}" +
	"code{background:#0f172a0d;padding:0.1em 0.3em;border-radius:0.25rem;}</style>" +
	"</head><body>%BODY%</body></html>"

// Converter renders markdown. It holds no state; the zero value is usable.
type Converter struct{}

// Convert renders markdown into a full HTML document titled title (or
// DefaultTitle). Raw HTML in the input is sanitised and the title is escaped,
// so the output never carries script or event-handler markup. Output depends
// only on the inputs.
func (Converter) Convert(markdown, title string) (string, error) {
	return Markdown(markdown, title), nil
}

// Markdown is Convert without the error return.
func Markdown(markdown, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	src := strings.ReplaceAll(markdown, "\r\n", "\n")
	body := blackfriday.Run([]byte(src), blackfriday.WithExtensions(markdownExtensions))
	clean := helpers.SanitizeReportHTML(string(body))

	r := strings.NewReplacer("%TITLE%", html.EscapeString(title), "%BODY%", clean)
	return r.Replace(documentTemplate)
}
