package format

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[.+?\]\(https?://.+?\)`), // links
	regexp.MustCompile("```[\\s\\S]*?```"),        // fenced code
	regexp.MustCompile("`[^`]+?`"),                // inline code
	regexp.MustCompile(`\*\*[^*]+?\*\*`),          // bold
	regexp.MustCompile(`__[^_]+?__`),
	regexp.MustCompile(`\*[^*]+?\*`), // italic
	regexp.MustCompile(`_[^_]+?_`),
}

var headingPattern = regexp.MustCompile(`^#{1,6}\s`)

// HasMarkdown reports whether text uses any markdown worth rendering to
// HTML: links, code, emphasis or a leading heading.
func HasMarkdown(text string) bool {
	for _, re := range markdownPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return headingPattern.MatchString(strings.TrimSpace(text))
}

var (
	md     goldmark.Markdown
	mdOnce sync.Once
)

func renderer() goldmark.Markdown {
	mdOnce.Do(func() {
		md = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return md
}

// ToHTML renders markdown to the HTML subset Matrix clients display in
// formatted_body. Raw HTML in the source is not passed through.
func ToHTML(markdown string) string {
	var buf bytes.Buffer
	if err := renderer().Convert([]byte(markdown), &buf); err != nil {
		return "<pre>" + escapeHTML(markdown) + "</pre>"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
