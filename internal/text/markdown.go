package text

import (
	"bytes"
	"html"
	"regexp"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	// markdownRegex spots the formatting models add on their own: bold,
	// headings and code spans. Links and lists are left as typed.
	markdownRegex  = regexp.MustCompile("(?m)\\*\\*|__|`|^#{1,6} ")
	blockTagsRegex = regexp.MustCompile(`<br\s*/?>|</?p>|</?div>|</?pre>|</?h[1-6]>`)
)

// markdownPolicy renders markdown to HTML and strips every tag.
type markdownPolicy struct {
	policy   *bluemonday.Policy
	markdown goldmark.Markdown
}

var (
	policyOnce sync.Once
	policy     *markdownPolicy
)

func plainPolicy() *markdownPolicy {
	policyOnce.Do(func() {
		policy = &markdownPolicy{
			policy:   bluemonday.StrictPolicy(),
			markdown: goldmark.New(),
		}
	})
	return policy
}

// StripMarkdown removes markdown formatting from model output, which
// WhatsApp would otherwise show as literal asterisks and hashes. Text without
// markdown markers is returned unchanged.
func StripMarkdown(s string) string {
	if !markdownRegex.MatchString(s) {
		return s
	}
	p := plainPolicy()

	var buf bytes.Buffer
	if err := p.markdown.Convert([]byte(s), &buf); err != nil {
		return s
	}
	out := blockTagsRegex.ReplaceAllString(buf.String(), "\n")
	out = p.policy.Sanitize(out)
	return html.UnescapeString(out)
}
