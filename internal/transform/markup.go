package transform

import (
	"bytes"
	"context"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Markup collapses insignificant whitespace in HTML and drops comments.
// Content of pre, textarea, script and style elements is kept verbatim, as
// are conditional comments.
type Markup struct {
	collapse bool
}

// NewMarkup builds a markup stage. With Minify off the stage only strips
// comments.
func NewMarkup(o Options) *Markup {
	return &Markup{collapse: o.Minify}
}

// Name implements Stage.
func (m *Markup) Name() string { return KindMarkup }

// Apply implements Stage.
func (m *Markup) Apply(ctx context.Context, inputs []*File) ([]*File, error) {
	return forEach(ctx, m.Name(), inputs, func(_ context.Context, f *File) (*File, error) {
		data, err := minifyHTML(f.Data, m.collapse)
		if err != nil {
			return nil, err
		}
		return &File{Source: f.Source, Dest: f.Dest, Rel: f.Rel, Data: data}, nil
	})
}

var verbatimElements = map[string]bool{
	"pre":      true,
	"textarea": true,
	"script":   true,
	"style":    true,
}

// Whitespace next to these tags is never rendered, so it can be trimmed.
var blockElements = map[string]bool{
	"html": true, "head": true, "body": true, "title": true, "meta": true, "link": true,
	"script": true, "style": true, "div": true, "p": true, "ul": true, "ol": true, "li": true,
	"dl": true, "dt": true, "dd": true, "table": true, "thead": true, "tbody": true, "tfoot": true,
	"tr": true, "td": true, "th": true, "section": true, "article": true, "aside": true,
	"header": true, "footer": true, "nav": true, "main": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "form": true, "fieldset": true,
	"figure": true, "figcaption": true, "blockquote": true, "hr": true, "br": true,
	"pre": true, "textarea": true, "option": true, "select": true, "noscript": true,
	"template": true, "address": true, "details": true, "summary": true, "base": true,
}

// MinifyHTML rewrites an HTML document with collapsed whitespace.
func MinifyHTML(src []byte) ([]byte, error) {
	return minifyHTML(src, true)
}

func minifyHTML(src []byte, collapse bool) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(src))

	z := html.NewTokenizer(bytes.NewReader(src))
	verbatim := 0
	trimLeading := collapse
	var pending []byte

	flush := func(trimTrailing bool) {
		if pending == nil {
			return
		}
		text := collapseSpace(string(pending))
		if trimLeading {
			text = strings.TrimLeft(text, " ")
		}
		if trimTrailing {
			text = strings.TrimRight(text, " ")
		}
		out.WriteString(text)
		pending = nil
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			flush(true)
			return out.Bytes(), nil

		case html.TextToken:
			raw := z.Raw()
			if verbatim > 0 || !collapse {
				flush(false)
				out.Write(raw)
				trimLeading = false
				continue
			}
			pending = append(pending, raw...)

		case html.CommentToken:
			raw := z.Raw()
			if bytes.HasPrefix(raw, []byte("<!--[if")) {
				flush(false)
				out.Write(raw)
				trimLeading = false
			}

		case html.DoctypeToken:
			flush(collapse)
			out.Write(z.Raw())
			trimLeading = collapse

		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			raw := append([]byte(nil), z.Raw()...)
			name, _ := z.TagName()
			tag := string(name)
			block := blockElements[tag]

			flush(block && collapse)
			out.Write(raw)
			trimLeading = block && collapse

			if verbatimElements[tag] {
				switch tt {
				case html.StartTagToken:
					verbatim++
				case html.EndTagToken:
					if verbatim > 0 {
						verbatim--
					}
				}
			}
		}
	}
}

// collapseSpace replaces every run of HTML whitespace with a single space.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			if !space {
				b.WriteByte(' ')
				space = true
			}
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}
