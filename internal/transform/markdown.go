package transform

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown renders CommonMark with GitHub extensions into HTML fragments.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown builds a markdown stage.
func NewMarkdown(_ Options) *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Name implements Stage.
func (m *Markdown) Name() string { return KindMarkdown }

// Apply implements Stage.
func (m *Markdown) Apply(ctx context.Context, inputs []*File) ([]*File, error) {
	return forEach(ctx, m.Name(), inputs, func(_ context.Context, f *File) (*File, error) {
		var buf bytes.Buffer
		if err := m.md.Convert(f.Data, &buf); err != nil {
			return nil, err
		}
		return &File{Source: f.Source, Dest: f.Dest, Rel: f.WithExt(".html"), Data: buf.Bytes()}, nil
	})
}
