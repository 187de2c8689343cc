package transform

import (
	"bytes"
	"context"
	"image/png"
	"path"
	"strings"
)

// Image copies images through. With Optimize on, PNGs are re-encoded at
// the best compression level and the result is kept only when smaller.
// Other formats always pass through untouched.
type Image struct {
	optimize bool
}

// NewImage builds an image stage.
func NewImage(o Options) *Image {
	return &Image{optimize: o.Optimize}
}

// Name implements Stage.
func (i *Image) Name() string { return KindImage }

// Apply implements Stage.
func (i *Image) Apply(ctx context.Context, inputs []*File) ([]*File, error) {
	if !i.optimize {
		return inputs, nil
	}
	return forEach(ctx, i.Name(), inputs, func(_ context.Context, f *File) (*File, error) {
		if strings.ToLower(path.Ext(f.Rel)) != ".png" {
			return f, nil
		}

		img, err := png.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
		if buf.Len() >= len(f.Data) {
			return f, nil
		}
		return &File{Source: f.Source, Dest: f.Dest, Rel: f.Rel, Data: buf.Bytes()}, nil
	})
}
