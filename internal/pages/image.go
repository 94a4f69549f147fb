package pages

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/Lllllllleong/examquestionflow/internal/models"
)

// MIMEType is the encoding of every image handed to the vision capability.
const MIMEType = "image/jpeg"

// Page is one rendered page.
type Page struct {
	Number int
	DPI    int
	Image  image.Image
}

// Ref describes the page without its pixels.
func (p Page) Ref() models.PageRef {
	b := p.Image.Bounds()
	return models.PageRef{Page: p.Number, Width: b.Dx(), Height: b.Dy(), DPI: p.DPI}
}

// Options controls rendering and encoding.
type Options struct {
	JPEGQuality  int
	MaxImageEdge int
}

// Materializer renders pages and builds the composite images chunks are made of.
type Materializer struct {
	opts Options
}

func NewMaterializer(opts Options) *Materializer {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	return &Materializer{opts: opts}
}

// RenderAll renders every page of src at dpi, in page order.
func (m *Materializer) RenderAll(ctx context.Context, src Pager, dpi int) ([]Page, error) {
	out := make([]Page, 0, src.PageCount())
	for n := 1; n <= src.PageCount(); n++ {
		img, err := src.Render(ctx, n, dpi)
		if err != nil {
			return nil, err
		}
		out = append(out, Page{Number: n, DPI: dpi, Image: img})
	}
	return out, nil
}

// Encode downscales img to the configured long-edge limit and encodes it as JPEG.
func (m *Materializer) Encode(img image.Image) ([]byte, error) {
	img = Fit(img, m.opts.MaxImageEdge)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: m.opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Band returns the horizontal strip of img between the fractions from and to of its height.
func Band(img image.Image, from, to float64) image.Image {
	from, to = clamp01(from), clamp01(to)
	if to < from {
		from, to = to, from
	}
	b := img.Bounds()
	top := b.Min.Y + int(float64(b.Dy())*from)
	bottom := b.Min.Y + int(float64(b.Dy())*to)
	if bottom <= top {
		bottom = top + 1
		if bottom > b.Max.Y {
			top, bottom = b.Max.Y-1, b.Max.Y
		}
	}
	r := image.Rect(0, 0, b.Dx(), bottom-top)
	dst := image.NewRGBA(r)
	draw.Draw(dst, r, img, image.Pt(b.Min.X, top), draw.Src)
	return dst
}

// Composite stacks the bottom tail fraction of top over the head fraction of bottom, which is
// the image a boundary chunk is extracted from.
func Composite(top, bottom image.Image, tail, head float64) image.Image {
	return Stack(Band(top, 1-tail, 1), Band(bottom, 0, head))
}

// Stack concatenates images vertically on a white background, left aligned.
func Stack(imgs ...image.Image) image.Image {
	width, height := 0, 0
	for _, img := range imgs {
		b := img.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		r := image.Rect(0, y, b.Dx(), y+b.Dy())
		draw.Draw(dst, r, img, b.Min, draw.Over)
		y += b.Dy()
	}
	return dst
}

// Fit scales img down so neither edge exceeds maxEdge. Zero disables the limit.
func Fit(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	long := b.Dx()
	if b.Dy() > long {
		long = b.Dy()
	}
	if maxEdge <= 0 || long <= maxEdge {
		return img
	}
	scale := float64(maxEdge) / float64(long)
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
