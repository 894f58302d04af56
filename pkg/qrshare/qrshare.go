// Package qrshare renders "share this view" QR codes as PNG.
//
// Built on github.com/skip2/go-qrcode at ECC=H so the small center badge
// (a bar-chart mark echoing the balance theme) never makes the code
// unreadable. All drawing is in-memory; no concurrency needed, encoding
// is fast.
package qrshare

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	qrcode "github.com/skip2/go-qrcode"
)

// Options control size and palette. Zero values fall back to sane
// defaults, so callers can pass Options{} for a plain black-on-white code.
type Options struct {
	// TargetPx is the output edge length in pixels.
	TargetPx int

	Fg    color.RGBA // QR modules
	Bg    color.RGBA // background incl. quiet zone
	Badge color.RGBA // center badge fill; alpha 0 disables the badge

	// BadgeFrac is the badge edge as a fraction of the image edge,
	// clamped to 0.16..0.30 so it stays within ECC=H tolerance.
	BadgeFrac float64
}

// EncodePNG writes a QR for data with the configured palette and center
// badge. Returns an error only if data does not fit a QR at ECC=H.
func EncodePNG(w io.Writer, data []byte, opt Options) error {
	if opt.TargetPx <= 0 {
		opt.TargetPx = 1000
	}
	if (opt.Fg == color.RGBA{}) {
		opt.Fg = color.RGBA{0, 0, 0, 255}
	}
	if (opt.Bg == color.RGBA{}) {
		opt.Bg = color.RGBA{255, 255, 255, 255}
	}
	if opt.BadgeFrac <= 0 {
		opt.BadgeFrac = 0.22
	}
	if opt.BadgeFrac < 0.16 {
		opt.BadgeFrac = 0.16
	}
	if opt.BadgeFrac > 0.30 {
		opt.BadgeFrac = 0.30
	}

	q, err := qrcode.New(string(data), qrcode.Highest)
	if err != nil {
		return err
	}
	q.ForegroundColor = opt.Fg
	q.BackgroundColor = opt.Bg

	src := q.Image(opt.TargetPx)
	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)

	if opt.Badge.A != 0 {
		drawBadge(dst, opt)
	}

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, dst)
}

// drawBadge paints the centered badge square plus a three-bar glyph in
// the background color.
func drawBadge(dst *image.RGBA, opt Options) {
	b := dst.Bounds()
	w := b.Dx()
	edge := int(float64(w) * opt.BadgeFrac)
	x0 := b.Min.X + (w-edge)/2
	y0 := b.Min.Y + (b.Dy()-edge)/2

	fillRect(dst, x0, y0, edge, edge, opt.Badge)

	// Three bars of uneven height: the badge is a miniature of the
	// imbalance chart the app exists to show.
	pad := edge / 6
	barW := (edge - 4*pad) / 3
	base := y0 + edge - pad
	heights := []float64{0.45, 0.75, 0.30}
	for i, hf := range heights {
		h := int(float64(edge-2*pad) * hf)
		bx := x0 + pad + i*(barW+pad)
		fillRect(dst, bx, base-h, barW, h, opt.Bg)
	}
}

func fillRect(img *image.RGBA, x, y, w, h int, col color.Color) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			img.Set(xx, yy, col)
		}
	}
}
