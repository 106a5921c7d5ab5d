package capture

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const watermarkTimeLayout = "15:04:05"

// Compositor runs a fixed-rate draw loop: each source frame is painted onto
// an off-screen surface together with a watermark overlay (label + clock)
// and handed to the sink. The loop ends on ctx cancellation or when the
// source is revoked (EOF).
type Compositor struct {
	src   VideoSource
	label string
	fps   int
	now   func() time.Time
	sink  func(*image.RGBA)
	log   zerolog.Logger
}

func NewCompositor(src VideoSource, label string, fps int, sink func(*image.RGBA)) *Compositor {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Compositor{
		src:   src,
		label: label,
		fps:   fps,
		now:   time.Now,
		sink:  sink,
		log:   log.With().Str("module", "capture.compositor").Logger(),
	}
}

// Run blocks until the loop ends. Revocation of the source is a normal
// return, not an error; the pipeline treats it as a stop request.
func (c *Compositor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(c.fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			frame, err := c.src.ReadFrame()
			if err != nil {
				c.log.Info().Msg("video source ended, draw loop stopping")
				return nil
			}
			c.sink(c.Composite(frame))
		}
	}
}

// Composite paints frame plus the overlay onto a fresh surface.
func (c *Compositor) Composite(frame *image.RGBA) *image.RGBA {
	b := frame.Bounds()
	surface := image.NewRGBA(b)
	draw.Draw(surface, b, frame, b.Min, draw.Src)
	c.drawOverlay(surface)
	return surface
}

func (c *Compositor) drawOverlay(surface *image.RGBA) {
	text := c.label + "  " + c.now().Format(watermarkTimeLayout)
	face := basicfont.Face7x13

	pad := 6
	textW := font.MeasureString(face, text).Ceil()
	boxH := face.Metrics().Height.Ceil() + 2*pad

	b := surface.Bounds()
	box := image.Rect(b.Min.X+pad, b.Max.Y-boxH-pad, b.Min.X+textW+3*pad, b.Max.Y-pad)
	draw.Draw(surface, box, &image.Uniform{color.RGBA{0, 0, 0, 180}}, image.Point{}, draw.Over)

	d := font.Drawer{
		Dst:  surface,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(box.Min.X + pad),
			Y: fixed.I(box.Max.Y - pad - face.Metrics().Descent.Ceil()),
		},
	}
	d.DrawString(text)
}
