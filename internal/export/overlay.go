package export

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Overlay stamps capture date and attribution onto exported frames.
type Overlay struct {
	face    font.Face
	size    float64
	margin  int
	shadow  color.Color
	textCol color.Color
}

// NewOverlay loads the embedded Go Regular face at the given point size.
func NewOverlay(size float64) (*Overlay, error) {
	if size <= 0 {
		size = 20
	}
	ft, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse overlay font: %w", err)
	}
	face, err := opentype.NewFace(ft, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay face: %w", err)
	}
	return &Overlay{
		face:    face,
		size:    size,
		margin:  int(size),
		shadow:  color.RGBA{0, 0, 0, 200},
		textCol: color.White,
	}, nil
}

// Apply returns a copy of img with lines drawn bottom-left, last line lowest.
// Empty lines are skipped.
func (o *Overlay) Apply(img *image.RGBA, lines ...string) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)

	var text []string
	for _, l := range lines {
		if l != "" {
			text = append(text, l)
		}
	}
	if len(text) == 0 {
		return out
	}

	lineHeight := o.face.Metrics().Height.Ceil()
	b := out.Bounds()
	y := b.Max.Y - o.margin - lineHeight*(len(text)-1)
	for _, line := range text {
		o.drawString(out, line, b.Min.X+o.margin+1, y+1, o.shadow)
		o.drawString(out, line, b.Min.X+o.margin, y, o.textCol)
		y += lineHeight
	}
	return out
}

func (o *Overlay) drawString(dst *image.RGBA, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: o.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
