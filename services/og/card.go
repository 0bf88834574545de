package og

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	Width  = 1200
	Height = 630

	padding       = 60
	titleSize     = 72
	titleLeading  = 80
	titleLines    = 3
	subtitleSize  = 32
	wordmarkSize  = 40
	wordsPerMin   = 200
	maxTitleRunes = 64
)

var (
	background = color.RGBA{0x16, 0x16, 0x16, 0xff}
	white      = color.RGBA{0xff, 0xff, 0xff, 0xff}
	grey       = color.RGBA{0x8a, 0x8a, 0x8a, 0xff}
)

// Card is the content of a share image.
type Card struct {
	Title    string
	Subtitle string
}

// faces holds the parsed fonts at the sizes the card uses.
type faces struct {
	title    font.Face
	subtitle font.Face
	wordmark font.Face
}

func loadFaces() (*faces, error) {
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}

	face := func(f *opentype.Font, size float64) (font.Face, error) {
		return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	}
	out := &faces{}
	if out.title, err = face(bold, titleSize); err != nil {
		return nil, err
	}
	if out.subtitle, err = face(bold, subtitleSize); err != nil {
		return nil, err
	}
	if out.wordmark, err = face(regular, wordmarkSize); err != nil {
		return nil, err
	}
	return out, nil
}

// render draws card as a PNG.
func (f *faces) render(card Card) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	y := padding + titleSize
	d := &font.Drawer{Dst: img, Src: image.NewUniform(white), Face: f.title}
	for _, line := range wrap(d, card.Title, Width-2*padding, titleLines) {
		d.Dot = fixed.P(padding, y)
		d.DrawString(line)
		y += titleLeading
	}

	if card.Subtitle != "" {
		lastBaseline := y - titleLeading
		y = lastBaseline + 24 + subtitleSize + 8
		d = &font.Drawer{Dst: img, Src: image.NewUniform(grey), Face: f.subtitle, Dot: fixed.P(padding, y)}
		d.DrawString(card.Subtitle)
	}

	d = &font.Drawer{Dst: img, Src: image.NewUniform(white), Face: f.wordmark, Dot: fixed.P(padding, Height-padding)}
	d.DrawString("Omniplex")

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// wrap breaks text into at most maxLines lines no wider than width pixels.
func wrap(d *font.Drawer, text string, width, maxLines int) []string {
	limit := fixed.I(width)
	var lines []string
	var current string
	for _, word := range strings.Fields(text) {
		candidate := word
		if current != "" {
			candidate = current + " " + word
		}
		if d.MeasureString(candidate) <= limit || current == "" {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
		lines[maxLines-1] += "..."
	}
	return lines
}

// CutString shortens s to n runes, marking the cut with "...".
func CutString(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// ReadingMinutes estimates reading time for words at 200 words per minute,
// never less than one minute.
func ReadingMinutes(words int) int {
	return max(1, int(math.Ceil(float64(words)/wordsPerMin)))
}

// Subtitle formats the date and reading time line.
func Subtitle(createdAt time.Time, words int) string {
	return fmt.Sprintf("%s — %d min read", createdAt.Format("January 2, 2006"), ReadingMinutes(words))
}
