package markup

import (
	"fmt"
	"image"
	"strings"
)

// Fixed dimensions of the rendering surface in CSS pixels.
const (
	Width  = 400
	Height = 300
)

// Size returns the surface dimensions as a point.
func Size() image.Point {
	return image.Pt(Width, Height)
}

// Document is a player's working solution: an HTML fragment and a stylesheet.
type Document struct {
	Markup string `json:"markup"`
	Style  string `json:"style"`
}

// baseStyle pins the page to the surface box and makes body the positioning
// context for the player's elements.
var baseStyle = fmt.Sprintf(
	"html{width:%dpx;height:%dpx;overflow:hidden;background:#fff}\nbody{width:100%%;height:100%%;position:relative}\n",
	Width, Height,
)

// HTML returns the document as a standalone page. Nothing outside the fragment
// and the fixed wrapper takes part in layout.
func (d Document) HTML() string {
	var b strings.Builder
	b.Grow(len(d.Markup) + len(d.Style) + 256)
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">\n<style>\n")
	b.WriteString(baseStyle)
	b.WriteString(d.Style)
	b.WriteString("\n</style></head>\n<body>\n")
	b.WriteString(d.Markup)
	b.WriteString("\n</body></html>\n")
	return b.String()
}

// IsZero reports whether both markup and style are empty.
func (d Document) IsZero() bool {
	return d.Markup == "" && d.Style == ""
}

// DefaultDocument returns the starter solution every round opens with.
func DefaultDocument() Document {
	return Document{
		Markup: `<div class="box"></div>`,
		Style: `body{
}
.box {
  position: absolute;
  top:0;
  left:0;
  width: 100px;
  height: 100px;
  background: #dd6b4d;
}`,
	}
}
