package pdf

// Advance widths in 1/1000 em for the printable ASCII range 0x20..0x7E,
// from the standard AFM metrics of the Type1 core fonts. Helvetica-Oblique
// shares the regular widths; Courier is fixed-pitch.
var helveticaWidths = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 278, 278, 584, 584, 584, 556,
	1015, 667, 667, 722, 722, 667, 611, 778, 722, 278, 500, 667, 556, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 278, 278, 278, 469, 556,
	333, 556, 556, 500, 556, 556, 278, 556, 556, 222, 222, 500, 222, 833, 556, 556,
	556, 556, 333, 500, 278, 556, 500, 722, 500, 500, 500, 334, 260, 334, 584,
}

var helveticaBoldWidths = [95]int{
	278, 333, 474, 556, 556, 889, 722, 238, 333, 333, 389, 584, 278, 333, 278, 278,
	556, 556, 556, 556, 556, 556, 556, 556, 556, 556, 333, 333, 584, 584, 584, 611,
	975, 722, 722, 722, 722, 667, 611, 778, 722, 278, 556, 722, 611, 833, 722, 778,
	667, 778, 722, 667, 611, 722, 667, 944, 667, 667, 611, 333, 278, 333, 584, 556,
	333, 556, 611, 556, 611, 556, 333, 611, 611, 278, 278, 556, 278, 889, 611, 611,
	611, 611, 389, 556, 333, 611, 556, 778, 556, 556, 500, 389, 280, 389, 584,
}

const (
	courierWidth      = 600.0
	defaultGlyphWidth = 556.0
)

func fontName(f fontID) string {
	switch f {
	case fontBold:
		return "F2"
	case fontOblique:
		return "F3"
	case fontCourier:
		return "F4"
	default:
		return "F1"
	}
}

func baseFontName(f fontID) string {
	switch f {
	case fontBold:
		return "Helvetica-Bold"
	case fontOblique:
		return "Helvetica-Oblique"
	case fontCourier:
		return "Courier"
	default:
		return "Helvetica"
	}
}

// glyphWidth returns the advance width of r in 1/1000 em.
func glyphWidth(r rune, f fontID) float64 {
	if f == fontCourier {
		return courierWidth
	}
	if r < 0x20 || r > 0x7E {
		return defaultGlyphWidth
	}
	if f == fontBold {
		return float64(helveticaBoldWidths[r-0x20])
	}
	return float64(helveticaWidths[r-0x20])
}

// stringWidth estimates the rendered width of s in points.
func stringWidth(s string, f fontID, size float64) float64 {
	var units float64
	for _, r := range s {
		units += glyphWidth(r, f)
	}
	return units / 1000 * size
}

func spanWidth(s span) float64 {
	return stringWidth(s.text, s.font, s.size)
}

// winAnsiExtras maps the common typographic runes outside Latin-1 onto
// their WinAnsi code points, so German quotes, dashes and the euro sign
// survive the core-font encoding.
var winAnsiExtras = map[rune]byte{
	'€': 0x80, // euro
	'‚': 0x82, // single low quote
	'„': 0x84, // double low quote (German opening)
	'…': 0x85, // ellipsis
	'‘': 0x91, // left single quote
	'’': 0x92, // right single quote
	'“': 0x93, // left double quote
	'”': 0x94, // right double quote
	'•': 0x95, // bullet
	'–': 0x96, // en dash
	'—': 0x97, // em dash
	'˜': 0x98, // small tilde
	'™': 0x99, // trademark
}

// encodeWinAnsi transcodes UTF-8 to WinAnsi bytes. Latin-1 passes through
// (covering the German alphabet), mapped typography uses the table above,
// anything else degrades to '?'.
func encodeWinAnsi(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		switch {
		case r <= 0xFF:
			out = append(out, byte(r))
		default:
			if b, ok := winAnsiExtras[r]; ok {
				out = append(out, b)
			} else {
				out = append(out, '?')
			}
		}
	}
	return out
}
