// Package pdf renders case-summary markdown into a self-contained PDF 1.4
// document: A4, Helvetica core fonts, reference number in the page header,
// "Seite N von M" in the footer. Rendering is pure and deterministic; the
// same input always yields identical bytes.
package pdf

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Render lays out the markdown and writes the document. reference appears
// in every page header and as the document title.
func Render(markdown, reference string) ([]byte, error) {
	lines, _, err := layoutMarkdown([]byte(markdown))
	if err != nil {
		return nil, fmt.Errorf("failed to lay out markdown: %w", err)
	}

	pages := paginate(lines)
	streams := make([][]byte, len(pages))
	for i, page := range pages {
		streams[i] = makeStream(page, i+1, len(pages), reference)
	}
	return assemble(streams, reference), nil
}

// makeStream builds one page's content stream: header, body lines, footer.
func makeStream(page []line, pageNum, total int, reference string) []byte {
	var b bytes.Buffer

	// Header: reference right-aligned with a hairline under it.
	refW := stringWidth(reference, fontRegular, chromeSize)
	fmt.Fprintf(&b, "BT\n/%s %s Tf\n", fontName(fontRegular), num(chromeSize))
	fmt.Fprintf(&b, "%s %s Td\n", num(pageWidth-marginRight-refW), num(pageHeight-44))
	fmt.Fprintf(&b, "(%s) Tj\nET\n", escapeText(reference))
	fmt.Fprintf(&b, "0.5 w\n%s %s m %s %s l S\n",
		num(marginLeft), num(pageHeight-54), num(pageWidth-marginRight), num(pageHeight-54))

	y := pageHeight - marginTop
	for _, ln := range page {
		y -= ln.leading
		if ln.rule {
			fmt.Fprintf(&b, "0.5 w\n%s %s m %s %s l S\n",
				num(marginLeft+ln.indent), num(y), num(pageWidth-marginRight), num(y))
			continue
		}
		if len(ln.spans) == 0 {
			continue
		}

		b.WriteString("BT\n")
		fmt.Fprintf(&b, "%s Tw\n", num(wordSpacing(ln)))
		fmt.Fprintf(&b, "%s %s Td\n", num(marginLeft+ln.indent), num(y))
		cur, curSize := fontID(-1), 0.0
		for _, sp := range ln.spans {
			if sp.font != cur || sp.size != curSize {
				fmt.Fprintf(&b, "/%s %s Tf\n", fontName(sp.font), num(sp.size))
				cur, curSize = sp.font, sp.size
			}
			fmt.Fprintf(&b, "(%s) Tj\n", escapeText(sp.text))
		}
		b.WriteString("ET\n")
	}

	// Footer, centered.
	footer := fmt.Sprintf("Seite %d von %d", pageNum, total)
	fw := stringWidth(footer, fontRegular, chromeSize)
	fmt.Fprintf(&b, "BT\n0 Tw\n/%s %s Tf\n", fontName(fontRegular), num(chromeSize))
	fmt.Fprintf(&b, "%s %s Td\n(%s) Tj\nET\n", num((pageWidth-fw)/2), num(38.0), escapeText(footer))

	return b.Bytes()
}

// wordSpacing computes the Tw value that stretches a justified line to the
// full column width. Overstretched lines (short remainders) stay ragged.
func wordSpacing(ln line) float64 {
	if !ln.justify || ln.spaceCount == 0 {
		return 0
	}
	extra := usableWidth() - ln.indent - ln.width
	if extra <= 0 {
		return 0
	}
	w := extra / float64(ln.spaceCount)
	if w > ln.spans[0].size*0.9 {
		return 0
	}
	return w
}

// assemble serializes the object graph: catalog, page tree, page and content
// pairs, the four core fonts, an info dictionary, and the xref table.
func assemble(streams [][]byte, reference string) []byte {
	n := len(streams)
	fonts := []fontID{fontRegular, fontBold, fontOblique, fontCourier}
	firstFontObj := 3 + 2*n
	infoObj := firstFontObj + len(fonts)

	var buf bytes.Buffer
	write := func(s string) { buf.WriteString(s) }
	offsets := make([]int, 0, infoObj)
	xref := func() { offsets = append(offsets, buf.Len()) }

	write("%PDF-1.4\n")

	xref()
	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	xref()
	write("2 0 obj\n")
	write(fmt.Sprintf("<< /Type /Pages /Count %d /Kids [", n))
	for i := 0; i < n; i++ {
		write(fmt.Sprintf(" %d 0 R", 3+i))
	}
	write(" ] >>\nendobj\n")

	for i := 0; i < n; i++ {
		xref()
		write(fmt.Sprintf("%d 0 obj\n", 3+i))
		write(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] ",
			int(pageWidth), int(pageHeight)))
		write("/Resources << /Font <<")
		for j, f := range fonts {
			write(fmt.Sprintf(" /%s %d 0 R", fontName(f), firstFontObj+j))
		}
		write(" >> >> ")
		write(fmt.Sprintf("/Contents %d 0 R >>\nendobj\n", 3+n+i))
	}

	for i, stream := range streams {
		xref()
		write(fmt.Sprintf("%d 0 obj\n<< /Length %d >>\nstream\n", 3+n+i, len(stream)))
		buf.Write(stream)
		write("endstream\nendobj\n")
	}

	for j, f := range fonts {
		xref()
		write(fmt.Sprintf("%d 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /%s /Encoding /WinAnsiEncoding >>\nendobj\n",
			firstFontObj+j, baseFontName(f)))
	}

	xref()
	write(fmt.Sprintf("%d 0 obj\n<< /Title (%s) >>\nendobj\n", infoObj, escapeText(reference)))

	xrefStart := buf.Len()
	write("xref\n")
	write(fmt.Sprintf("0 %d\n", len(offsets)+1))
	write("0000000000 65535 f \n")
	for _, off := range offsets {
		write(fmt.Sprintf("%010d 00000 n \n", off))
	}
	write("trailer\n")
	write(fmt.Sprintf("<< /Size %d /Root 1 0 R /Info %d 0 R >>\n", len(offsets)+1, infoObj))
	write("startxref\n")
	write(fmt.Sprintf("%d\n", xrefStart))
	write("%%EOF\n")

	return buf.Bytes()
}

// escapeText encodes to WinAnsi and escapes for a PDF literal string; bytes
// outside printable ASCII are emitted as octal so the output stays 7-bit.
func escapeText(s string) string {
	var b strings.Builder
	for _, c := range encodeWinAnsi(s) {
		switch {
		case c == '\\' || c == '(' || c == ')':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c > 0x7E:
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// num formats a coordinate with up to two decimals, trimming zeros so the
// output stays compact and stable.
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}
