package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmext "github.com/yuin/goldmark/extension"
	gmast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Page geometry and type sizes, in points. A4 portrait.
const (
	pageWidth    = 595.0
	pageHeight   = 842.0
	marginLeft   = 57.0
	marginRight  = 57.0
	marginTop    = 76.0
	marginBottom = 64.0

	bodySize    = 11.0
	bodyLeading = 15.5
	h1Size      = 18.0
	h2Size      = 14.0
	h3Size      = 12.0
	codeSize    = 9.0
	chromeSize  = 9.0

	listIndent  = 16.0
	quoteIndent = 18.0

	paragraphGap = 6.0
	headingGap   = 12.0
	blockGap     = 8.0
)

type fontID int

const (
	fontRegular fontID = iota
	fontBold
	fontOblique
	fontCourier
)

// span is a run of text in one face and size.
type span struct {
	text string
	font fontID
	size float64
}

// line is one laid-out visual line. A nil-span line with a positive leading
// is vertical whitespace; rule lines draw a horizontal stroke instead of
// text.
type line struct {
	spans      []span
	indent     float64
	leading    float64
	justify    bool
	width      float64
	spaceCount int
	rule       bool
}

func usableWidth() float64  { return pageWidth - marginLeft - marginRight }
func usableHeight() float64 { return pageHeight - marginTop - marginBottom }

// layouter walks the markdown AST and accumulates lines.
type layouter struct {
	source []byte
	lines  []line
	title  string
}

// layoutMarkdown parses GFM markdown and returns the laid-out lines plus the
// document title (first level-1 heading).
func layoutMarkdown(source []byte) ([]line, string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(gmext.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	doc := md.Parser().Parse(text.NewReader(source))

	l := &layouter{source: source}
	l.walkBlocks(doc, 0, fontRegular)
	return l.lines, l.title, nil
}

func (l *layouter) walkBlocks(parent ast.Node, indent float64, baseFont fontID) {
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			l.addHeading(n)
		case *ast.Paragraph:
			spans := l.collectSpans(n, span{font: baseFont, size: bodySize})
			l.lines = append(l.lines, wrapSpans(spans, usableWidth()-indent, indent, true, bodyLeading)...)
			l.gap(paragraphGap)
		case *ast.List:
			l.addList(n, indent)
			l.gap(paragraphGap)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			l.addCode(child, indent)
			l.gap(blockGap)
		case *ast.Blockquote:
			l.walkBlocks(n, indent+quoteIndent, fontOblique)
		case *ast.ThematicBreak:
			l.gap(blockGap)
			l.lines = append(l.lines, line{rule: true, leading: blockGap, indent: indent})
			l.gap(blockGap)
		case *gmast.Table:
			l.addTable(n, indent)
			l.gap(blockGap)
		}
	}
}

func (l *layouter) gap(pts float64) {
	l.lines = append(l.lines, line{leading: pts})
}

func (l *layouter) addHeading(h *ast.Heading) {
	size := h3Size
	switch h.Level {
	case 1:
		size = h1Size
	case 2:
		size = h2Size
	}
	spans := l.collectSpans(h, span{font: fontBold, size: size})
	if h.Level == 1 && l.title == "" {
		l.title = plainText(spans)
	}
	l.gap(headingGap)
	l.lines = append(l.lines, wrapSpans(spans, usableWidth(), 0, false, size*1.35)...)
	l.gap(paragraphGap)
}

func (l *layouter) addList(list *ast.List, indent float64) {
	num := list.Start
	if num == 0 {
		num = 1
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "• "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		markerSpan := span{text: marker, font: fontRegular, size: bodySize}
		markerW := spanWidth(markerSpan)
		first := true

		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch n := c.(type) {
			case *ast.TextBlock, *ast.Paragraph:
				spans := l.collectSpans(c, span{font: fontRegular, size: bodySize})
				wrapped := wrapSpans(spans, usableWidth()-indent-markerW, indent+markerW, false, bodyLeading)
				if first && len(wrapped) > 0 {
					wrapped[0].indent = indent
					wrapped[0].spans = append([]span{markerSpan}, wrapped[0].spans...)
					first = false
				}
				l.lines = append(l.lines, wrapped...)
			case *ast.List:
				l.addList(n, indent+listIndent)
			case *ast.FencedCodeBlock, *ast.CodeBlock:
				l.addCode(c, indent+listIndent)
			}
		}
	}
}

func (l *layouter) addCode(node ast.Node, indent float64) {
	var buf bytes.Buffer
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(l.source))
	}

	cols := int((usableWidth() - indent - listIndent) / (courierWidth / 1000 * codeSize))
	if cols < 1 {
		cols = 1
	}
	for _, raw := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		row := strings.TrimRight(raw, "\r")
		for {
			chunk := row
			if len(chunk) > cols {
				chunk, row = row[:cols], row[cols:]
			} else {
				row = ""
			}
			l.lines = append(l.lines, line{
				spans:   []span{{text: chunk, font: fontCourier, size: codeSize}},
				indent:  indent + listIndent,
				leading: codeSize * 1.3,
			})
			if row == "" {
				break
			}
		}
	}
}

// addTable renders a GFM table as Courier rows padded to shared column
// widths, with a dash rule under the header row.
func (l *layouter) addTable(table *gmast.Table, indent float64) {
	var rows [][]string
	for sec := table.FirstChild(); sec != nil; sec = sec.NextSibling() {
		switch row := sec.(type) {
		case *gmast.TableHeader:
			rows = append(rows, l.tableCells(row))
		case *gmast.TableRow:
			rows = append(rows, l.tableCells(row))
		}
	}
	if len(rows) == 0 {
		return
	}

	widths := columnWidths(rows, int((usableWidth()-indent)/(courierWidth/1000*codeSize)))

	emit := func(cells []string) {
		var b strings.Builder
		for i, w := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if len(cell) > w {
				cell = cell[:w]
			}
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", w-len(cell)))
		}
		l.lines = append(l.lines, line{
			spans:   []span{{text: strings.TrimRight(b.String(), " "), font: fontCourier, size: codeSize}},
			indent:  indent,
			leading: codeSize * 1.4,
		})
	}

	emit(rows[0])
	var dashes []string
	for _, w := range widths {
		dashes = append(dashes, strings.Repeat("-", w))
	}
	emit(dashes)
	for _, row := range rows[1:] {
		emit(row)
	}
}

func (l *layouter) tableCells(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		spans := l.collectSpans(cell, span{font: fontRegular, size: codeSize})
		cells = append(cells, plainText(spans))
	}
	return cells
}

// columnWidths sizes columns to their longest cell, shrinking the widest
// columns proportionally when the table exceeds the page.
func columnWidths(rows [][]string, maxCols int) []int {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	total := 2 * (len(widths) - 1)
	for _, w := range widths {
		total += w
	}
	for total > maxCols {
		// Shave the widest column until the table fits.
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 3 {
			break
		}
		widths[widest]--
		total--
	}
	return widths
}

// collectSpans flattens the inline children of node into styled runs.
func (l *layouter) collectSpans(node ast.Node, base span) []span {
	var spans []span
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Text:
			spans = append(spans, span{text: string(n.Segment.Value(l.source)), font: base.font, size: base.size})
			if n.SoftLineBreak() || n.HardLineBreak() {
				spans = append(spans, span{text: " ", font: base.font, size: base.size})
			}
		case *ast.String:
			spans = append(spans, span{text: string(n.Value), font: base.font, size: base.size})
		case *ast.Emphasis:
			b := base
			if n.Level >= 2 {
				b.font = fontBold
			} else if b.font != fontBold {
				b.font = fontOblique
			}
			spans = append(spans, l.collectSpans(n, b)...)
		case *ast.CodeSpan:
			b := base
			b.font = fontCourier
			spans = append(spans, l.collectSpans(n, b)...)
		case *ast.Link:
			spans = append(spans, l.collectSpans(n, base)...)
		case *ast.AutoLink:
			spans = append(spans, span{text: string(n.URL(l.source)), font: fontCourier, size: base.size})
		case *ast.Image:
			spans = append(spans, l.collectSpans(n, base)...)
		case *gmast.Strikethrough:
			spans = append(spans, l.collectSpans(n, base)...)
		case *gmast.TaskCheckBox:
			mark := "[ ] "
			if n.IsChecked {
				mark = "[x] "
			}
			spans = append(spans, span{text: mark, font: fontCourier, size: base.size})
		}
	}
	return spans
}

func plainText(spans []span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.text)
	}
	return strings.TrimSpace(b.String())
}

// word is a wrap token.
type word struct {
	text  string
	font  fontID
	size  float64
	width float64
}

// wrapSpans performs greedy word wrapping. All lines but the paragraph's
// last are flagged for justification when justify is set.
func wrapSpans(spans []span, maxWidth, indent float64, justify bool, leading float64) []line {
	words := tokenize(spans)
	if len(words) == 0 {
		return nil
	}

	var out []line
	var cur []word
	var curWidth float64

	flush := func(last bool) {
		if len(cur) == 0 {
			return
		}
		ln := buildLine(cur, indent, leading)
		ln.justify = justify && !last && ln.spaceCount > 0
		out = append(out, ln)
		cur, curWidth = nil, 0
	}

	for _, w := range words {
		spaceW := 0.0
		if len(cur) > 0 {
			spaceW = glyphWidth(' ', w.font) / 1000 * w.size
		}
		if len(cur) > 0 && curWidth+spaceW+w.width > maxWidth {
			flush(false)
			spaceW = 0
		}
		// A word wider than the whole line is hard-cut.
		for w.width > maxWidth && len(w.text) > 1 {
			cut := len(w.text) * int(maxWidth) / int(w.width+1)
			if cut < 1 {
				cut = 1
			}
			head := word{text: w.text[:cut], font: w.font, size: w.size}
			head.width = stringWidth(head.text, head.font, head.size)
			cur = append(cur, head)
			flush(false)
			w.text = w.text[cut:]
			w.width = stringWidth(w.text, w.font, w.size)
		}
		cur = append(cur, w)
		curWidth += spaceW + w.width
	}
	flush(true)
	return out
}

func tokenize(spans []span) []word {
	var words []word
	for _, s := range spans {
		for _, p := range strings.Fields(s.text) {
			words = append(words, word{
				text: p, font: s.font, size: s.size,
				width: stringWidth(p, s.font, s.size),
			})
		}
	}
	return words
}

// buildLine merges consecutive words into spans separated by single spaces.
func buildLine(words []word, indent, leading float64) line {
	var spans []span
	var width float64
	spaces := 0
	for i, w := range words {
		if i > 0 {
			spaces++
			width += glyphWidth(' ', w.font) / 1000 * w.size
		}
		width += w.width
		if len(spans) > 0 && spans[len(spans)-1].font == w.font && spans[len(spans)-1].size == w.size {
			if i > 0 {
				spans[len(spans)-1].text += " "
			}
			spans[len(spans)-1].text += w.text
		} else {
			txt := w.text
			if i > 0 {
				txt = " " + txt
			}
			spans = append(spans, span{text: txt, font: w.font, size: w.size})
		}
	}
	return line{spans: spans, indent: indent, leading: leading, width: width, spaceCount: spaces}
}

// paginate fills pages top-down by accumulated leading.
func paginate(lines []line) [][]line {
	var pages [][]line
	var page []line
	var used float64

	for _, ln := range lines {
		// Whitespace at a page top is dropped.
		if len(page) == 0 && len(ln.spans) == 0 && !ln.rule {
			continue
		}
		if used+ln.leading > usableHeight() && len(page) > 0 {
			pages = append(pages, page)
			page, used = nil, 0
			if len(ln.spans) == 0 && !ln.rule {
				continue
			}
		}
		page = append(page, ln)
		used += ln.leading
	}
	if len(page) > 0 || len(pages) == 0 {
		pages = append(pages, page)
	}
	return pages
}
