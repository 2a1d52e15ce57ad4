package extractor

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	spaceRun     = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLineRun = regexp.MustCompile(`\n{2,}`)
)

// tableRows returns the non-empty cell texts of every <tr> in the document
func tableRows(doc *html.Node) [][]string {
	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
					continue
				}
				text := strings.TrimSpace(spaceRun.ReplaceAllString(nodeText(c), " "))
				if text != "" && text != ":" {
					cells = append(cells, text)
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows
}

func hasTable(doc *html.Node) bool {
	if doc.Type == html.ElementNode && doc.DataAtom == atom.Table {
		return true
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if hasTable(c) {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	renderText(n, &b)
	return strings.TrimSpace(b.String())
}

// renderText writes the visible text of n. Block elements end a line and
// table cells are separated by a space.
func renderText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head:
			return
		case atom.Br:
			b.WriteString("\n")
			return
		case atom.Td, atom.Th:
			b.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(c, b)
	}

	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.P, atom.Div, atom.Tr, atom.Li, atom.Table, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			b.WriteString("\n")
		}
	}
}

// htmlToText renders an HTML body as plain text with one block per line
func htmlToText(doc *html.Node) string {
	var b strings.Builder
	renderText(doc, &b)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		out = append(out, line)
	}
	text := strings.Join(out, "\n")
	return strings.TrimSpace(blankLineRun.ReplaceAllString(text, "\n"))
}

// parseHTML parses a body; x/net/html recovers from malformed markup so the
// only failure is an empty body
func parseHTML(body string) (*html.Node, bool) {
	if strings.TrimSpace(body) == "" {
		return nil, false
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, false
	}
	return doc, true
}
