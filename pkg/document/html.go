package document

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Tags whose subtree is boilerplate rather than content.
var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
}

// ExtractHTML pulls the readable text out of an HTML document. Boilerplate
// subtrees are dropped, tables are rendered as markdown, and the remaining
// text nodes are joined line by line with newline runs collapsed. An empty
// result means the page had no extractable content.
func ExtractHTML(raw []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteByte('\n')
			}
			return
		case html.ElementNode:
			if skippedTags[n.Data] {
				return
			}
			if n.Data == "table" {
				if table := renderTable(n); table != "" {
					b.WriteString(table)
					b.WriteByte('\n')
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return strings.TrimSpace(collapseNewlines(b.String())), nil
}

// renderTable flattens a table element into a github-style markdown table.
// The first row supplies the header, with repeated column names
// disambiguated through MakeUnique.
func renderTable(table *html.Node) string {
	var rows [][]string
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			if cells := rowCells(n); len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(table)
	if len(rows) == 0 {
		return ""
	}

	counts := make(map[string]int)
	header := make([]string, len(rows[0]))
	for i, name := range rows[0] {
		header[i] = MakeUnique(name, counts)
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}
	writeRow(header)
	sep := make([]string, len(header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// rowCells returns the text of each th/td cell in a table row, with
// embedded newlines flattened to spaces.
func rowCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.Data != "td" && c.Data != "th") {
			continue
		}
		var b strings.Builder
		var text func(n *html.Node)
		text = func(n *html.Node) {
			if n.Type == html.TextNode {
				b.WriteString(n.Data)
				return
			}
			for gc := n.FirstChild; gc != nil; gc = gc.NextSibling {
				text(gc)
			}
		}
		text(c)
		cells = append(cells, strings.Join(strings.Fields(b.String()), " "))
	}
	return cells
}
