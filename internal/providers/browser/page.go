// File: internal/providers/browser/page.go
// Description: Turns a captured DOM into the text observation shown to the
// model. Clickable elements are tagged in the live page first (see
// tagScript); this file renders the tagged DOM as plain text with inline
// <N> markers and collects the element references.
package browser

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// refAttr marks a clickable element with its enumeration number. The same
// attribute doubles as the click selector, so the rendered marker and the
// dispatch target can never drift apart.
const refAttr = "data-pilot-ref"

// tagScript runs inside the page: it numbers every followable link, button
// and button-like input, and strips markers left over from a previous
// enumeration so refs never survive a navigation.
const tagScript = `(() => {
	document.querySelectorAll('[` + refAttr + `]').forEach(el => el.removeAttribute('` + refAttr + `'));
	const clickable = document.querySelectorAll(
		'a[href], button, input[type="button"], input[type="submit"], input[type="reset"]');
	let n = 1;
	clickable.forEach(el => { el.setAttribute('` + refAttr + `', String(n)); n++; });
	return n - 1;
})()`

// blockTags force a line break in the rendered text.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "section": true, "article": true, "form": true,
}

// skipTags contribute nothing visible.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"template": true, "svg": true,
}

// renderPage converts a tagged DOM snapshot into model-readable text plus the
// list of enumerated elements, in ref order.
func renderPage(domContent string) (string, []schemas.ElementRef, error) {
	root, err := html.Parse(strings.NewReader(domContent))
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	var elements []schemas.ElementRef
	walk(root, &b, &elements)

	sort.Slice(elements, func(i, j int) bool { return elements[i].Ref < elements[j].Ref })
	return collapseBlankLines(b.String()), elements, nil
}

func walk(n *html.Node, b *strings.Builder, elements *[]schemas.ElementRef) {
	switch n.Type {
	case html.TextNode:
		if text := collapseSpace(n.Data); text != "" {
			b.WriteString(text)
			b.WriteString(" ")
		}
		return
	case html.ElementNode:
		if skipTags[n.Data] {
			return
		}
		if ref, ok := elementRef(n); ok {
			*elements = append(*elements, schemas.ElementRef{Ref: ref, Label: elementLabel(n)})
			b.WriteString("<")
			b.WriteString(strconv.Itoa(ref))
			b.WriteString("> ")
		}
		if blockTags[n.Data] {
			b.WriteString("\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, b, elements)
	}

	if n.Type == html.ElementNode && blockTags[n.Data] {
		b.WriteString("\n")
	}
}

func elementRef(n *html.Node) (int, bool) {
	for _, a := range n.Attr {
		if a.Key == refAttr {
			ref, err := strconv.Atoi(a.Val)
			return ref, err == nil
		}
	}
	return 0, false
}

// elementLabel derives the human-readable label of a clickable element: its
// text content, or for inputs the value attribute.
func elementLabel(n *html.Node) string {
	if n.Data == "input" {
		for _, a := range n.Attr {
			if a.Key == "value" && a.Val != "" {
				return a.Val
			}
		}
		for _, a := range n.Attr {
			if a.Key == "type" {
				return "[" + a.Val + "]"
			}
		}
		return "[input]"
	}

	var b strings.Builder
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)

	label := collapseSpace(b.String())
	if label == "" {
		label = "[unlabeled]"
	}
	return label
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " ")
		if strings.TrimSpace(line) == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
