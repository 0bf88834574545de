package scrape

import (
	"bytes"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// bodyNode returns the <body> element of doc, or nil.
func bodyNode(doc *html.Node) *html.Node {
	if doc.Type == html.ElementNode && doc.DataAtom == atom.Body {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if n := bodyNode(c); n != nil {
			return n
		}
	}
	return nil
}

// ExtractText returns the visible body text of page: scripts and styles
// dropped, tags stripped, whitespace collapsed, cut to maxChars runes.
func ExtractText(page []byte, maxChars int) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	body := bodyNode(doc)
	if body == nil {
		return ""
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(body)

	return truncate(strings.Join(strings.Fields(sb.String()), " "), maxChars)
}

// ExtractMarkdown converts the body of page to Markdown, cut to maxChars
// runes.
func ExtractMarkdown(page []byte, pageURL string, maxChars int) string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	body := bodyNode(doc)
	if body == nil {
		return ""
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, body); err != nil {
		return ""
	}

	converter := md.NewConverter(domainOf(pageURL), true, nil)
	converter.Remove("script", "style", "noscript", "iframe", "form")
	markdown, err := converter.ConvertString(buf.String())
	if err != nil {
		return ""
	}
	return truncate(strings.TrimSpace(markdown), maxChars)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return strings.TrimSpace(string(runes[:maxChars]))
}

// domainOf returns scheme://host for resolving relative links.
func domainOf(pageURL string) string {
	if i := strings.Index(pageURL, "://"); i >= 0 {
		rest := pageURL[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			rest = rest[:j]
		}
		return pageURL[:i+3] + rest
	}
	return ""
}
