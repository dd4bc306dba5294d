// Package markdown turns model output into a small render tree. It knows
// fenced code blocks, headings, dash lists, paragraphs, bold and inline code,
// and nothing else: no nesting, no escaping.
package markdown

import (
	"regexp"
	"strings"
)

type Kind string

const (
	KindCodeBlock  Kind = "code_block"
	KindHeading    Kind = "heading"
	KindList       Kind = "list"
	KindListItem   Kind = "list_item"
	KindParagraph  Kind = "paragraph"
	KindText       Kind = "text"
	KindStrong     Kind = "strong"
	KindInlineCode Kind = "inline_code"
)

type Node struct {
	Kind     Kind   `json:"kind"`
	Level    int    `json:"level,omitempty"`    // headings only
	Language string `json:"language,omitempty"` // code blocks only
	Text     string `json:"text,omitempty"`
	Copyable bool   `json:"copyable,omitempty"` // Text is the clipboard payload
	Children []Node `json:"children,omitempty"`
}

const fence = "```"

var (
	fenceRe     = regexp.MustCompile("(?s)```.*?```")
	paragraphRe = regexp.MustCompile(`\n\n+`)
	inlineRe    = regexp.MustCompile("\\*\\*.*?\\*\\*|`.*?`")
)

// Render parses text into block nodes. The same input always yields the
// same tree.
func Render(text string) []Node {
	if text == "" {
		return nil
	}
	var nodes []Node
	last := 0
	for _, loc := range fenceRe.FindAllStringIndex(text, -1) {
		nodes = append(nodes, renderBlocks(text[last:loc[0]])...)
		nodes = append(nodes, codeBlock(text[loc[0]:loc[1]]))
		last = loc[1]
	}
	return append(nodes, renderBlocks(text[last:])...)
}

// codeBlock takes a whole fenced span. The first line names the language;
// the closing fence line is dropped.
func codeBlock(block string) Node {
	lines := strings.Split(block, "\n")
	if len(lines) == 1 {
		return Node{Kind: KindCodeBlock, Text: strings.TrimSuffix(strings.TrimPrefix(block, fence), fence), Copyable: true}
	}
	lang := strings.TrimSpace(strings.TrimPrefix(lines[0], fence))
	body := lines[1:]
	if tail := strings.TrimSuffix(body[len(body)-1], fence); strings.TrimSpace(tail) == "" {
		body = body[:len(body)-1]
	} else {
		body[len(body)-1] = tail
	}
	return Node{
		Kind:     KindCodeBlock,
		Language: lang,
		Text:     strings.Join(body, "\n"),
		Copyable: true,
	}
}

func renderBlocks(text string) []Node {
	var nodes []Node
	for _, para := range paragraphRe.Split(text, -1) {
		para = strings.Trim(para, "\n")
		if strings.TrimSpace(para) == "" {
			continue
		}
		nodes = append(nodes, block(para))
	}
	return nodes
}

func block(para string) Node {
	switch {
	case strings.HasPrefix(para, "# "):
		return Node{Kind: KindHeading, Level: 1, Text: para[2:]}
	case strings.HasPrefix(para, "## "):
		return Node{Kind: KindHeading, Level: 2, Text: para[3:]}
	case strings.HasPrefix(para, "### "):
		return Node{Kind: KindHeading, Level: 3, Text: para[4:]}
	case strings.HasPrefix(para, "- "):
		list := Node{Kind: KindList}
		for _, line := range strings.Split(para, "\n") {
			item := strings.TrimPrefix(strings.TrimSpace(line), "- ")
			list.Children = append(list.Children, Node{Kind: KindListItem, Children: inline(item)})
		}
		return list
	default:
		return Node{Kind: KindParagraph, Children: inline(para)}
	}
}

func inline(text string) []Node {
	var nodes []Node
	last := 0
	for _, loc := range inlineRe.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			nodes = append(nodes, Node{Kind: KindText, Text: text[last:loc[0]]})
		}
		span := text[loc[0]:loc[1]]
		if strings.HasPrefix(span, "**") {
			nodes = append(nodes, Node{Kind: KindStrong, Text: span[2 : len(span)-2]})
		} else {
			nodes = append(nodes, Node{Kind: KindInlineCode, Text: span[1 : len(span)-1]})
		}
		last = loc[1]
	}
	if last < len(text) {
		nodes = append(nodes, Node{Kind: KindText, Text: text[last:]})
	}
	return nodes
}

// PlainText flattens a tree to its visible text, one line per block.
func PlainText(nodes []Node) string {
	var b strings.Builder
	for _, n := range nodes {
		writePlain(&b, n)
	}
	return strings.TrimSpace(b.String())
}

func writePlain(b *strings.Builder, n Node) {
	switch n.Kind {
	case KindText, KindStrong, KindInlineCode:
		b.WriteString(n.Text)
		return
	}
	b.WriteString(n.Text)
	for _, c := range n.Children {
		writePlain(b, c)
	}
	b.WriteString("\n")
}
