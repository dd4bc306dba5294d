package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Empty(t *testing.T) {
	assert.Nil(t, Render(""))
	assert.Empty(t, Render("\n\n\n"))
}

func TestRender_BoldAndCodeBlock(t *testing.T) {
	nodes := Render("**Hi**\n```js\nx=1\n```")

	var strong, code int
	var walk func([]Node)
	walk = func(ns []Node) {
		for _, n := range ns {
			switch n.Kind {
			case KindStrong:
				strong++
				assert.Equal(t, "Hi", n.Text)
			case KindCodeBlock:
				code++
				assert.Equal(t, "js", n.Language)
				assert.Equal(t, "x=1", n.Text)
				assert.True(t, n.Copyable)
			}
			walk(n.Children)
		}
	}
	walk(nodes)

	assert.Equal(t, 1, strong)
	assert.Equal(t, 1, code)
}

func TestRender_CodeBlockKeepsInnerBlankLines(t *testing.T) {
	nodes := Render("```\nline one\n\nline two\n```")
	require.Len(t, nodes, 1)
	assert.Equal(t, KindCodeBlock, nodes[0].Kind)
	assert.Equal(t, "", nodes[0].Language)
	assert.Equal(t, "line one\n\nline two", nodes[0].Text)
}

func TestRender_SingleLineFence(t *testing.T) {
	nodes := Render("```echo hi```")
	require.Len(t, nodes, 1)
	assert.Equal(t, "echo hi", nodes[0].Text)
}

func TestRender_ClosingFenceOnContentLine(t *testing.T) {
	nodes := Render("```py\nprint(1)```")
	require.Len(t, nodes, 1)
	assert.Equal(t, "py", nodes[0].Language)
	assert.Equal(t, "print(1)", nodes[0].Text)
}

func TestRender_Headings(t *testing.T) {
	nodes := Render("# One\n\n## Two\n\n### Three\n\n#### Four")
	require.Len(t, nodes, 4)

	for i, want := range []string{"One", "Two", "Three"} {
		assert.Equal(t, KindHeading, nodes[i].Kind)
		assert.Equal(t, i+1, nodes[i].Level)
		assert.Equal(t, want, nodes[i].Text)
	}
	assert.Equal(t, KindParagraph, nodes[3].Kind)
}

func TestRender_List(t *testing.T) {
	nodes := Render("- first\n- **second**\n- `third`")
	require.Len(t, nodes, 1)
	list := nodes[0]
	assert.Equal(t, KindList, list.Kind)
	require.Len(t, list.Children, 3)

	assert.Equal(t, []Node{{Kind: KindText, Text: "first"}}, list.Children[0].Children)
	assert.Equal(t, []Node{{Kind: KindStrong, Text: "second"}}, list.Children[1].Children)
	assert.Equal(t, []Node{{Kind: KindInlineCode, Text: "third"}}, list.Children[2].Children)
}

func TestRender_InlineSpans(t *testing.T) {
	nodes := Render("Use `go test` and **read** the output.")
	require.Len(t, nodes, 1)
	assert.Equal(t, []Node{
		{Kind: KindText, Text: "Use "},
		{Kind: KindInlineCode, Text: "go test"},
		{Kind: KindText, Text: " and "},
		{Kind: KindStrong, Text: "read"},
		{Kind: KindText, Text: " the output."},
	}, nodes[0].Children)
}

func TestRender_UnclosedMarkersStayText(t *testing.T) {
	nodes := Render("a **b and `c")
	require.Len(t, nodes, 1)
	assert.Equal(t, []Node{{Kind: KindText, Text: "a **b and `c"}}, nodes[0].Children)
}

func TestRender_Deterministic(t *testing.T) {
	in := "# T\n\npara **x**\n\n```go\nfunc main() {}\n```\n\n- a\n- b"
	assert.Equal(t, Render(in), Render(in))
}

func TestPlainText(t *testing.T) {
	nodes := Render("# Title\n\nSome **bold** text\n\n```sh\nls\n```")
	assert.Equal(t, "Title\nSome bold text\nls", PlainText(nodes))
}
