// Package doctree holds the format-neutral outline parsers produce and
// flattens it back into the plain text the chunker consumes.
package doctree

import (
	"strings"
)

// DocTree is the root of a parsed document.
type DocTree struct {
	Title    string     // Document title (from metadata or filename)
	Children []*DocNode // Top-level sections
}

// DocNode is a recursive section in the document tree.
type DocNode struct {
	Title    string     // Section heading (empty for leaf text)
	Text     string     // Text content of this node (may be empty for container nodes)
	Page     int        // Source page (0 if N/A)
	Children []*DocNode // Subsections
}

// Builder assembles a tree from a flat stream of headings and text blocks.
// A heading nests under the nearest preceding heading of a lower level.
type Builder struct {
	title string
	root  *DocNode
	stack []stackEntry
	text  strings.Builder
}

type stackEntry struct {
	node  *DocNode
	level int
}

func NewBuilder(title string) *Builder {
	root := &DocNode{Title: title}
	return &Builder{
		title: title,
		root:  root,
		stack: []stackEntry{{node: root, level: 0}},
	}
}

// Heading opens a section at level (1 is outermost).
func (b *Builder) Heading(level int, title string) {
	b.flush()
	if level < 1 {
		level = 1
	}
	node := &DocNode{Title: title}
	for len(b.stack) > 1 && b.stack[len(b.stack)-1].level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	parent := b.stack[len(b.stack)-1].node
	parent.Children = append(parent.Children, node)
	b.stack = append(b.stack, stackEntry{node: node, level: level})
}

// Text appends a block of body text to the current section.
func (b *Builder) Text(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if b.text.Len() > 0 {
		b.text.WriteString("\n\n")
	}
	b.text.WriteString(t)
}

func (b *Builder) flush() {
	t := b.text.String()
	b.text.Reset()
	if t == "" {
		return
	}
	top := b.stack[len(b.stack)-1].node
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
	}
}

// Tree finishes the build. Text outside any heading becomes a leading
// untitled node.
func (b *Builder) Tree() *DocTree {
	b.flush()
	tree := &DocTree{Title: b.title, Children: b.root.Children}
	if b.root.Text != "" {
		tree.Children = append([]*DocNode{{Text: b.root.Text}}, tree.Children...)
	}
	return tree
}

// Render flattens the tree to text. Titled nodes become marked headings
// ("## Funding") at their depth so structural chunking can find them.
func Render(tree *DocTree) string {
	if tree == nil {
		return ""
	}
	var blocks []string
	var walk func(nodes []*DocNode, depth int)
	walk = func(nodes []*DocNode, depth int) {
		for _, n := range nodes {
			if t := strings.TrimSpace(n.Title); t != "" {
				blocks = append(blocks, strings.Repeat("#", min(depth, 6))+" "+t)
			}
			if t := strings.TrimSpace(n.Text); t != "" {
				blocks = append(blocks, t)
			}
			walk(n.Children, depth+1)
		}
	}
	walk(tree.Children, 1)
	if len(blocks) == 0 {
		return ""
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

// Pages returns the highest page number in the tree, or 0.
func Pages(tree *DocTree) int {
	if tree == nil {
		return 0
	}
	maxPage := 0
	var walk func(nodes []*DocNode)
	walk = func(nodes []*DocNode) {
		for _, n := range nodes {
			maxPage = max(maxPage, n.Page)
			walk(n.Children)
		}
	}
	walk(tree.Children)
	return maxPage
}
