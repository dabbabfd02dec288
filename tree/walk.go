package tree

// VisitFunc is called once per visited node with its structural path.
type VisitFunc func(n Node, p Path)

// Walk visits root and its subtree depth-first, pre-order: the node itself,
// then each element child in document order at p>index, then the shadow tree
// (if any) at p>shadowRoot. The shadow tree always comes last.
func Walk(root Node, p Path, visit VisitFunc) {
	if root == nil {
		return
	}
	visit(root, p)
	for i, c := range root.Children() {
		Walk(c, p.Child(i), visit)
	}
	if sr := root.ShadowRoot(); sr != nil {
		Walk(sr, p.Shadow(), visit)
	}
}

// Paths collects every visited node's path in traversal order.
func Paths(root Node) []Path {
	var out []Path
	Walk(root, RootPath, func(_ Node, p Path) {
		out = append(out, p)
	})
	return out
}
