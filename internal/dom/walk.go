// SPDX-License-Identifier: Apache-2.0

package dom

// Walk visits root and its descendants in tree order, descending into shadow
// trees right after their host. visit returning false skips the element's
// subtree. The traversal uses an explicit stack.
func Walk(root *Element, visit func(*Element) bool) {
	if root == nil {
		return
	}
	stack := []*Element{root}
	for len(stack) > 0 {
		el := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !visit(el) {
			continue
		}

		// Push in reverse so the first child is visited first; light-DOM
		// children come after the shadow tree.
		for i := len(el.children) - 1; i >= 0; i-- {
			stack = append(stack, el.children[i])
		}
		if el.shadow != nil {
			for i := len(el.shadow.children) - 1; i >= 0; i-- {
				stack = append(stack, el.shadow.children[i])
			}
		}
	}
}

// QueryAll collects every element under root (root included) matching match.
func QueryAll(root *Element, match func(*Element) bool) []*Element {
	var out []*Element
	Walk(root, func(el *Element) bool {
		if match(el) {
			out = append(out, el)
		}
		return true
	})
	return out
}
