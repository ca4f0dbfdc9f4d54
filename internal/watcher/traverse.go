// Package watcher polls the target application's windows: it detects new
// firewall alerts and notices when the operator has dismissed one.
package watcher

import "github.com/EasonC13-shadow/LuLuAICompanion/internal/domain"

// CollectTexts gathers every text value in the element subtree rooted at
// root. The walk uses an explicit stack rather than recursion so pathological
// window trees cannot exhaust stack depth; every element is visited exactly
// once, and text values are deduplicated by exact match preserving first-seen
// order.
func CollectTexts(root domain.UIElement) []string {
	if root == nil {
		return nil
	}

	var texts []string
	seen := make(map[string]struct{})
	stack := []domain.UIElement{root}

	for len(stack) > 0 {
		el := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if el == nil {
			continue
		}

		for _, t := range el.Texts() {
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			texts = append(texts, t)
		}

		// Push children in reverse so the first child is visited next,
		// keeping document order.
		children := el.Children()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return texts
}
