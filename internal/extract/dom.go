package extract

import (
	"log/slog"

	"github.com/ashureev/form-healer/internal/domain"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Find returns the first element in root's subtree (root included) for
// which match returns true, in document order.
func Find(root *html.Node, match func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := Find(c, match); found != nil {
			return found
		}
	}
	return nil
}

// Attr returns the value of an attribute and whether it was present.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets an attribute, adding it if missing.
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// ClosestForm returns the nearest <form> ancestor of n, or nil.
func ClosestForm(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Form {
			return p
		}
	}
	return nil
}

// Forms finds the forms on a page whose hidden form_id input carries one of
// the enabled values. Forms without an id attribute cannot be addressed by
// the healer and are skipped.
func Forms(doc *html.Node, enabled []string) []domain.RegisteredForm {
	var forms []domain.RegisteredForm
	seen := make(map[string]bool)

	for _, formID := range enabled {
		input := Find(doc, func(n *html.Node) bool {
			if n.DataAtom != atom.Input {
				return false
			}
			name, _ := Attr(n, "name")
			value, _ := Attr(n, "value")
			return name == domain.FormIDField && value == formID
		})
		if input == nil {
			continue
		}

		form := ClosestForm(input)
		if form == nil {
			slog.Debug("form_id input outside of a form", "form_id", formID)
			continue
		}
		selector, ok := Attr(form, "id")
		if !ok || selector == "" {
			slog.Debug("Enabled form has no id attribute", "form_id", formID)
			continue
		}
		if seen[selector] {
			continue
		}
		seen[selector] = true
		forms = append(forms, domain.RegisteredForm{FormID: formID, Selector: selector})
	}

	return forms
}
