// Package extract locates form state tokens in rendered HTML.
//
// Parsing is tolerant: golang.org/x/net/html recovers from malformed markup
// the same way browsers do, so a broken page yields a best-effort tree
// rather than an error.
package extract

import (
	"errors"
	"fmt"
	"io"

	"github.com/ashureev/form-healer/internal/domain"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrFormNotFound is returned when no <form> carries the requested id.
	ErrFormNotFound = errors.New("extract: form not found")

	// ErrBuildIDNotFound is returned when the form has no usable form_build_id input.
	ErrBuildIDNotFound = errors.New("extract: form_build_id not found")
)

// Parse parses a document, tolerating malformed markup.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return doc, nil
}

// BuildID parses a page and returns the form_build_id value of the form
// whose id attribute equals formID.
func BuildID(r io.Reader, formID string) (domain.StateToken, error) {
	doc, err := Parse(r)
	if err != nil {
		return "", err
	}
	return BuildIDFromNode(doc, formID)
}

// BuildIDFromNode is BuildID on an already parsed document.
func BuildIDFromNode(doc *html.Node, formID string) (domain.StateToken, error) {
	form := FormByID(doc, formID)
	if form == nil {
		return "", fmt.Errorf("%w: %q", ErrFormNotFound, formID)
	}

	input := BuildIDInput(form)
	if input == nil {
		return "", fmt.Errorf("%w in form %q", ErrBuildIDNotFound, formID)
	}
	value, ok := Attr(input, "value")
	if !ok || value == "" {
		return "", fmt.Errorf("%w: empty value in form %q", ErrBuildIDNotFound, formID)
	}
	return domain.StateToken(value), nil
}

// FormByID returns the first <form> element whose id equals id.
func FormByID(root *html.Node, id string) *html.Node {
	return Find(root, func(n *html.Node) bool {
		if n.DataAtom != atom.Form {
			return false
		}
		v, ok := Attr(n, "id")
		return ok && v == id
	})
}

// BuildIDInput returns the form_build_id input inside form.
func BuildIDInput(form *html.Node) *html.Node {
	return inputNamed(form, domain.BuildIDField)
}

func inputNamed(root *html.Node, name string) *html.Node {
	return Find(root, func(n *html.Node) bool {
		if n.DataAtom != atom.Input {
			return false
		}
		v, ok := Attr(n, "name")
		return ok && v == name
	})
}
