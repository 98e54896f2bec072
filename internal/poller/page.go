package poller

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ashureev/form-healer/internal/domain"
	"github.com/ashureev/form-healer/internal/extract"
	"golang.org/x/net/html"
)

const maxPageBytes = 5 * 1024 * 1024

// Page is a rendered HTML document kept in memory, standing in for the
// browser's live DOM. All reads and writes of the tree go through its lock.
type Page struct {
	mu  sync.Mutex
	url string
	doc *html.Node
}

// NewPage parses a document that was served from pageURL.
func NewPage(pageURL string, r io.Reader) (*Page, error) {
	doc, err := extract.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Page{url: pageURL, doc: doc}, nil
}

// LoadPage requests pageURL and parses the response.
func LoadPage(ctx context.Context, client *http.Client, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("load page: unexpected status %d", resp.StatusCode)
	}
	return NewPage(pageURL, io.LimitReader(resp.Body, maxPageBytes))
}

// URL returns the address the page was loaded from.
func (p *Page) URL() string {
	return p.url
}

// Forms returns the forms whose form_id is enabled.
func (p *Page) Forms(enabled []string) []domain.RegisteredForm {
	p.mu.Lock()
	defer p.mu.Unlock()
	return extract.Forms(p.doc, enabled)
}

// Element returns a handle on the form with the given id, or nil.
func (p *Page) Element(id string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()

	node := extract.FormByID(p.doc, id)
	if node == nil {
		return nil
	}
	return &Element{page: p, node: node, id: id, handlers: make(map[string][]EventHandler)}
}

// Render writes the current document.
func (p *Page) Render(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// EventHandler receives the extra arguments of a triggered event.
type EventHandler func(args ...any)

// Element is a form on a Page that events can be bound to.
type Element struct {
	page *Page
	node *html.Node
	id   string

	mu       sync.Mutex
	handlers map[string][]EventHandler
}

// ID returns the element's id attribute.
func (e *Element) ID() string {
	return e.id
}

// Bind adds a handler for event.
func (e *Element) Bind(event string, h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], h)
}

// Trigger runs the handlers bound to event, in binding order.
func (e *Element) Trigger(event string, args ...any) {
	e.mu.Lock()
	handlers := append([]EventHandler(nil), e.handlers[event]...)
	e.mu.Unlock()

	for _, h := range handlers {
		h(args...)
	}
}

// BuildID returns the value of the form's hidden form_build_id input.
func (e *Element) BuildID() string {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()

	input := extract.BuildIDInput(e.node)
	if input == nil {
		return ""
	}
	value, _ := extract.Attr(input, "value")
	return value
}

// SetBuildID writes token into the form's hidden form_build_id input and
// reports whether the stored value changed.
func (e *Element) SetBuildID(token string) (bool, error) {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()

	input := extract.BuildIDInput(e.node)
	if input == nil {
		return false, fmt.Errorf("form %q has no %s input", e.id, domain.BuildIDField)
	}
	if current, _ := extract.Attr(input, "value"); current == token {
		return false, nil
	}
	extract.SetAttr(input, "value", token)
	return true, nil
}
