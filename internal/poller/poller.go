// Package poller keeps the form_build_id of long-lived forms valid.
//
// For every enabled form on a page the poller periodically asks the healer
// endpoint whether the form's token is still backed by the server cache. The
// answer is a command envelope; its "invoke" commands are dispatched against
// the page, which in practice triggers a "pinged" event on the form carrying
// the token the form should hold. The handler bound to that event writes the
// token into the form's hidden input.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/form-healer/internal/command"
	"github.com/ashureev/form-healer/internal/domain"
)

const maxResponseBytes = 1 << 20

type registeredForm struct {
	domain.RegisteredForm
	element  *Element
	inFlight atomic.Bool
}

// Poller polls the healer for every registered form on a page.
type Poller struct {
	cfg        Config
	page       *Page
	client     *http.Client
	forms      []*registeredForm
	bySelector map[string]*registeredForm
	dispatcher *command.Dispatcher[*Element]
	wg         sync.WaitGroup
}

// New builds the form registry for page and binds the pinged handlers.
// Forms are resolved once; the registry does not change afterwards.
func New(cfg Config, page *Page, client *http.Client) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poller config: %w", err)
	}
	if client == nil {
		client = &http.Client{}
	}

	p := &Poller{
		cfg:        cfg,
		page:       page,
		client:     client,
		bySelector: make(map[string]*registeredForm),
		dispatcher: command.NewDispatcher[*Element](),
	}
	p.dispatcher.Register(command.MethodTrigger, trigger)

	for _, f := range page.Forms(cfg.EnabledForms) {
		el := page.Element(f.Selector)
		if el == nil {
			continue
		}
		rf := &registeredForm{RegisteredForm: f, element: el}
		selector := f.Selector
		el.Bind(command.EventPinged, func(args ...any) {
			if len(args) == 0 {
				return
			}
			token, ok := args[0].(string)
			if !ok {
				slog.Debug("Ignoring non-string pinged payload", "form", selector)
				return
			}
			p.Heal(selector, token)
		})

		p.forms = append(p.forms, rf)
		p.bySelector[selector] = rf
	}

	slog.Info("Poller ready", "page", page.URL(), "forms", len(p.forms))
	return p, nil
}

// trigger fires args[0] as an event on the target; a second argument that
// is a list is spread into the handler arguments.
func trigger(el *Element, args []any) error {
	if len(args) == 0 {
		return fmt.Errorf("trigger on #%s: missing event name", el.ID())
	}
	event, ok := args[0].(string)
	if !ok {
		return fmt.Errorf("trigger on #%s: event name is %T, not string", el.ID(), args[0])
	}

	var extra []any
	if len(args) > 1 {
		switch v := args[1].(type) {
		case []any:
			extra = v
		default:
			extra = []any{v}
		}
	}
	slog.Debug("Triggering event", "element", el.ID(), "event", event)
	el.Trigger(event, extra...)
	return nil
}

// Forms returns the registered forms.
func (p *Poller) Forms() []domain.RegisteredForm {
	out := make([]domain.RegisteredForm, 0, len(p.forms))
	for _, f := range p.forms {
		out = append(out, f.RegisteredForm)
	}
	return out
}

// Token returns the token a registered form currently holds.
func (p *Poller) Token(selector string) (string, bool) {
	f, ok := p.bySelector[selector]
	if !ok {
		return "", false
	}
	return f.element.BuildID(), true
}

// Heal writes token into the form's hidden form_build_id input. Writing the
// token the form already holds changes nothing.
func (p *Poller) Heal(selector, token string) {
	f, ok := p.bySelector[selector]
	if !ok {
		slog.Debug("Heal for unregistered form", "form", selector)
		return
	}

	changed, err := f.element.SetBuildID(token)
	if err != nil {
		slog.Warn("Failed to heal form", "form", f.element.ID(), "error", err)
		return
	}
	if changed {
		slog.Info("Form token healed", "form", f.element.ID(), "form_id", f.FormID)
	}
}

// Diagnose sends one freshness query per registered form without waiting
// for the answers. A form whose previous query is still outstanding is
// skipped this round.
func (p *Poller) Diagnose(ctx context.Context) {
	for _, f := range p.forms {
		if !f.inFlight.CompareAndSwap(false, true) {
			slog.Debug("Previous poll still in flight", "form", f.Selector)
			continue
		}

		p.wg.Add(1)
		go func(f *registeredForm) {
			defer p.wg.Done()
			defer f.inFlight.Store(false)

			if err := p.diagnoseForm(ctx, f); err != nil {
				slog.Debug("Poll failed", "form", f.Selector, "error", err)
			}
		}(f)
	}
}

// Wait blocks until all outstanding queries have finished.
func (p *Poller) Wait() {
	p.wg.Wait()
}

// Run polls immediately and then on every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	defer p.wg.Wait()

	slog.Info("Poller started", "interval", p.cfg.Interval, "forms", len(p.forms))
	p.Diagnose(ctx)

	for {
		select {
		case <-ticker.C:
			p.Diagnose(ctx)
		case <-ctx.Done():
			slog.Info("Poller shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (p *Poller) diagnoseForm(ctx context.Context, f *registeredForm) error {
	token := f.element.BuildID()
	if token == "" {
		return fmt.Errorf("form has no %s value", domain.BuildIDField)
	}

	target, err := p.queryURL(f.Selector, token)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Referer", p.page.URL())
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("query healer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query healer: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	cmds, err := command.Decode(body)
	if err != nil {
		return err
	}

	p.dispatcher.Dispatch(cmds, p.resolve)
	return nil
}

func (p *Poller) queryURL(selector, token string) (string, error) {
	u, err := url.Parse(p.cfg.Callback)
	if err != nil {
		return "", fmt.Errorf("parse callback: %w", err)
	}
	q := u.Query()
	q.Set("fid", selector)
	q.Set("fbid", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// resolve maps an id selector to a registered form.
func (p *Poller) resolve(selector string) (*Element, bool) {
	id, ok := strings.CutPrefix(selector, "#")
	if !ok {
		return nil, false
	}
	f, ok := p.bySelector[id]
	if !ok {
		return nil, false
	}
	return f.element, true
}
