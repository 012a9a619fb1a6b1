package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// keystrokeGap paces slow typing and the focus-then-type sequence.
const keystrokeGap = 50 * time.Millisecond

// Click clicks the element a snapshot ref points at.
func (m *Manager) Click(ctx context.Context, targetID, ref string, opts ClickOpts) error {
	_, el, err := m.element(targetID, ref)
	if err != nil {
		return err
	}

	button := proto.InputMouseButtonLeft
	switch opts.Button {
	case "right":
		button = proto.InputMouseButtonRight
	case "middle":
		button = proto.InputMouseButtonMiddle
	}

	count := 1
	if opts.DoubleClick {
		count = 2
	}
	return el.Click(button, count)
}

// Type focuses the element behind ref and enters text.
func (m *Manager) Type(ctx context.Context, targetID, ref, text string, opts TypeOpts) error {
	page, el, err := m.element(targetID, ref)
	if err != nil {
		return err
	}

	// Click to focus; some inputs ignore programmatic focus.
	_ = el.Click(proto.InputMouseButtonLeft, 1)
	time.Sleep(keystrokeGap)

	if opts.Slowly {
		for _, r := range text {
			el.MustInput(string(r))
			time.Sleep(keystrokeGap)
		}
	} else {
		el.MustInput(text)
	}

	if opts.Submit {
		time.Sleep(keystrokeGap)
		_ = page.Keyboard.Press(input.Enter)
	}
	return nil
}

// Evaluate runs a JavaScript expression in a tab and returns the
// result's string form.
func (m *Manager) Evaluate(ctx context.Context, targetID, js string) (string, error) {
	page, err := m.lookupPage(targetID)
	if err != nil {
		return "", err
	}
	out, err := page.Eval(js)
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	return out.Value.String(), nil
}
