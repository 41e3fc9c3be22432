package host

import "context"

// CTA button labels of the community plugins tab. They are matched exactly.
const (
	LabelTurnOnAndReload = "Turn on and reload"
	LabelTurnOnPlugins   = "Turn on community plugins"
)

const ctaSelector = `.setting-item-control button.mod-cta`

// OpenSettings opens the settings modal on the given tab.
func (s *Surface) OpenSettings(ctx context.Context, tab string) error {
	return s.eval(ctx, nil, `tab => { app.setting.open(); app.setting.openTabById(tab); }`, tab)
}

func (s *Surface) CloseSettings(ctx context.Context) error {
	return s.eval(ctx, nil, `() => { app.setting.close(); }`)
}

// CTALabel returns the trimmed label of the call-to-action button on the
// current settings tab, or "" when there is none.
func (s *Surface) CTALabel(ctx context.Context) (string, error) {
	var label string
	err := s.eval(ctx, &label, `sel => {
		const b = document.querySelector(sel);
		return b ? b.textContent.trim() : '';
	}`, ctaSelector)
	return label, err
}

// ClickCTA clicks the call-to-action button. It reports false when absent.
func (s *Surface) ClickCTA(ctx context.Context) (bool, error) {
	var ok bool
	err := s.eval(ctx, &ok, `sel => {
		const b = document.querySelector(sel);
		if (!b) return false;
		b.click();
		return true;
	}`, ctaSelector)
	return ok, err
}
