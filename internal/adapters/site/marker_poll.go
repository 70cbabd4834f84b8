package site

import (
	"context"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

const noPopupMessage = "No bonus or error popup detected."

// markerPoll reads the wheel result from one of two markers, checked by a
// single bounded poll. BMW reports this way.
type markerPoll struct {
	flow
}

func (a *markerPoll) PollBonusOutcome(ctx context.Context, surface browser.Page) (model.Outcome, error) {
	m, ok, err := AwaitFirst(ctx, surface, a.t.PollInterval,
		Marker{Name: "bonus", Selector: a.sel.BonusSuccess, Timeout: a.t.BonusOutcome, Present: true},
		Marker{Name: "error", Selector: a.sel.BonusError, Timeout: a.t.BonusOutcome, Present: true},
	)
	if err != nil {
		return model.Outcome{}, err
	}
	if !ok {
		return model.NoBonus(noPopupMessage), nil
	}

	text := a.textOr(ctx, surface, m.Selector, "")
	if m.Name == "bonus" {
		return model.BonusAwarded(text), nil
	}
	return model.NoBonus(text), nil
}
