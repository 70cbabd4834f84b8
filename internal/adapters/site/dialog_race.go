package site

import (
	"context"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser"
	"github.com/ohmynofan/luckywheel-bot/internal/domain/model"
)

const (
	noResultMessage    = "No result detected"
	noDescription      = "N/A"
	dialogShownMessage = "Dialog shown"
)

// dialogRace races the success banner against the alert dialog, then
// polls for a late dialog and dismisses it. NN77N reports this way.
type dialogRace struct {
	flow
}

func (a *dialogRace) PollBonusOutcome(ctx context.Context, surface browser.Page) (model.Outcome, error) {
	m, ok, err := AwaitFirst(ctx, surface, a.t.PollInterval,
		Marker{Name: "success", Selector: a.sel.BonusSuccess, Timeout: a.t.BonusRace},
		Marker{Name: "error", Selector: a.sel.ErrorDialog, Timeout: a.t.BonusRace},
	)
	if err != nil {
		return model.Outcome{}, err
	}
	if ok && m.Name == "success" {
		return model.BonusAwarded(a.textOr(ctx, surface, a.sel.BonusDescription, noDescription)), nil
	}

	_, found, err := AwaitFirst(ctx, surface, a.t.DialogPoll,
		Marker{Name: "dialog", Selector: a.sel.ErrorDialog, Timeout: a.t.ErrorDialog, Present: true},
	)
	if err != nil {
		return model.Outcome{}, err
	}
	if !found {
		return model.NoBonus(noResultMessage), nil
	}

	msg := a.textOr(ctx, surface, a.sel.ErrorDialogMessage, dialogShownMessage)
	if visible, err := surface.Visible(ctx, a.sel.ErrorDialogConfirm); err == nil && visible {
		if err := surface.Click(ctx, a.sel.ErrorDialogConfirm); err != nil {
			a.log.Error("dismiss dialog", err)
		}
	}
	return model.NoBonus(msg), nil
}
