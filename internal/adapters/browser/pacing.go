package browser

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/ohmynofan/luckywheel-bot/pkg/utils"
)

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// humanMove glides the pointer from a random nearby origin to (x, y).
func (p *chromePage) humanMove(ctx context.Context, x, y float64) error {
	if !p.pacing.Enabled {
		return nil
	}

	fromX := x + float64(utils.RandomInt(-200, 200))
	fromY := y + float64(utils.RandomInt(-150, 150))
	steps := int(utils.RandomInt(6, 14))

	actions := make([]chromedp.Action, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		ease := 0.5 - math.Cos(t*math.Pi)/2
		actions = append(actions, chromedp.MouseEvent(input.MouseMoved,
			fromX+(x-fromX)*ease,
			fromY+(y-fromY)*ease,
		))
	}
	if err := p.run(ctx, p.navigate, actions...); err != nil {
		return err
	}
	return pause(ctx, utils.RandomDuration(p.pacing.TypeDelayMin, p.pacing.TypeDelayMax))
}

// nudgeScroll scrolls the viewport by a small random amount.
func (p *chromePage) nudgeScroll(ctx context.Context) error {
	if !p.pacing.Enabled {
		return nil
	}
	js := fmt.Sprintf(`window.scrollBy(0, %d)`, utils.RandomInt(-60, 120))
	return p.run(ctx, p.navigate, chromedp.Evaluate(js, nil))
}

func (p *chromePage) typeHuman(ctx context.Context, selector, text string) error {
	if !p.pacing.Enabled {
		return p.run(ctx, p.navigate, chromedp.SendKeys(selector, text, chromedp.ByQuery))
	}
	for _, r := range text {
		if err := p.run(ctx, p.navigate, chromedp.SendKeys(selector, string(r), chromedp.ByQuery)); err != nil {
			return err
		}
		if err := pause(ctx, utils.RandomDuration(p.pacing.TypeDelayMin, p.pacing.TypeDelayMax)); err != nil {
			return err
		}
	}
	return pause(ctx, p.pacing.StepDelay)
}
