package site

import (
	"context"
	"time"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser"
)

// Marker is one element AwaitFirst watches for. It stops being checked
// once Timeout has elapsed. Present markers match on existence alone.
type Marker struct {
	Name     string
	Selector string
	Timeout  time.Duration
	Present  bool
}

// AwaitFirst polls every interval and returns the first marker found.
// ok is false once every marker has expired.
func AwaitFirst(ctx context.Context, page browser.Page, interval time.Duration, markers ...Marker) (Marker, bool, error) {
	start := time.Now()
	for {
		live := 0
		elapsed := time.Since(start)
		for _, m := range markers {
			if m.Selector == "" || elapsed > m.Timeout {
				continue
			}
			live++

			found, err := matches(ctx, page, m)
			if err != nil {
				return Marker{}, false, err
			}
			if found {
				return m, true, nil
			}
		}
		if live == 0 {
			return Marker{}, false, nil
		}
		if err := pause(ctx, interval); err != nil {
			return Marker{}, false, err
		}
	}
}

func matches(ctx context.Context, page browser.Page, m Marker) (bool, error) {
	if m.Present {
		n, err := page.Count(ctx, m.Selector)
		return n > 0, err
	}
	return page.Visible(ctx, m.Selector)
}
