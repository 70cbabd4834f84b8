package site

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ohmynofan/luckywheel-bot/internal/adapters/browser"
)

// challengeTarget captures the challenge image straight from its data URI
// and falls back to an element screenshot.
type challengeTarget struct {
	page   browser.Page
	image  string
	input  string
	wait   time.Duration
	settle time.Duration
}

func (c *challengeTarget) CaptureImage(ctx context.Context) ([]byte, error) {
	if err := c.page.WaitVisible(ctx, c.image, c.wait); err != nil {
		return nil, err
	}
	if err := pause(ctx, c.settle); err != nil {
		return nil, err
	}

	for _, attr := range []string{"ng-src", "src"} {
		v, ok, err := c.page.Attribute(ctx, c.image, attr)
		if err != nil {
			return nil, err
		}
		if ok && strings.HasPrefix(v, "data:image") {
			img, err := browser.DecodeDataURI(v)
			if err != nil {
				return nil, fmt.Errorf("challenge image: %w", err)
			}
			return img, nil
		}
	}
	return c.page.Screenshot(ctx, c.image)
}

func (c *challengeTarget) Enter(ctx context.Context, code string) error {
	return c.page.Type(ctx, c.input, code)
}
