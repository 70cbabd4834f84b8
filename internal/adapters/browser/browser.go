// Package browser is the actuator layer: isolated browser sessions and the
// page operations site adapters are written against.
package browser

import (
	"context"
	"errors"
	"time"
)

var ErrElementNotFound = errors.New("element not found")

// Page is one browser tab. Waits take an explicit timeout and report
// expiry as model.ErrElementTimeout.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Visible(ctx context.Context, selector string) (bool, error)
	Count(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	ClickNth(ctx context.Context, selector string, index int) error
	ClickParent(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Text(ctx context.Context, selector string) (string, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	// ClickAndWaitTarget clicks selector and returns the tab it opens.
	ClickAndWaitTarget(ctx context.Context, selector string, timeout time.Duration) (Page, error)
	Close() error
}

// Session owns one browser process and its primary tab. Close tears down
// every tab the session opened.
type Session interface {
	Page() Page
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}
