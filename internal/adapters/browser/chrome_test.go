package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/luckywheel-bot/internal/config"
)

func TestDecodeDataURI(t *testing.T) {
	b, err := DecodeDataURI("data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	b, err = DecodeDataURI("data:text/plain,raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	_, err = DecodeDataURI("https://example.com/c.png")
	require.Error(t, err)

	_, err = DecodeDataURI("data:image/png;base64")
	require.Error(t, err)
}

func TestQuoteEscapesSelectors(t *testing.T) {
	assert.Equal(t, `"input[ng-model=\"$ctrl.code\"]"`, quote(`input[ng-model="$ctrl.code"]`))
}

func TestAllocatorOptionsIncludeDefaults(t *testing.T) {
	c := NewChrome(config.Browser{Headless: true, UserAgent: "ua", WindowWidth: 1280, WindowHeight: 800}, 0)
	opts := c.allocatorOptions()
	assert.Greater(t, len(opts), 7)
}
