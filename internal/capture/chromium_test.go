package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()
	o := Options{URL: "http://127.0.0.1:3000/"}
	require.NoError(t, o.normalize())
	assert.Equal(t, 800, o.Width)
	assert.Equal(t, 480, o.Height)
	assert.Equal(t, DefaultSelector, o.WaitSelector)
	assert.Equal(t, DefaultSettle, o.Settle)
	assert.Equal(t, DefaultTimeout, o.Timeout)
}

func TestCapturePNGRequiresURL(t *testing.T) {
	t.Parallel()
	_, err := CapturePNG(context.Background(), Options{})
	assert.EqualError(t, err, "capture: URL is required")
}
