package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostPacer_SpacesSameHost(t *testing.T) {
	pacer := NewHostPacer(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, pacer.Wait(ctx, "https://portal.example.gov/a"))
	require.NoError(t, pacer.Wait(ctx, "https://portal.example.gov/b"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestHostPacer_IndependentHosts(t *testing.T) {
	pacer := NewHostPacer(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, pacer.Wait(ctx, "https://a.example.gov/"))
	require.NoError(t, pacer.Wait(ctx, "https://b.example.gov/"))
}

func TestHostPacer_Disabled(t *testing.T) {
	var nilPacer *HostPacer
	assert.NoError(t, nilPacer.Wait(context.Background(), "https://a.example.gov/"))
	assert.NoError(t, NewHostPacer(0).Wait(context.Background(), "https://a.example.gov/"))
}

func TestIsXPath(t *testing.T) {
	assert.True(t, IsXPath("//a[contains(., 'Next')]"))
	assert.True(t, IsXPath("(//button)[1]"))
	assert.False(t, IsXPath("a[aria-label=\"Next\"]"))
	assert.False(t, IsXPath(".pagination .next"))
}
