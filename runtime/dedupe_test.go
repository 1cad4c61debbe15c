package runtime

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestDedupeWindow_Observe_Then_Prune_By_Age(t *testing.T) {
	req := require.New(t)
	clk := clock.NewMock()
	window := NewDedupeWindow(clk, time.Minute)
	first, second := uuid.New(), uuid.New()

	// Given two identifiers seen 40 seconds apart
	req.True(window.Observe(first))
	req.False(window.Observe(first))
	clk.Add(40 * time.Second)
	req.True(window.Observe(second))

	// When the first one is older than the window
	clk.Add(30 * time.Second)
	pruned := window.Prune()

	// Then only it is pruned
	req.Equal(1, pruned)
	req.Equal(1, window.Len())
	req.False(window.Observe(second))
	req.True(window.Observe(first))
}

func TestDedupeWindow_Clear(t *testing.T) {
	req := require.New(t)
	window := NewDedupeWindow(clock.NewMock(), 0)
	id := uuid.New()
	window.Observe(id)

	window.Clear()

	req.Zero(window.Len())
	req.True(window.Observe(id))
}
