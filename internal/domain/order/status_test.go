package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:    {StatusConfirmed, StatusCancelled},
		StatusConfirmed:  {StatusProcessing, StatusCancelled},
		StatusProcessing: {StatusShipped, StatusCancelled},
		StatusShipped:    {StatusDelivered},
		StatusDelivered:  {},
		StatusCancelled:  {},
	}

	all := []Status{
		StatusPending, StatusConfirmed, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled,
	}

	for from, targets := range allowed {
		ok := make(map[Status]bool, len(targets))
		for _, to := range targets {
			ok[to] = true
		}
		for _, to := range all {
			assert.Equal(t, ok[to], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusShipped.IsTerminal())

	assert.True(t, StatusPending.PreFulfillment())
	assert.True(t, StatusConfirmed.PreFulfillment())
	assert.True(t, StatusProcessing.PreFulfillment())
	assert.False(t, StatusShipped.PreFulfillment())
	assert.False(t, StatusDelivered.PreFulfillment())
	assert.False(t, StatusCancelled.PreFulfillment())
}

func TestStatusEffect(t *testing.T) {
	assert.Equal(t, EffectRelease, StatusCancelled.Effect())
	assert.Equal(t, EffectFinalize, StatusDelivered.Effect())
	assert.Equal(t, EffectNone, StatusConfirmed.Effect())
	assert.Equal(t, EffectNone, StatusShipped.Effect())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Shipped")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, s)

	_, err = ParseStatus("shipped")
	assert.Error(t, err, "statuses are case-sensitive")

	_, err = ParseStatus("Returned")
	assert.Error(t, err)
}

func TestGenerateTrackingNumber(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		tn := GenerateTrackingNumber()
		assert.Regexp(t, `^TRK-[0-9A-F]{16}$`, tn)
		seen[tn] = struct{}{}
	}
	assert.Len(t, seen, 100, "generated numbers collide far too often")
}
