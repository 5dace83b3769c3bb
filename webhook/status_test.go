package webhook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whereissam/walcache/webhook"
)

func TestStatus(t *testing.T) {
	t.Run("wire form round-trips", func(t *testing.T) {
		for _, s := range []webhook.Status{
			webhook.Pending, webhook.Delivering, webhook.Delivered, webhook.Failed, webhook.Retrying,
		} {
			assert.Equal(t, s, webhook.NewStatus(s.String()))
			assert.NoError(t, s.Validate())
		}
	})

	t.Run("unknown strings map to pending", func(t *testing.T) {
		assert.Equal(t, webhook.Pending, webhook.NewStatus("bogus"))
	})

	t.Run("out-of-range values are invalid", func(t *testing.T) {
		assert.Error(t, webhook.Status(0).Validate())
		assert.Error(t, webhook.Status(42).Validate())
	})

	t.Run("only delivered and failed are terminal", func(t *testing.T) {
		assert.True(t, webhook.Delivered.IsFinal())
		assert.True(t, webhook.Failed.IsFinal())
		assert.False(t, webhook.Pending.IsFinal())
		assert.False(t, webhook.Delivering.IsFinal())
		assert.False(t, webhook.Retrying.IsFinal())
	})
}
