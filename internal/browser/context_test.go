// internal/browser/context_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	type ctxKey string
	const key ctxKey = "target"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		primary := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		cancelPrimary()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		secondary, cancelSecondary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		cancelSecondary()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("SecondaryDeadline", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelSecondary()
		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context outlived the secondary deadline")
		}
	})
}
