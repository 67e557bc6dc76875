package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/uiverify/internal/browser"
)

func TestVerifier_Await(t *testing.T) {
	v := NewVerifier(zaptest.NewLogger(t), 2*time.Millisecond)

	t.Run("url and text must both hold", func(t *testing.T) {
		page := newFakePage()
		page.url = testBase + "/en/editor?id=3"

		verdict := v.Await(context.Background(), page, Condition{URLPattern: `/en/editor\?id=`, Text: "Splash Screen"}, 20*time.Millisecond)
		assert.Equal(t, TimedOut, verdict.Kind)
		assert.Equal(t, page.url, verdict.LastURL)
		assert.Contains(t, verdict.Detail, "Splash Screen")

		page.setBody("Manifest Splash Screen")
		verdict = v.Await(context.Background(), page, Condition{URLPattern: `/en/editor\?id=`, Text: "Splash Screen"}, 20*time.Millisecond)
		assert.Equal(t, Reached, verdict.Kind)
	})

	t.Run("state reached while polling", func(t *testing.T) {
		page := newFakePage()
		go func() {
			time.Sleep(10 * time.Millisecond)
			page.setBody("LinkedIn")
		}()

		verdict := v.Await(context.Background(), page, Condition{Text: "LinkedIn"}, time.Second)
		assert.Equal(t, Reached, verdict.Kind)
	})

	t.Run("invalid url pattern is an error", func(t *testing.T) {
		verdict := v.Await(context.Background(), newFakePage(), Condition{URLPattern: "[unclosed"}, time.Second)
		assert.Equal(t, Error, verdict.Kind)
		require.Error(t, verdict.Err)
	})

	t.Run("empty condition is an error", func(t *testing.T) {
		verdict := v.Await(context.Background(), newFakePage(), Condition{}, time.Second)
		assert.Equal(t, Error, verdict.Kind)
	})

	t.Run("closed page is an error", func(t *testing.T) {
		page := newFakePage()
		page.close()
		verdict := v.Await(context.Background(), page, Condition{Text: "Web"}, time.Second)
		assert.Equal(t, Error, verdict.Kind)
		assert.ErrorIs(t, verdict.Err, browser.ErrPageClosed)
	})

	t.Run("enclosing deadline ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		verdict := v.Await(ctx, newFakePage(), Condition{Text: "Web"}, time.Minute)
		assert.Equal(t, TimedOut, verdict.Kind)
		assert.ErrorIs(t, verdict.Err, context.DeadlineExceeded)
	})
}

func TestCondition_String(t *testing.T) {
	assert.Equal(t, `url~"a"`, Condition{URLPattern: "a"}.String())
	assert.Equal(t, `text "b"`, Condition{Text: "b"}.String())
	assert.Equal(t, `url~"a" and text "b"`, Condition{URLPattern: "a", Text: "b"}.String())
}
