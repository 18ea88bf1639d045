package middleware_test

import (
	"errors"
	"testing"

	"github.com/deep-rent/opx/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trail struct{ steps []string }

func record(name string) middleware.Pipe[string, *trail, int] {
	return func(in string, w *trail, c int, next func(string, *trail, int) error) error {
		w.steps = append(w.steps, "before:"+name)
		err := next(in, w, c)
		w.steps = append(w.steps, "after:"+name)
		return err
	}
}

func TestChainOrdersOutermostFirst(t *testing.T) {
	w := &trail{}
	chain := middleware.Chain(record("a"), record("b"), record("c"))

	err := chain("in", w, 0, func(string, *trail, int) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{
		"before:a", "before:b", "before:c",
		"after:c", "after:b", "after:a",
	}, w.steps)
}

func TestChainPropagatesHandlerError(t *testing.T) {
	w := &trail{}
	boom := errors.New("boom")
	chain := middleware.Chain(record("a"))

	err := chain("in", w, 0, func(string, *trail, int) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestChainSkipsNilPipes(t *testing.T) {
	w := &trail{}
	chain := middleware.Chain[string, *trail, int](nil, record("a"), nil)

	err := chain("in", w, 0, func(string, *trail, int) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"before:a", "after:a"}, w.steps)
}

func TestChainEmptyCallsNextDirectly(t *testing.T) {
	called := false
	chain := middleware.Chain[string, *trail, int]()
	err := chain("in", &trail{}, 0, func(string, *trail, int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSkipBypassesWhenConditionTrue(t *testing.T) {
	w := &trail{}
	pipe := middleware.Skip(record("a"), func(string, *trail, int) bool { return true })

	err := pipe("in", w, 0, func(string, *trail, int) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, w.steps)
}

func TestSkipRunsPipeWhenConditionFalse(t *testing.T) {
	w := &trail{}
	pipe := middleware.Skip(record("a"), func(string, *trail, int) bool { return false })

	err := pipe("in", w, 0, func(string, *trail, int) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"before:a", "after:a"}, w.steps)
}
