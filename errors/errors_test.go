package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapf(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.Contains(t, wrapped.Error(), "original")
}

func TestIs(t *testing.T) {
	err1 := New("error 1")
	err2 := New("error 2")
	wrapped := Wrap(err1, "wrapped")

	assert.True(t, Is(wrapped, err1))
	assert.False(t, Is(wrapped, err2))
	assert.False(t, Is(nil, err1))
}

type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}

func TestAs(t *testing.T) {
	original := &customError{msg: "custom"}
	wrapped := Wrap(original, "wrapped")

	var target *customError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "custom", target.msg)
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")

	// Format with stack trace
	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithStack(nil))
}

func TestSentinelTaxonomy(t *testing.T) {
	t.Run("wrapping preserves sentinel type", func(t *testing.T) {
		err := Wrapf(ErrVersionNotFound, "prompt %q has no version %d", "greeting", 7)
		assert.True(t, Is(err, ErrVersionNotFound))
		assert.False(t, Is(err, ErrNotFound))
		assert.Contains(t, err.Error(), "greeting")
	})

	t.Run("sentinels are distinct", func(t *testing.T) {
		sentinels := []error{
			ErrNotFound,
			ErrVersionNotFound,
			ErrValidation,
			ErrInvalidState,
			ErrUnknownVariant,
			ErrRender,
		}
		for i, a := range sentinels {
			for j, b := range sentinels {
				if i == j {
					continue
				}
				assert.False(t, Is(a, b), "%v should not match %v", a, b)
			}
		}
	})
}

func TestIsNotFound(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(New("other")))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(Wrap(ErrNotFound, "prompt lookup")))
	assert.True(t, IsNotFound(NewNotFound("prompt %q", "greeting")))
}

func TestIsValidation(t *testing.T) {
	assert.False(t, IsValidation(nil))
	assert.True(t, IsValidation(NewValidation("need at least %d variants", 2)))
}

func ExampleNew() {
	err := New("something went wrong")
	fmt.Println(err)
	// Output: something went wrong
}

func ExampleWrap() {
	baseErr := New("connection failed")
	err := Wrap(baseErr, "failed to connect to database")
	fmt.Println(err)
	// Output: failed to connect to database: connection failed
}
