package ledger

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlab/promptlab/errors"
)

func TestRegister(t *testing.T) {
	t.Run("first registration creates version 1", func(t *testing.T) {
		l := New(nil)

		v, err := l.Register("greeting", "Hello {{name}}", RegisterOptions{Author: "kim"})
		require.NoError(t, err)
		assert.Equal(t, 1, v.Version)
		assert.Equal(t, "Hello {{name}}", v.Content)
		assert.Equal(t, "kim", v.Author)
		assert.False(t, v.CreatedAt.IsZero())

		active, err := l.Active("greeting")
		require.NoError(t, err)
		assert.Equal(t, 1, active.Version)
	})

	t.Run("versions are dense and strictly increasing", func(t *testing.T) {
		l := New(nil)

		for i := 1; i <= 10; i++ {
			v, err := l.Register("greeting", fmt.Sprintf("content %d", i), RegisterOptions{})
			require.NoError(t, err)
			assert.Equal(t, i, v.Version)
		}

		history, err := l.History("greeting")
		require.NoError(t, err)
		require.Len(t, history, 10)
		for i, v := range history {
			assert.Equal(t, i+1, v.Version, "no gaps, ascending order")
		}
	})

	t.Run("registration moves active pointer to new version", func(t *testing.T) {
		l := New(nil)
		mustRegister(t, l, "p", "one")
		mustRegister(t, l, "p", "two")

		active, err := l.Active("p")
		require.NoError(t, err)
		assert.Equal(t, 2, active.Version)
		assert.Equal(t, "two", active.Content)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		l := New(nil)
		_, err := l.Register("", "content", RegisterOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("empty content rejected", func(t *testing.T) {
		l := New(nil)
		_, err := l.Register("p", "", RegisterOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})
}

func TestAppend(t *testing.T) {
	t.Run("does not move the active pointer", func(t *testing.T) {
		l := New(nil)
		mustRegister(t, l, "p", "one")

		v, err := l.Append("p", "two", RegisterOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, v.Version)

		active, err := l.Active("p")
		require.NoError(t, err)
		assert.Equal(t, 1, active.Version)
		assert.Equal(t, "one", active.Content)

		history, err := l.History("p")
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("first version of a new prompt becomes active", func(t *testing.T) {
		l := New(nil)

		v, err := l.Append("p", "one", RegisterOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, v.Version)

		active, err := l.Active("p")
		require.NoError(t, err)
		assert.Equal(t, 1, active.Version)
	})

	t.Run("register after append continues numbering and promotes", func(t *testing.T) {
		l := New(nil)
		mustRegister(t, l, "p", "one")
		_, err := l.Append("p", "two", RegisterOptions{})
		require.NoError(t, err)

		v, err := l.Register("p", "three", RegisterOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3, v.Version)

		active, err := l.Active("p")
		require.NoError(t, err)
		assert.Equal(t, 3, active.Version)
	})
}

func TestReadIsolation(t *testing.T) {
	t.Run("mutating a history record does not reach the ledger", func(t *testing.T) {
		l := New(nil)
		_, err := l.Register("p", "one", RegisterOptions{
			Metadata: map[string]interface{}{"owner": "platform"},
		})
		require.NoError(t, err)

		history, err := l.History("p")
		require.NoError(t, err)
		history[0].Content = "tampered"
		history[0].Metadata["owner"] = "tampered"

		fresh, err := l.Version("p", 1)
		require.NoError(t, err)
		assert.Equal(t, "one", fresh.Content)
		assert.Equal(t, "platform", fresh.Metadata["owner"])
	})

	t.Run("mutating Active and Get results does not reach the ledger", func(t *testing.T) {
		l := New(nil)
		mustRegister(t, l, "p", "one")

		active, err := l.Active("p")
		require.NoError(t, err)
		active.Content = "tampered"

		record, err := l.Get("p")
		require.NoError(t, err)
		record.Versions[0].Content = "also tampered"

		fresh, err := l.Active("p")
		require.NoError(t, err)
		assert.Equal(t, "one", fresh.Content)
	})
}

func TestVersionLookup(t *testing.T) {
	l := New(nil)
	mustRegister(t, l, "p", "one")
	mustRegister(t, l, "p", "two")

	t.Run("specific version", func(t *testing.T) {
		v, err := l.Version("p", 1)
		require.NoError(t, err)
		assert.Equal(t, "one", v.Content)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := l.Version("p", 3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrVersionNotFound))

		_, err = l.Version("p", 0)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrVersionNotFound))
	})

	t.Run("unknown prompt", func(t *testing.T) {
		_, err := l.Version("nope", 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		_, err = l.Active("nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		_, err = l.History("nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestRollback(t *testing.T) {
	t.Run("moves pointer without deleting history", func(t *testing.T) {
		l := New(nil)
		mustRegister(t, l, "p", "one")
		mustRegister(t, l, "p", "two")
		mustRegister(t, l, "p", "three")

		v, err := l.Rollback("p", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, v.Version)

		history, err := l.History("p")
		require.NoError(t, err)
		assert.Len(t, history, 3, "rollback must not truncate history")

		active, err := l.Active("p")
		require.NoError(t, err)
		assert.Equal(t, 1, active.Version)
	})

	t.Run("register after rollback continues from max version ever", func(t *testing.T) {
		l := New(nil)
		mustRegister(t, l, "p", "one")
		mustRegister(t, l, "p", "two")
		mustRegister(t, l, "p", "three")

		_, err := l.Rollback("p", 1)
		require.NoError(t, err)

		v, err := l.Register("p", "four", RegisterOptions{})
		require.NoError(t, err)
		assert.Equal(t, 4, v.Version, "numbering never reuses 2")
	})

	t.Run("rollback to missing version fails", func(t *testing.T) {
		l := New(nil)
		mustRegister(t, l, "p", "one")

		_, err := l.Rollback("p", 9)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrVersionNotFound))

		// Active pointer untouched
		active, err := l.Active("p")
		require.NoError(t, err)
		assert.Equal(t, 1, active.Version)
	})

	t.Run("rollback on unknown prompt fails", func(t *testing.T) {
		l := New(nil)
		_, err := l.Rollback("nope", 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestList(t *testing.T) {
	l := New(nil)
	mustRegister(t, l, "a", "content")
	mustRegister(t, l, "b", "content")
	mustRegister(t, l, "b", "content 2")

	summaries := l.List()
	require.Len(t, summaries, 2)

	byName := make(map[string]Summary)
	for _, s := range summaries {
		byName[s.Name] = s
	}
	assert.Equal(t, 1, byName["a"].VersionCount)
	assert.Equal(t, 2, byName["b"].VersionCount)
	assert.Equal(t, 2, byName["b"].ActiveVersion)
}

func TestRestore(t *testing.T) {
	t.Run("round trips through Get", func(t *testing.T) {
		l := New(nil)
		mustRegister(t, l, "p", "one")
		mustRegister(t, l, "p", "two")
		_, err := l.Rollback("p", 1)
		require.NoError(t, err)

		record, err := l.Get("p")
		require.NoError(t, err)

		fresh := New(nil)
		require.NoError(t, fresh.Restore(record))

		active, err := fresh.Active("p")
		require.NoError(t, err)
		assert.Equal(t, 1, active.Version)

		history, err := fresh.History("p")
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("rejects gapped history", func(t *testing.T) {
		l := New(nil)
		err := l.Restore(&Prompt{
			Name:          "p",
			ActiveVersion: 1,
			Versions: []*PromptVersion{
				{Version: 1, Content: "one"},
				{Version: 3, Content: "three"},
			},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("rejects dangling active pointer", func(t *testing.T) {
		l := New(nil)
		err := l.Restore(&Prompt{
			Name:          "p",
			ActiveVersion: 5,
			Versions:      []*PromptVersion{{Version: 1, Content: "one"}},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})
}

func TestConcurrentRegistration(t *testing.T) {
	l := New(nil)

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				// Half the workers hit a shared name, half their own
				name := "shared"
				if w%2 == 0 {
					name = fmt.Sprintf("own-%d", w)
				}
				_, err := l.Register(name, "content", RegisterOptions{})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	history, err := l.History("shared")
	require.NoError(t, err)
	require.Len(t, history, workers/2*perWorker)
	for i, v := range history {
		assert.Equal(t, i+1, v.Version, "concurrent registrations must not corrupt ordering")
	}
}

func mustRegister(t *testing.T, l *Ledger, name, content string) *PromptVersion {
	t.Helper()
	v, err := l.Register(name, content, RegisterOptions{})
	require.NoError(t, err)
	return v
}
