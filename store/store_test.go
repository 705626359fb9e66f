package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/experiment"
	"github.com/promptlab/promptlab/ledger"
)

func testPrompt() *ledger.Prompt {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &ledger.Prompt{
		Name:          "greeting",
		ActiveVersion: 2,
		Tags:          []string{"production", "onboarding"},
		Metadata:      map[string]interface{}{"owner": "platform"},
		Versions: []*ledger.PromptVersion{
			{
				Version:   1,
				Content:   "Hello {{name}}",
				Author:    "alice",
				Message:   "initial",
				CreatedAt: created,
			},
			{
				Version:   2,
				Content:   "Hi there {{name}}",
				Author:    "bob",
				Message:   "warmer tone",
				Metadata:  map[string]interface{}{"reviewed": true},
				CreatedAt: created.Add(time.Hour),
			},
		},
	}
}

func testStoredExperiment() *experiment.Experiment {
	return &experiment.Experiment{
		ID:            "exp-42",
		PromptName:    "greeting",
		SuccessMetric: "latency_ms",
		Status:        experiment.StatusActive,
		CreatedAt:     time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Variants: map[string]*experiment.Variant{
			"control":   {Name: "control", Content: "Hello {{name}}", Version: 1, Weight: 50},
			"treatment": {Name: "treatment", Content: "Hi there {{name}}", Version: 2, Weight: 50},
		},
	}
}

// backendTests exercises the Backend contract shared by both
// implementations.
func backendTests(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("prompt round trip", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		p := testPrompt()
		require.NoError(t, b.SavePrompt(p))

		got, err := b.LoadPrompt("greeting")
		require.NoError(t, err)
		assert.Equal(t, p.Name, got.Name)
		assert.Equal(t, p.ActiveVersion, got.ActiveVersion)
		assert.Equal(t, p.Tags, got.Tags)
		require.Len(t, got.Versions, 2)
		assert.Equal(t, "Hello {{name}}", got.Versions[0].Content)
		assert.Equal(t, "bob", got.Versions[1].Author)
		assert.True(t, p.Versions[1].CreatedAt.Equal(got.Versions[1].CreatedAt))
	})

	t.Run("saving again preserves history and moves the pointer", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		p := testPrompt()
		require.NoError(t, b.SavePrompt(p))

		p.Versions = append(p.Versions, &ledger.PromptVersion{
			Version:   3,
			Content:   "Howdy {{name}}",
			CreatedAt: time.Now().UTC(),
		})
		p.ActiveVersion = 3
		require.NoError(t, b.SavePrompt(p))

		got, err := b.LoadPrompt("greeting")
		require.NoError(t, err)
		assert.Equal(t, 3, got.ActiveVersion)
		assert.Len(t, got.Versions, 3)
	})

	t.Run("missing prompt", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		_, err := b.LoadPrompt("nope")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("list prompts sorted", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		for _, name := range []string{"zeta", "alpha", "mid"} {
			p := testPrompt()
			p.Name = name
			require.NoError(t, b.SavePrompt(p))
		}

		names, err := b.ListPrompts()
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
	})

	t.Run("experiment round trip and conclusion", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		require.NoError(t, b.SavePrompt(testPrompt()))
		exp := testStoredExperiment()
		require.NoError(t, b.SaveExperiment(exp))

		got, err := b.LoadExperiment("greeting")
		require.NoError(t, err)
		assert.Equal(t, exp.ID, got.ID)
		assert.Equal(t, experiment.StatusActive, got.Status)
		require.Len(t, got.Variants, 2)
		assert.Equal(t, 50.0, got.Variants["control"].Weight)

		concluded := time.Now().UTC().Truncate(time.Second)
		exp.Status = experiment.StatusConcluded
		exp.Winner = "treatment"
		exp.Confidence = 0.97
		exp.ConcludedAt = &concluded
		require.NoError(t, b.SaveExperiment(exp))

		got, err = b.LoadExperiment("greeting")
		require.NoError(t, err)
		assert.Equal(t, experiment.StatusConcluded, got.Status)
		assert.Equal(t, "treatment", got.Winner)
		assert.Equal(t, 0.97, got.Confidence)
		require.NotNil(t, got.ConcludedAt)
	})

	t.Run("missing experiment", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		_, err := b.LoadExperiment("greeting")
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("stats round trip", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		require.NoError(t, b.SavePrompt(testPrompt()))
		require.NoError(t, b.SaveExperiment(testStoredExperiment()))

		stats := map[string]experiment.VariantStats{
			"control": {
				Trials:       100,
				Successes:    62,
				MetricSums:   map[string]float64{"latency_ms": 12000},
				MetricCounts: map[string]int{"latency_ms": 100},
			},
			"treatment": {Trials: 100, Successes: 71},
		}
		require.NoError(t, b.SaveStats("exp-42", stats))

		got, err := b.LoadStats("exp-42")
		require.NoError(t, err)
		assert.Equal(t, 62, got["control"].Successes)
		assert.Equal(t, 12000.0, got["control"].MetricSums["latency_ms"])
		assert.Equal(t, 71, got["treatment"].Successes)
	})

	t.Run("missing stats is an empty map", func(t *testing.T) {
		b := open(t)
		defer b.Close()

		got, err := b.LoadStats("never-saved")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestSQLiteBackend(t *testing.T) {
	backendTests(t, func(t *testing.T) Backend {
		b, err := OpenSQLite(filepath.Join(t.TempDir(), "registry.db"), nil)
		require.NoError(t, err)
		return b
	})
}

func TestGitBackend(t *testing.T) {
	backendTests(t, func(t *testing.T) Backend {
		b, err := OpenGit(t.TempDir(), "tester", "tester@example.com", nil)
		require.NoError(t, err)
		return b
	})
}

func TestGitCommitPerSave(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenGit(dir, "tester", "tester@example.com", nil)
	require.NoError(t, err)

	require.NoError(t, b.SavePrompt(testPrompt()))
	require.NoError(t, b.SaveExperiment(testStoredExperiment()))
	assert.Equal(t, 2, commitCount(t, dir))

	// Unchanged content must not add a commit
	require.NoError(t, b.SavePrompt(testPrompt()))
	assert.Equal(t, 2, commitCount(t, dir))
}

func TestGitReopen(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenGit(dir, "", "", nil)
	require.NoError(t, err)
	require.NoError(t, b.SavePrompt(testPrompt()))
	require.NoError(t, b.Close())

	reopened, err := OpenGit(dir, "", "", nil)
	require.NoError(t, err)
	got, err := reopened.LoadPrompt("greeting")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ActiveVersion)
}

func TestGitRejectsPathNames(t *testing.T) {
	b, err := OpenGit(t.TempDir(), "", "", nil)
	require.NoError(t, err)

	for _, name := range []string{"", "a/b", `a\b`, "..", "."} {
		_, loadErr := b.LoadPrompt(name)
		assert.True(t, errors.Is(loadErr, errors.ErrValidation), "name %q", name)

		p := testPrompt()
		p.Name = name
		assert.True(t, errors.Is(b.SavePrompt(p), errors.ErrValidation), "name %q", name)
	}
}

func commitCount(t *testing.T, dir string) int {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	require.NoError(t, err)
	defer iter.Close()

	count := 0
	require.NoError(t, iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	}))
	return count
}
