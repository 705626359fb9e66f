package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/promptlab/promptlab/config"
	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/experiment"
	"github.com/promptlab/promptlab/ledger"
	"github.com/promptlab/promptlab/logger"
)

const (
	gitPromptsDir     = "prompts"
	gitExperimentsDir = "experiments"
	gitStatsDir       = "stats"
)

// Git implements Backend on a local git repository. Every record is a YAML
// document, and every save is a commit, so the repository's log doubles as
// an audit trail that ordinary git tooling can inspect.
type Git struct {
	repo   *git.Repository
	path   string
	author string
	email  string
	log    *zap.SugaredLogger
}

// OpenGit opens the repository at path, initializing it if absent.
func OpenGit(path, author, email string, log *zap.SugaredLogger) (*Git, error) {
	if log == nil {
		log = logger.ComponentLogger("store.git")
	}
	if author == "" {
		author = "promptlab"
	}
	if email == "" {
		email = "promptlab@localhost"
	}

	repo, err := git.PlainOpen(path)
	if err == git.ErrRepositoryNotExists {
		if mkErr := os.MkdirAll(path, config.DefaultDirPermissions); mkErr != nil {
			return nil, errors.Wrap(mkErr, "create repository directory")
		}
		repo, err = git.PlainInit(path, false)
		if err != nil {
			return nil, errors.Wrap(err, "init repository")
		}
		log.Infow("Initialized prompt repository", logger.FieldPath, path)
	} else if err != nil {
		return nil, errors.Wrap(err, "open repository")
	}

	return &Git{repo: repo, path: path, author: author, email: email, log: log}, nil
}

// SavePrompt writes the prompt document and commits it.
func (g *Git) SavePrompt(p *ledger.Prompt) error {
	rel, err := recordPath(gitPromptsDir, p.Name)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("prompt %s v%d", p.Name, p.ActiveVersion)
	return g.writeAndCommit(rel, p, msg)
}

// LoadPrompt reads a prompt document from the worktree.
func (g *Git) LoadPrompt(name string) (*ledger.Prompt, error) {
	rel, err := recordPath(gitPromptsDir, name)
	if err != nil {
		return nil, err
	}
	p := &ledger.Prompt{}
	if err := g.readRecord(rel, p, "prompt %q", name); err != nil {
		return nil, err
	}
	return p, nil
}

// ListPrompts returns all prompt names, sorted.
func (g *Git) ListPrompts() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(g.path, gitPromptsDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list prompts")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	// ReadDir already sorts by filename
	return names, nil
}

// SaveExperiment writes the experiment document for its prompt and commits.
func (g *Git) SaveExperiment(exp *experiment.Experiment) error {
	rel, err := recordPath(gitExperimentsDir, exp.PromptName)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("experiment %s (%s) on %s", exp.ID, exp.Status, exp.PromptName)
	return g.writeAndCommit(rel, exp, msg)
}

// LoadExperiment reads the current experiment for a prompt.
func (g *Git) LoadExperiment(promptName string) (*experiment.Experiment, error) {
	rel, err := recordPath(gitExperimentsDir, promptName)
	if err != nil {
		return nil, err
	}
	exp := &experiment.Experiment{}
	if err := g.readRecord(rel, exp, "no experiment for prompt %q", promptName); err != nil {
		return nil, err
	}
	return exp, nil
}

// SaveStats writes the counters document for an experiment and commits.
func (g *Git) SaveStats(experimentID string, stats map[string]experiment.VariantStats) error {
	rel, err := recordPath(gitStatsDir, experimentID)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("stats for experiment %s", experimentID)
	return g.writeAndCommit(rel, stats, msg)
}

// LoadStats reads the counters for an experiment. A missing document is not
// an error.
func (g *Git) LoadStats(experimentID string) (map[string]experiment.VariantStats, error) {
	rel, err := recordPath(gitStatsDir, experimentID)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]experiment.VariantStats)
	err = g.readRecord(rel, &stats, "stats for experiment %q", experimentID)
	if errors.IsNotFound(err) {
		return map[string]experiment.VariantStats{}, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Close is a no-op; go-git holds no resources needing release here.
func (g *Git) Close() error {
	return nil
}

func (g *Git) writeAndCommit(rel string, doc interface{}, message string) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal record")
	}

	abs := filepath.Join(g.path, rel)
	if err := os.MkdirAll(filepath.Dir(abs), config.DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "create record directory")
	}
	if err := os.WriteFile(abs, data, config.DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "write record")
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "open worktree")
	}
	if _, err := wt.Add(rel); err != nil {
		return errors.Wrapf(err, "stage %s", rel)
	}

	status, err := wt.Status()
	if err != nil {
		return errors.Wrap(err, "worktree status")
	}
	if status.IsClean() {
		// Save produced the same bytes; nothing to record
		return nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.author,
			Email: g.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return errors.Wrapf(err, "commit %s", rel)
	}

	g.log.Debugw("Record committed",
		logger.FieldPath, rel,
		"commit", hash.String()[:8],
	)
	return nil
}

func (g *Git) readRecord(rel string, out interface{}, notFoundFormat string, args ...interface{}) error {
	data, err := os.ReadFile(filepath.Join(g.path, rel))
	if os.IsNotExist(err) {
		return errors.NewNotFound(notFoundFormat, args...)
	}
	if err != nil {
		return errors.Wrap(err, "read record")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "unmarshal %s", rel)
	}
	return nil
}

// recordPath maps a record name onto a worktree-relative file path,
// rejecting names that would escape the record directory.
func recordPath(dir, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", errors.NewValidation("record name %q is not a valid file name", name)
	}
	return filepath.Join(dir, name+".yaml"), nil
}
