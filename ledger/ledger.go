// Package ledger implements the append-only version history for prompts.
//
// Every registration appends an immutable PromptVersion; rollback moves the
// active pointer without deleting anything, so the full audit trail survives
// any sequence of operations. Version numbers are dense and strictly
// increasing per prompt and are never reused, even after a rollback.
package ledger

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/logger"
)

// PromptVersion is a single immutable version of a prompt.
type PromptVersion struct {
	Version   int                    `json:"version" yaml:"version"`
	Content   string                 `json:"content" yaml:"content"`
	Author    string                 `json:"author,omitempty" yaml:"author,omitempty"`
	Message   string                 `json:"message,omitempty" yaml:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at" yaml:"created_at"`
}

// Prompt is a named prompt with its full version history and active pointer.
type Prompt struct {
	Name          string                 `json:"name" yaml:"name"`
	ActiveVersion int                    `json:"active_version" yaml:"active_version"`
	Tags          []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Versions      []*PromptVersion       `json:"versions" yaml:"versions"`
}

// Summary is a listing row for a prompt.
type Summary struct {
	Name          string   `json:"name"`
	ActiveVersion int      `json:"active_version"`
	VersionCount  int      `json:"version_count"`
	Tags          []string `json:"tags,omitempty"`
}

// RegisterOptions carries the optional fields of a registration.
type RegisterOptions struct {
	Author   string
	Message  string
	Tags     []string
	Metadata map[string]interface{}
}

// entry wraps a prompt with its own lock so operations on different prompt
// names never contend with each other.
type entry struct {
	mu     sync.RWMutex
	prompt *Prompt
}

// Ledger is the in-memory authority for prompt version history.
type Ledger struct {
	mu      sync.RWMutex
	prompts map[string]*entry
	log     *zap.SugaredLogger
}

// New creates an empty ledger. A nil log is replaced with a component logger.
func New(log *zap.SugaredLogger) *Ledger {
	if log == nil {
		log = logger.ComponentLogger("ledger")
	}
	return &Ledger{
		prompts: make(map[string]*entry),
		log:     log,
	}
}

// Register appends a new version for name and makes it active, creating the
// prompt at version 1 if it does not exist. The new version number is always
// maxVersionEver+1, even directly after a rollback.
func (l *Ledger) Register(name, content string, opts RegisterOptions) (*PromptVersion, error) {
	return l.append(name, content, opts, true)
}

// Append adds a new version without moving the active pointer, so the prompt
// keeps serving its current content. The first version of a new prompt
// becomes active regardless; the pointer always references an existing
// version.
func (l *Ledger) Append(name, content string, opts RegisterOptions) (*PromptVersion, error) {
	return l.append(name, content, opts, false)
}

func (l *Ledger) append(name, content string, opts RegisterOptions, promote bool) (*PromptVersion, error) {
	if name == "" {
		return nil, errors.NewValidation("prompt name must not be empty")
	}
	if content == "" {
		return nil, errors.NewValidation("prompt content must not be empty")
	}

	e := l.getOrCreate(name, opts)

	e.mu.Lock()
	defer e.mu.Unlock()

	next := 1
	if n := len(e.prompt.Versions); n > 0 {
		// History is append-only, so the last element holds the highest
		// version number ever issued.
		next = e.prompt.Versions[n-1].Version + 1
	}

	v := &PromptVersion{
		Version:   next,
		Content:   content,
		Author:    opts.Author,
		Message:   opts.Message,
		Metadata:  opts.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	e.prompt.Versions = append(e.prompt.Versions, v)
	if promote || next == 1 {
		e.prompt.ActiveVersion = next
	}

	l.log.Debugw("Registered prompt version",
		logger.FieldPrompt, name,
		logger.FieldVersion, next,
		"active", e.prompt.ActiveVersion,
	)

	return cloneVersion(v), nil
}

// Active returns the version the active pointer currently designates.
func (l *Ledger) Active(name string) (*PromptVersion, error) {
	e, err := l.get(name)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v := findVersion(e.prompt, e.prompt.ActiveVersion)
	if v == nil {
		// Active pointer always references an existing version; a miss here
		// means the record was corrupted outside the ledger.
		return nil, errors.Wrapf(errors.ErrVersionNotFound, "prompt %q active version %d", name, e.prompt.ActiveVersion)
	}
	return cloneVersion(v), nil
}

// Version returns a specific version of a prompt.
func (l *Ledger) Version(name string, version int) (*PromptVersion, error) {
	e, err := l.get(name)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v := findVersion(e.prompt, version)
	if v == nil {
		return nil, errors.Wrapf(errors.ErrVersionNotFound, "prompt %q has no version %d", name, version)
	}
	return cloneVersion(v), nil
}

// History returns all versions of a prompt, ascending by version number.
// The returned records are copies; history itself is immutable.
func (l *Ledger) History(name string) ([]*PromptVersion, error) {
	e, err := l.get(name)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*PromptVersion, len(e.prompt.Versions))
	for i, v := range e.prompt.Versions {
		out[i] = cloneVersion(v)
	}
	return out, nil
}

// Rollback moves the active pointer to an existing version. Later versions
// are kept; a subsequent Register continues from the highest version ever.
func (l *Ledger) Rollback(name string, version int) (*PromptVersion, error) {
	e, err := l.get(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v := findVersion(e.prompt, version)
	if v == nil {
		return nil, errors.Wrapf(errors.ErrVersionNotFound, "prompt %q has no version %d", name, version)
	}
	e.prompt.ActiveVersion = version

	l.log.Infow("Rolled back prompt",
		logger.FieldPrompt, name,
		logger.FieldVersion, version,
	)

	return cloneVersion(v), nil
}

// Get returns the full prompt record (history, active pointer, tags).
func (l *Ledger) Get(name string) (*Prompt, error) {
	e, err := l.get(name)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return clonePrompt(e.prompt), nil
}

// List returns summaries for all prompts, sorted is the caller's concern.
func (l *Ledger) List() []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Summary, 0, len(l.prompts))
	for name, e := range l.prompts {
		e.mu.RLock()
		out = append(out, Summary{
			Name:          name,
			ActiveVersion: e.prompt.ActiveVersion,
			VersionCount:  len(e.prompt.Versions),
			Tags:          e.prompt.Tags,
		})
		e.mu.RUnlock()
	}
	return out
}

// Restore installs a complete prompt record, replacing any existing one.
// Used when hydrating from a persistence backend or importing a snapshot.
// The record must have dense, strictly increasing versions starting at 1 and
// an active pointer that references one of them.
func (l *Ledger) Restore(p *Prompt) error {
	if p == nil || p.Name == "" {
		return errors.NewValidation("prompt record must have a name")
	}
	if len(p.Versions) == 0 {
		return errors.NewValidation("prompt %q has no versions", p.Name)
	}
	for i, v := range p.Versions {
		if v.Version != i+1 {
			return errors.NewValidation("prompt %q version history has a gap at position %d", p.Name, i)
		}
	}
	if findVersion(p, p.ActiveVersion) == nil {
		return errors.NewValidation("prompt %q active pointer %d references no version", p.Name, p.ActiveVersion)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts[p.Name] = &entry{prompt: clonePrompt(p)}
	return nil
}

// get returns the entry for name or ErrNotFound.
func (l *Ledger) get(name string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.prompts[name]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFound("prompt %q", name)
	}
	return e, nil
}

// getOrCreate returns the entry for name, creating it if needed. Tags and
// prompt-level metadata only apply on creation.
func (l *Ledger) getOrCreate(name string, opts RegisterOptions) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.prompts[name]; ok {
		return e
	}
	e := &entry{prompt: &Prompt{
		Name:     name,
		Tags:     opts.Tags,
		Metadata: opts.Metadata,
	}}
	l.prompts[name] = e
	return e
}

func findVersion(p *Prompt, version int) *PromptVersion {
	// Dense numbering from 1 makes this an index lookup, but tolerate
	// records restored from external sources by checking bounds first.
	if version < 1 || version > len(p.Versions) {
		return nil
	}
	v := p.Versions[version-1]
	if v.Version != version {
		return nil
	}
	return v
}

func clonePrompt(p *Prompt) *Prompt {
	out := &Prompt{
		Name:          p.Name,
		ActiveVersion: p.ActiveVersion,
		Tags:          append([]string(nil), p.Tags...),
		Metadata:      cloneMetadata(p.Metadata),
		Versions:      make([]*PromptVersion, len(p.Versions)),
	}
	for i, v := range p.Versions {
		out.Versions[i] = cloneVersion(v)
	}
	return out
}

func cloneVersion(v *PromptVersion) *PromptVersion {
	out := *v
	out.Metadata = cloneMetadata(v.Metadata)
	return &out
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
