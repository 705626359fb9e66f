package commands

import (
	"strconv"
	"strings"

	"github.com/promptlab/promptlab/config"
	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/registry"
	"github.com/promptlab/promptlab/store"
)

// openRegistry loads configuration, opens the configured backend and builds
// a hydrated registry. The caller must Close it.
func openRegistry() (*registry.Registry, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}

	var backend store.Backend
	switch cfg.BackendKind() {
	case config.BackendSQLite:
		backend, err = store.OpenSQLite(cfg.Database.Path, nil)
	case config.BackendGit:
		backend, err = store.OpenGit(cfg.Git.Path, cfg.Git.Author, cfg.Git.Email, nil)
	default:
		return nil, nil, errors.Newf("unknown backend kind %q", cfg.BackendKind())
	}
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s backend", cfg.BackendKind())
	}

	reg, err := registry.New(registry.Options{
		Backend:             backend,
		ConfidenceThreshold: cfg.Experiment.ConfidenceThreshold,
		MinSampleSize:       cfg.Experiment.MinSampleSize,
	})
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return reg, cfg, nil
}

// parseStringPairs parses repeated key=value flags into a map.
func parseStringPairs(pairs []string, flagName string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.Newf("invalid --%s %q, expected key=value", flagName, pair)
		}
		out[key] = value
	}
	return out, nil
}

// parseVariables parses repeated key=value flags into template variables.
// Dotted keys build nested maps, so org.team=platform renders {{org.team}}.
func parseVariables(pairs []string) (map[string]interface{}, error) {
	flat, err := parseStringPairs(pairs, "var")
	if err != nil || flat == nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(flat))
	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}
	return out, nil
}

// parseFloatPairs parses repeated key=number flags.
func parseFloatPairs(pairs []string, flagName string) (map[string]float64, error) {
	flat, err := parseStringPairs(pairs, flagName)
	if err != nil || flat == nil {
		return nil, err
	}
	out := make(map[string]float64, len(flat))
	for key, raw := range flat {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.Newf("invalid --%s %q, %q is not a number", flagName, key+"="+raw, raw)
		}
		out[key] = value
	}
	return out, nil
}
