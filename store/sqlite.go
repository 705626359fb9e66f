package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/promptlab/promptlab/config"
	"github.com/promptlab/promptlab/db"
	"github.com/promptlab/promptlab/errors"
	"github.com/promptlab/promptlab/experiment"
	"github.com/promptlab/promptlab/ledger"
	"github.com/promptlab/promptlab/logger"
)

// Query constants
const (
	promptUpsertQuery = `
		INSERT INTO prompts (name, active_version, tags, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			active_version = excluded.active_version,
			tags = excluded.tags,
			metadata = excluded.metadata`

	versionInsertQuery = `
		INSERT OR IGNORE INTO prompt_versions
			(prompt_name, version, content, author, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	versionSelectQuery = `
		SELECT version, content, author, message, metadata, created_at
		FROM prompt_versions
		WHERE prompt_name = ?
		ORDER BY version ASC`

	experimentUpsertQuery = `
		INSERT INTO experiments
			(id, prompt_name, variants, traffic_split, success_metric, status,
			 winner, confidence, created_at, concluded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			winner = excluded.winner,
			confidence = excluded.confidence,
			concluded_at = excluded.concluded_at`

	experimentSelectQuery = `
		SELECT id, prompt_name, variants, success_metric, status,
		       winner, confidence, created_at, concluded_at
		FROM experiments
		WHERE prompt_name = ?
		ORDER BY (status = 'active') DESC, created_at DESC
		LIMIT 1`

	statsUpsertQuery = `
		INSERT INTO variant_stats
			(experiment_id, variant, trials, successes, metric_sums, metric_counts)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(experiment_id, variant) DO UPDATE SET
			trials = excluded.trials,
			successes = excluded.successes,
			metric_sums = excluded.metric_sums,
			metric_counts = excluded.metric_counts`

	statsSelectQuery = `
		SELECT variant, trials, successes, metric_sums, metric_counts
		FROM variant_stats
		WHERE experiment_id = ?`
)

// SQLite implements Backend on a SQLite database opened via the db package.
type SQLite struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// OpenSQLite opens (and migrates) the database at path and returns a backend
// over it.
func OpenSQLite(path string, log *zap.SugaredLogger) (*SQLite, error) {
	if log == nil {
		log = logger.ComponentLogger("store.sqlite")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}
	database, err := db.OpenWithMigrations(path, log)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: database, log: log}, nil
}

// NewSQLite wraps an existing database handle. The caller is responsible for
// having run migrations.
func NewSQLite(database *sql.DB, log *zap.SugaredLogger) *SQLite {
	if log == nil {
		log = logger.ComponentLogger("store.sqlite")
	}
	return &SQLite{db: database, log: log}
}

// SavePrompt upserts the prompt row and appends any version rows not yet
// present, atomically.
func (s *SQLite) SavePrompt(p *ledger.Prompt) error {
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return errors.Wrap(err, "marshal tags")
	}
	meta, err := marshalMetadata(p.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal prompt metadata")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return wrapDBErr(err, "begin save prompt")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(promptUpsertQuery, p.Name, p.ActiveVersion, string(tags), meta); err != nil {
		return wrapDBErr(err, "upsert prompt")
	}

	for _, v := range p.Versions {
		vmeta, err := marshalMetadata(v.Metadata)
		if err != nil {
			return errors.Wrapf(err, "marshal metadata for version %d", v.Version)
		}
		_, err = tx.Exec(versionInsertQuery,
			p.Name, v.Version, v.Content, v.Author, v.Message, vmeta,
			v.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return wrapDBErr(err, "insert version")
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapDBErr(err, "commit save prompt")
	}

	s.log.Debugw("Prompt saved",
		logger.FieldPrompt, p.Name,
		logger.FieldVersion, p.ActiveVersion,
		logger.FieldCount, len(p.Versions),
	)
	return nil
}

// LoadPrompt retrieves a prompt with its full version history.
func (s *SQLite) LoadPrompt(name string) (*ledger.Prompt, error) {
	p := &ledger.Prompt{Name: name}

	var tagsJSON, metaJSON sql.NullString
	err := s.db.QueryRow(
		"SELECT active_version, tags, metadata FROM prompts WHERE name = ?", name,
	).Scan(&p.ActiveVersion, &tagsJSON, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("prompt %q", name)
	}
	if err != nil {
		return nil, wrapDBErr(err, "load prompt")
	}

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &p.Tags); err != nil {
			return nil, errors.Wrap(err, "unmarshal tags")
		}
	}
	if p.Metadata, err = unmarshalMetadata(metaJSON); err != nil {
		return nil, errors.Wrap(err, "unmarshal prompt metadata")
	}

	rows, err := s.db.Query(versionSelectQuery, name)
	if err != nil {
		return nil, wrapDBErr(err, "load versions")
	}
	defer rows.Close()

	for rows.Next() {
		v := &ledger.PromptVersion{}
		var author, message, vmeta sql.NullString
		var createdAt string
		if err := rows.Scan(&v.Version, &v.Content, &author, &message, &vmeta, &createdAt); err != nil {
			return nil, wrapDBErr(err, "scan version")
		}
		v.Author = author.String
		v.Message = message.String
		if v.Metadata, err = unmarshalMetadata(vmeta); err != nil {
			return nil, errors.Wrapf(err, "unmarshal metadata for version %d", v.Version)
		}
		if v.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, errors.Wrapf(err, "parse created_at for version %d", v.Version)
		}
		p.Versions = append(p.Versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(err, "iterate versions")
	}

	return p, nil
}

// ListPrompts returns all prompt names, sorted.
func (s *SQLite) ListPrompts() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM prompts ORDER BY name")
	if err != nil {
		return nil, wrapDBErr(err, "list prompts")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapDBErr(err, "scan prompt name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SaveExperiment upserts an experiment row.
func (s *SQLite) SaveExperiment(exp *experiment.Experiment) error {
	variants, err := json.Marshal(exp.Variants)
	if err != nil {
		return errors.Wrap(err, "marshal variants")
	}

	// Denormalized weight map, kept readable for direct SQL inspection
	split := make(map[string]float64, len(exp.Variants))
	for name, v := range exp.Variants {
		split[name] = v.Weight
	}
	splitJSON, err := json.Marshal(split)
	if err != nil {
		return errors.Wrap(err, "marshal traffic split")
	}

	var concludedAt interface{}
	if exp.ConcludedAt != nil {
		concludedAt = exp.ConcludedAt.Format(time.RFC3339Nano)
	}

	_, err = s.db.Exec(experimentUpsertQuery,
		exp.ID, exp.PromptName, string(variants), string(splitJSON),
		exp.SuccessMetric, string(exp.Status), exp.Winner, exp.Confidence,
		exp.CreatedAt.Format(time.RFC3339Nano), concludedAt)
	if err != nil {
		return wrapDBErr(err, "upsert experiment")
	}

	s.log.Debugw("Experiment saved",
		logger.FieldExperiment, exp.ID,
		logger.FieldPrompt, exp.PromptName,
		"status", exp.Status,
	)
	return nil
}

// LoadExperiment retrieves the current experiment for a prompt.
func (s *SQLite) LoadExperiment(promptName string) (*experiment.Experiment, error) {
	exp := &experiment.Experiment{}

	var variantsJSON, status, createdAt string
	var successMetric, winner, concludedAt sql.NullString
	var confidence sql.NullFloat64

	err := s.db.QueryRow(experimentSelectQuery, promptName).Scan(
		&exp.ID, &exp.PromptName, &variantsJSON, &successMetric, &status,
		&winner, &confidence, &createdAt, &concludedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("no experiment for prompt %q", promptName)
	}
	if err != nil {
		return nil, wrapDBErr(err, "load experiment")
	}

	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, errors.Wrap(err, "unmarshal variants")
	}
	exp.SuccessMetric = successMetric.String
	exp.Status = experiment.Status(status)
	exp.Winner = winner.String
	exp.Confidence = confidence.Float64
	if exp.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if concludedAt.Valid {
		ts, err := time.Parse(time.RFC3339Nano, concludedAt.String)
		if err != nil {
			return nil, errors.Wrap(err, "parse concluded_at")
		}
		exp.ConcludedAt = &ts
	}

	return exp, nil
}

// SaveStats upserts the per-variant counters for an experiment.
func (s *SQLite) SaveStats(experimentID string, stats map[string]experiment.VariantStats) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapDBErr(err, "begin save stats")
	}
	defer tx.Rollback()

	for variant, vs := range stats {
		sums, err := json.Marshal(vs.MetricSums)
		if err != nil {
			return errors.Wrapf(err, "marshal metric sums for %q", variant)
		}
		counts, err := json.Marshal(vs.MetricCounts)
		if err != nil {
			return errors.Wrapf(err, "marshal metric counts for %q", variant)
		}
		_, err = tx.Exec(statsUpsertQuery,
			experimentID, variant, vs.Trials, vs.Successes, string(sums), string(counts))
		if err != nil {
			return wrapDBErr(err, "upsert variant stats")
		}
	}

	return tx.Commit()
}

// LoadStats retrieves the per-variant counters for an experiment.
func (s *SQLite) LoadStats(experimentID string) (map[string]experiment.VariantStats, error) {
	rows, err := s.db.Query(statsSelectQuery, experimentID)
	if err != nil {
		return nil, wrapDBErr(err, "load stats")
	}
	defer rows.Close()

	out := make(map[string]experiment.VariantStats)
	for rows.Next() {
		var variant string
		var vs experiment.VariantStats
		var sums, counts sql.NullString
		if err := rows.Scan(&variant, &vs.Trials, &vs.Successes, &sums, &counts); err != nil {
			return nil, wrapDBErr(err, "scan variant stats")
		}
		if sums.Valid && sums.String != "" && sums.String != "null" {
			if err := json.Unmarshal([]byte(sums.String), &vs.MetricSums); err != nil {
				return nil, errors.Wrapf(err, "unmarshal metric sums for %q", variant)
			}
		}
		if counts.Valid && counts.String != "" && counts.String != "null" {
			if err := json.Unmarshal([]byte(counts.String), &vs.MetricCounts); err != nil {
				return nil, errors.Wrapf(err, "unmarshal metric counts for %q", variant)
			}
		}
		out[variant] = vs
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// marshalMetadata serializes a metadata map, keeping NULL for absent maps.
func marshalMetadata(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalMetadata(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// wrapDBErr adds context while surfacing closed-database conditions
// distinctly, so shutdown races are identifiable in logs.
func wrapDBErr(err error, msg string) error {
	if db.IsDatabaseClosed(err) {
		return errors.Wrap(db.ErrDatabaseClosed, msg)
	}
	return errors.Wrap(err, msg)
}
