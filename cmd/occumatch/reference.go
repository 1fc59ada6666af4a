package main

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/japaniel/occumatch/pkg/config"
	"github.com/japaniel/occumatch/pkg/dictionary"
	"github.com/japaniel/occumatch/pkg/matcher"
	"github.com/japaniel/occumatch/pkg/semantic"
	"github.com/japaniel/occumatch/pkg/skills"
	"github.com/japaniel/occumatch/pkg/taxonomy"
)

// loadResources reads the reference data once. Any failure is fatal for the
// command.
func loadResources(cfg *config.Config, conn *sql.DB, log *zap.Logger) (matcher.Resources, error) {
	snap, err := taxonomy.Load(cfg.ReferenceDir, log)
	if err != nil {
		return matcher.Resources{}, err
	}

	dict, dictVersion, err := loadDictionary(cfg, conn, snap, log)
	if err != nil {
		return matcher.Resources{}, err
	}

	sk, err := skills.NewMatcher(snap, cfg.SkillOptions())
	if err != nil {
		return matcher.Resources{}, err
	}

	ix, err := loadIndex(cfg, snap)
	if err != nil {
		return matcher.Resources{}, err
	}

	log.Info("reference data loaded",
		zap.Int("occupations", len(snap.Occupations())),
		zap.Int("skills", len(snap.Skills())),
		zap.Int("excluded_associations", len(snap.Excluded())),
		zap.Int("dictionary_entries", dict.Len()),
		zap.Int("dictionary_version", dictVersion),
		zap.String("embedding_model", ix.Model()),
		zap.Int("embedding_dims", ix.Dims()),
	)
	return matcher.Resources{Snapshot: snap, Dictionary: dict, Skills: sk, Index: ix, DictionaryVersion: dictVersion}, nil
}

// loadDictionary compiles the dictionary from the file in the reference
// directory or from a stored version. conn is only used for the latter.
func loadDictionary(cfg *config.Config, conn *sql.DB, snap *taxonomy.Snapshot, log *zap.Logger) (*dictionary.Matcher, int, error) {
	var (
		entries []dictionary.Entry
		version int
		err     error
	)
	if cfg.ReferenceSource == config.SourceDB {
		entries, version, err = dictionary.NewImporter(conn, log).LoadFromDB(cfg.DictionaryVersion)
	} else {
		entries, err = dictionary.LoadEntries(filepath.Join(cfg.ReferenceDir, dictionary.File))
	}
	if err != nil {
		return nil, 0, err
	}
	m, err := dictionary.NewMatcher(entries, snap)
	return m, version, err
}

// loadIndex prefers precomputed embeddings and falls back to the built-in
// hash embedder.
func loadIndex(cfg *config.Config, snap *taxonomy.Snapshot) (*semantic.Index, error) {
	path := filepath.Join(cfg.ReferenceDir, semantic.EmbeddingsFile)
	if _, err := os.Stat(path); err == nil {
		return semantic.LoadFile(path, snap)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return semantic.Build(snap, semantic.NewHashEmbedder(cfg.Semantic.Dims))
}

// buildStrategy loads the reference data and builds the configured strategy.
func (a *app) buildStrategy(conn *sql.DB) (matcher.Strategy, matcher.Resources, error) {
	res, err := loadResources(a.cfg, conn, a.log)
	if err != nil {
		return nil, res, err
	}
	s, err := matcher.DefaultRegistry().New(a.cfg.Matching.Strategy, res, a.cfg.Params(), a.log)
	return s, res, err
}
