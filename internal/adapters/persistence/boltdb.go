package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	boltdb "github.com/andrew-solarstorm/bolt-db"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/token-aggregator/internal/domain"
)

const (
	OverridesBucket = "overrides"

	DefaultDBPath = "./data/aggregator.db"
)

type StoredOverride struct {
	// PartOf is null for a discard.
	PartOf []string `json:"partOf"`
}

type Storage struct {
	db     *boltdb.BoltDatabase
	dbPath string
}

func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db := boltdb.NewBoltDatabase(dbPath)
	if db == nil {
		return nil, fmt.Errorf("failed to open database at %s", dbPath)
	}

	log.Info().Str("path", dbPath).Msg("[overrideStorage] opened database")

	return &Storage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) SaveOverride(tokenID string, o domain.Override) error {
	data, err := sonic.Marshal(StoredOverride{PartOf: o.PartOf})
	if err != nil {
		return fmt.Errorf("failed to marshal override: %w", err)
	}
	return s.db.Set(OverridesBucket, []byte(tokenID), data)
}

// SaveOverrideBatch writes every entry of table in one transaction.
func (s *Storage) SaveOverrideBatch(table domain.OverrideTable) error {
	if len(table) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	for tokenID, o := range table {
		data, err := sonic.Marshal(StoredOverride{PartOf: o.PartOf})
		if err != nil {
			return fmt.Errorf("failed to marshal override %s: %w", tokenID, err)
		}

		value := data
		op := &boltdb.WriteOperation{
			Bucket: []byte(OverridesBucket),
			Key:    []byte(tokenID),
			Value:  &value,
			Op:     boltdb.OpSet,
		}
		if err := batch.Add(op); err != nil {
			return fmt.Errorf("failed to add override %s to batch: %w", tokenID, err)
		}
	}

	if err := batch.Execute(); err != nil {
		log.Error().Err(err).Int("count", len(table)).Msg("[overrideStorage] FAILED to execute batch")
		return err
	}

	log.Info().Int("count", len(table)).Msg("[overrideStorage] saved override batch")
	return nil
}

// LoadOverrides returns the stored table. Undecodable entries are skipped.
func (s *Storage) LoadOverrides() (domain.OverrideTable, error) {
	data, err := s.db.List(OverridesBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}

	table := make(domain.OverrideTable, len(data))
	failed := 0
	for tokenID, value := range data {
		var stored StoredOverride
		if err := sonic.Unmarshal(value, &stored); err != nil {
			log.Error().Str("tokenId", tokenID).Err(err).Msg("[overrideStorage] failed to unmarshal override, skipping")
			failed++
			continue
		}
		table[tokenID] = domain.Override{PartOf: stored.PartOf}
	}

	log.Info().
		Int("total_in_db", len(data)).
		Int("loaded", len(table)).
		Int("failed", failed).
		Msg("[overrideStorage] override loading completed")

	return table, nil
}

// SeedOverrides stores the entries of seed that are not stored yet, so
// edits made at runtime survive restarts. It returns the merged table.
func (s *Storage) SeedOverrides(seed domain.OverrideTable) (domain.OverrideTable, error) {
	stored, err := s.LoadOverrides()
	if err != nil {
		// a fresh database has no bucket yet
		log.Warn().Err(err).Msg("[overrideStorage] no stored overrides, seeding from scratch")
		stored = make(domain.OverrideTable)
	}

	missing := make(domain.OverrideTable)
	for tokenID, o := range seed {
		if _, ok := stored[tokenID]; !ok {
			missing[tokenID] = o
			stored[tokenID] = o
		}
	}
	if err := s.SaveOverrideBatch(missing); err != nil {
		return nil, err
	}
	return stored, nil
}

// ReadOverridesFile parses a JSON object of {tokenId: {"partOf": [...] | null}}.
// Token ids are canonicalized to lowercase.
func ReadOverridesFile(path string) (domain.OverrideTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}

	var entries map[string]StoredOverride
	if err := sonic.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file %s: %w", path, err)
	}

	table := make(domain.OverrideTable, len(entries))
	for tokenID, e := range entries {
		o := domain.Override{}
		if e.PartOf != nil && len(e.PartOf) == 0 {
			return nil, fmt.Errorf("overrides file %s: empty partOf for %s", path, tokenID)
		}
		if e.PartOf != nil {
			o.PartOf = make([]string, 0, len(e.PartOf))
			for _, target := range e.PartOf {
				o.PartOf = append(o.PartOf, strings.ToLower(target))
			}
		}
		table[strings.ToLower(tokenID)] = o
	}
	return table, nil
}
