package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/searchcore/searchcore/internal/query"
)

// Config is the root configuration: where persisted state lives, resource
// limits for the indexer driver and scheduler, and the default per-index
// Settings applied to newly created indexes (spec §6).
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	DataDir  string         `yaml:"data_dir" json:"data_dir"`
	Indexing IndexingConfig `yaml:"indexing" json:"indexing"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Settings Settings       `yaml:"settings" json:"settings"`
}

// IndexingConfig configures resource limits named in spec §6 Environment
// variables and §5 Concurrency & Resource Model.
type IndexingConfig struct {
	// MaxIndexingMemory is passed to store.Open as the KV environment's
	// MapSize, e.g. "4GiB" (see ParseByteSize); store.Options documents that
	// the value is not enforced. Overridden by MAX_INDEXING_MEMORY.
	MaxIndexingMemory string `yaml:"max_indexing_memory" json:"max_indexing_memory"`
	// MaxIndexingThreads bounds the extractor worker pool (spec §4.7 step 2).
	// Overridden by MAX_INDEXING_THREADS.
	MaxIndexingThreads int `yaml:"max_indexing_threads" json:"max_indexing_threads"`
	// DisableAutoBatching, when true, makes the scheduler process one task
	// per batch instead of gathering all compatible pending tasks (spec
	// §4.11). Overridden by DISABLE_AUTO_BATCHING.
	DisableAutoBatching bool `yaml:"disable_auto_batching" json:"disable_auto_batching"`
}

// ServerConfig configures the serve daemon's own ambient concerns; the
// HTTP surface above it is an external collaborator (spec §1 Out of scope).
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// Settings is the per-index configuration table of spec §6. It doubles as
// the default settings a newly created index starts with and as the shape
// of a settings-update task payload.
type Settings struct {
	SearchableAttributes []string                    `yaml:"searchableAttributes" json:"searchableAttributes"`
	FilterableAttributes []string                    `yaml:"filterableAttributes" json:"filterableAttributes"`
	SortableAttributes   []string                    `yaml:"sortableAttributes" json:"sortableAttributes"`
	DistinctAttribute    string                      `yaml:"distinctAttribute" json:"distinctAttribute"`
	RankingRules         []string                    `yaml:"rankingRules" json:"rankingRules"`
	StopWords            []string                    `yaml:"stopWords" json:"stopWords"`
	Synonyms             map[string][]string         `yaml:"synonyms" json:"synonyms"`
	TypoTolerance        TypoToleranceSettings       `yaml:"typoTolerance" json:"typoTolerance"`
	Faceting             FacetingSettings            `yaml:"faceting" json:"faceting"`
	Pagination           PaginationSettings          `yaml:"pagination" json:"pagination"`
	Embedders            map[string]EmbedderSettings `yaml:"embedders" json:"embedders"`
	// PrefixSearch is "indexingTime" or "disabled".
	PrefixSearch string `yaml:"prefixSearch" json:"prefixSearch"`
}

// TypoToleranceSettings mirrors spec §6's typoTolerance object.
type TypoToleranceSettings struct {
	Enabled             bool                `yaml:"enabled" json:"enabled"`
	MinWordSizeForTypos MinWordSizeForTypos `yaml:"minWordSizeForTypos" json:"minWordSizeForTypos"`
	DisableOnWords      []string            `yaml:"disableOnWords" json:"disableOnWords"`
	DisableOnAttributes []string            `yaml:"disableOnAttributes" json:"disableOnAttributes"`
}

// MinWordSizeForTypos gives the word-length thresholds at which one and
// two typos become allowed (spec §4.8 query parser typo derivation).
type MinWordSizeForTypos struct {
	OneTypo  int `yaml:"oneTypo" json:"oneTypo"`
	TwoTypos int `yaml:"twoTypos" json:"twoTypos"`
}

// FacetingSettings mirrors spec §6's faceting object.
type FacetingSettings struct {
	MaxValuesPerFacet int    `yaml:"maxValuesPerFacet" json:"maxValuesPerFacet"`
	SortFacetValuesBy string `yaml:"sortFacetValuesBy" json:"sortFacetValuesBy"`
}

// PaginationSettings mirrors spec §6's pagination object.
type PaginationSettings struct {
	MaxTotalHits int `yaml:"maxTotalHits" json:"maxTotalHits"`
}

// EmbedderSettings mirrors one entry of spec §6's embedders map.
type EmbedderSettings struct {
	Source       string `yaml:"source" json:"source"`
	Model        string `yaml:"model" json:"model"`
	Dimensions   int    `yaml:"dimensions" json:"dimensions"`
	Distribution string `yaml:"distribution" json:"distribution"`
	// Quantized carries the vector-store quantization opt-in bit through
	// config; storage itself remains unquantized f32 (see DESIGN.md).
	Quantized bool `yaml:"quantized" json:"quantized"`
}

// QueryConfig projects the settings the query parser needs (spec §4.8
// typo derivation, synonym expansion, prefix search) into query.Config.
func (s Settings) QueryConfig() query.Config {
	disableOnWords := make(map[string]struct{}, len(s.TypoTolerance.DisableOnWords))
	for _, w := range s.TypoTolerance.DisableOnWords {
		disableOnWords[w] = struct{}{}
	}

	return query.Config{
		TypoToleranceEnabled: s.TypoTolerance.Enabled,
		MinWordSizeOneTypo:   s.TypoTolerance.MinWordSizeForTypos.OneTypo,
		MinWordSizeTwoTypos:  s.TypoTolerance.MinWordSizeForTypos.TwoTypos,
		DisableOnWords:       disableOnWords,
		Synonyms:             s.Synonyms,
		PrefixSearchDisabled: s.PrefixSearch == "disabled",
	}
}

// defaultRankingRules is the required default order from spec §4.9.
// vector_sort is inserted automatically by the search driver when a query
// carries a vector, so it is not listed here.
var defaultRankingRules = []string{"words", "typo", "proximity", "attribute", "sort", "exactness"}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Indexing: IndexingConfig{
			MaxIndexingMemory:   "4GiB",
			MaxIndexingThreads:  runtime.NumCPU(),
			DisableAutoBatching: false,
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
		Settings: Settings{
			SearchableAttributes: []string{},
			FilterableAttributes: []string{},
			SortableAttributes:   []string{},
			RankingRules:         append([]string(nil), defaultRankingRules...),
			StopWords:            []string{},
			Synonyms:             map[string][]string{},
			TypoTolerance: TypoToleranceSettings{
				Enabled: true,
				MinWordSizeForTypos: MinWordSizeForTypos{
					OneTypo:  5,
					TwoTypos: 9,
				},
			},
			Faceting: FacetingSettings{
				MaxValuesPerFacet: 100,
				SortFacetValuesBy: "alpha",
			},
			Pagination: PaginationSettings{
				MaxTotalHits: 1000,
			},
			Embedders:    map[string]EmbedderSettings{},
			PrefixSearch: "indexingTime",
		},
	}
}

// defaultDataDir returns the default persisted-state root directory (spec
// §6 "Persisted state layout"): data.mdb, updates/, snapshots/, dumps/.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".searchcore", "data")
	}
	return filepath.Join(home, ".searchcore", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/searchcore/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/searchcore/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "searchcore", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "searchcore", "config.yaml")
	}
	return filepath.Join(home, ".config", "searchcore", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory, applying
// configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/searchcore/config.yaml)
//  3. Project config (.searchcore.yaml in dir)
//  4. Environment variables (MAX_INDEXING_MEMORY, MAX_INDEXING_THREADS,
//     DISABLE_AUTO_BATCHING per spec §6, plus SEARCHCORE_LOG_LEVEL)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .searchcore.yaml or
// .searchcore.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".searchcore.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".searchcore.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Indexing.MaxIndexingMemory != "" {
		c.Indexing.MaxIndexingMemory = other.Indexing.MaxIndexingMemory
	}
	if other.Indexing.MaxIndexingThreads != 0 {
		c.Indexing.MaxIndexingThreads = other.Indexing.MaxIndexingThreads
	}
	if other.Indexing.DisableAutoBatching {
		c.Indexing.DisableAutoBatching = true
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	mergeSettings(&c.Settings, &other.Settings)
}

// mergeSettings merges non-zero settings fields from other into s.
func mergeSettings(s, other *Settings) {
	if len(other.SearchableAttributes) > 0 {
		s.SearchableAttributes = other.SearchableAttributes
	}
	if len(other.FilterableAttributes) > 0 {
		s.FilterableAttributes = other.FilterableAttributes
	}
	if len(other.SortableAttributes) > 0 {
		s.SortableAttributes = other.SortableAttributes
	}
	if other.DistinctAttribute != "" {
		s.DistinctAttribute = other.DistinctAttribute
	}
	if len(other.RankingRules) > 0 {
		s.RankingRules = other.RankingRules
	}
	if len(other.StopWords) > 0 {
		s.StopWords = other.StopWords
	}
	if len(other.Synonyms) > 0 {
		s.Synonyms = other.Synonyms
	}
	if other.TypoTolerance.MinWordSizeForTypos.OneTypo != 0 || other.TypoTolerance.MinWordSizeForTypos.TwoTypos != 0 ||
		len(other.TypoTolerance.DisableOnWords) > 0 || len(other.TypoTolerance.DisableOnAttributes) > 0 {
		s.TypoTolerance = other.TypoTolerance
	}
	if other.Faceting.MaxValuesPerFacet != 0 {
		s.Faceting.MaxValuesPerFacet = other.Faceting.MaxValuesPerFacet
	}
	if other.Faceting.SortFacetValuesBy != "" {
		s.Faceting.SortFacetValuesBy = other.Faceting.SortFacetValuesBy
	}
	if other.Pagination.MaxTotalHits != 0 {
		s.Pagination.MaxTotalHits = other.Pagination.MaxTotalHits
	}
	if len(other.Embedders) > 0 {
		s.Embedders = other.Embedders
	}
	if other.PrefixSearch != "" {
		s.PrefixSearch = other.PrefixSearch
	}
}

// applyEnvOverrides applies the environment variable overrides named in
// spec §6: MAX_INDEXING_MEMORY, MAX_INDEXING_THREADS, DISABLE_AUTO_BATCHING.
// SEARCHCORE_LOG_LEVEL is an additional ambient convenience, not named by
// the spec but harmless alongside it.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MAX_INDEXING_MEMORY"); v != "" {
		c.Indexing.MaxIndexingMemory = v
	}
	if v := os.Getenv("MAX_INDEXING_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.MaxIndexingThreads = n
		}
	}
	if v := os.Getenv("DISABLE_AUTO_BATCHING"); v != "" {
		c.Indexing.DisableAutoBatching = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("SEARCHCORE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// ParseByteSize parses human-readable sizes like "4GiB", "512MB", or a bare
// byte count into a byte count, for IndexingConfig.MaxIndexingMemory.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	units := []struct {
		suffix string
		factor int64
	}{
		{"GiB", 1 << 30}, {"MiB", 1 << 20}, {"KiB", 1 << 10},
		{"GB", 1e9}, {"MB", 1e6}, {"KB", 1e3},
		{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
		{"B", 1},
	}

	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			numPart := strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size %q: %w", s, err)
			}
			return int64(n * float64(u.factor)), nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Indexing.MaxIndexingMemory != "" {
		if _, err := ParseByteSize(c.Indexing.MaxIndexingMemory); err != nil {
			return fmt.Errorf("indexing.max_indexing_memory: %w", err)
		}
	}
	if c.Indexing.MaxIndexingThreads < 0 {
		return fmt.Errorf("indexing.max_indexing_threads must be non-negative, got %d", c.Indexing.MaxIndexingThreads)
	}

	if c.Settings.Pagination.MaxTotalHits < 0 {
		return fmt.Errorf("settings.pagination.maxTotalHits must be non-negative, got %d", c.Settings.Pagination.MaxTotalHits)
	}
	if c.Settings.Faceting.MaxValuesPerFacet < 0 {
		return fmt.Errorf("settings.faceting.maxValuesPerFacet must be non-negative, got %d", c.Settings.Faceting.MaxValuesPerFacet)
	}

	validSortBy := map[string]bool{"alpha": true, "count": true}
	if c.Settings.Faceting.SortFacetValuesBy != "" && !validSortBy[c.Settings.Faceting.SortFacetValuesBy] {
		return fmt.Errorf("settings.faceting.sortFacetValuesBy must be 'alpha' or 'count', got %s", c.Settings.Faceting.SortFacetValuesBy)
	}

	validPrefixSearch := map[string]bool{"indexingTime": true, "disabled": true}
	if c.Settings.PrefixSearch != "" && !validPrefixSearch[c.Settings.PrefixSearch] {
		return fmt.Errorf("settings.prefixSearch must be 'indexingTime' or 'disabled', got %s", c.Settings.PrefixSearch)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if c.Server.LogLevel != "" && !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
