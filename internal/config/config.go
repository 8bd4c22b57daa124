package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed tunables.yaml
var tunablesYAML []byte

type Config struct {
	Library   LibraryConfig
	Database  DatabaseConfig
	Embedding EmbeddingConfig
	OpenAI    OpenAIConfig
	Gemini    GeminiConfig
	Ollama    OllamaConfig
	Search    SearchConfig
	Tunables  Tunables
}

type LibraryConfig struct {
	Root    string // directory holding the image files and their sidecars
	DataDir string // directory for the index database and ANN snapshots
}

type DatabaseConfig struct {
	Driver       string // "sqlite" (default) or "postgres"
	Path         string // SQLite file path, defaults to <DataDir>/riposte.db
	URL          string // PostgreSQL connection URL when Driver is "postgres"
	MaxOpenConns int    // maximum open connections for PostgreSQL (default 25)
	MaxIdleConns int    // maximum idle connections for PostgreSQL (default 5)
}

type EmbeddingConfig struct {
	Provider  string  // "ollama", "openai", "gemini" or "mock"; empty disables the semantic path
	Dim       int     // expected vector width, defaults per provider
	RateLimit float64 // client-side requests per second for remote providers, 0 = unlimited
}

type OpenAIConfig struct {
	Token string
	Model string // defaults to text-embedding-3-small
}

type GeminiConfig struct {
	APIKey string
	Model  string // defaults to gemini-embedding-001
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to all-minilm:l6-v2
}

type SearchConfig struct {
	ANNEnabled   bool   // build an in-memory HNSW shortlist index on startup
	ANNIndexPath string // path to persist the ANN index (optional, rebuilt when empty)
}

// Tunables are the ranking and scanning knobs loaded from the embedded
// defaults, optionally overlaid by the file named in RIPOSTE_TUNABLES.
type Tunables struct {
	Search   SearchTunables   `yaml:"search"`
	Dedupe   DedupeTunables   `yaml:"dedupe"`
	Indexing IndexingTunables `yaml:"indexing"`
}

type SearchTunables struct {
	LexicalWeight  float64 `yaml:"lexical_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	MinSimilarity  float64 `yaml:"min_similarity"`
	DefaultLimit   int     `yaml:"default_limit"`
}

type DedupeTunables struct {
	Sensitivity int `yaml:"sensitivity"`
	HashWorkers int `yaml:"hash_workers"`
}

type IndexingTunables struct {
	BatchSize int `yaml:"batch_size"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean flag.
// Accepts the forms strconv.ParseBool accepts; anything else means false.
func envBool(key string) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && b
}

func Load() *Config {
	tunables := loadTunables()

	dataDir := os.Getenv("RIPOSTE_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	dbPath := os.Getenv("RIPOSTE_DB_PATH")
	if dbPath == "" {
		dbPath = dataDir + "/riposte.db"
	}
	driver := os.Getenv("RIPOSTE_DB_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	return &Config{
		Library: LibraryConfig{
			Root:    os.Getenv("RIPOSTE_LIBRARY"),
			DataDir: dataDir,
		},
		Database: DatabaseConfig{
			Driver:       driver,
			Path:         dbPath,
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Embedding: EmbeddingConfig{
			Provider:  os.Getenv("EMBEDDING_PROVIDER"),
			Dim:       envInt("EMBEDDING_DIM", 0),
			RateLimit: envFloat("EMBEDDING_RATE_LIMIT", 0),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
			Model: os.Getenv("OPENAI_EMBEDDING_MODEL"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  os.Getenv("GEMINI_EMBEDDING_MODEL"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		Search: SearchConfig{
			ANNEnabled:   envBool("ANN_INDEX_ENABLED"),
			ANNIndexPath: os.Getenv("ANN_INDEX_PATH"),
		},
		Tunables: tunables,
	}
}

// loadTunables parses the embedded defaults and overlays the optional
// RIPOSTE_TUNABLES file on top. Unknown or unreadable override files fall
// back to the embedded values rather than failing startup.
func loadTunables() Tunables {
	var t Tunables
	if err := yaml.Unmarshal(tunablesYAML, &t); err != nil {
		// This is an embedded file so this error should never happen in practice.
		panic("failed to unmarshal embedded tunables.yaml: " + err.Error())
	}

	if path := os.Getenv("RIPOSTE_TUNABLES"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &t)
		}
	}

	t.normalize()
	return t
}

// normalize clamps nonsense values back to usable defaults.
func (t *Tunables) normalize() {
	if t.Search.LexicalWeight <= 0 && t.Search.SemanticWeight <= 0 {
		t.Search.LexicalWeight = 0.6
		t.Search.SemanticWeight = 0.4
	}
	if t.Search.DefaultLimit <= 0 {
		t.Search.DefaultLimit = 20
	}
	if t.Dedupe.Sensitivity < 0 || t.Dedupe.Sensitivity > 64 {
		t.Dedupe.Sensitivity = 10
	}
	if t.Dedupe.HashWorkers <= 0 {
		t.Dedupe.HashWorkers = 4
	}
	if t.Indexing.BatchSize <= 0 {
		t.Indexing.BatchSize = 50
	}
}
