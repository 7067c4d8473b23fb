// Package config loads and validates offline-sync configuration.
//
// Configuration files are CUE. A user file is unified against the
// embedded schema, which supplies defaults and rejects unknown fields,
// so every consumer downstream can assume a well-formed Config.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE []byte

// Config is the decoded, validated configuration tree.
type Config struct {
	Server ServerConfig `json:"server"`
	Queue  QueueConfig  `json:"queue"`
	Cache  CacheConfig  `json:"cache"`
	Sync   SyncConfig   `json:"sync"`
}

type ServerConfig struct {
	BaseURL         string `json:"baseURL"`
	StatusTimeoutMS int    `json:"statusTimeoutMS"`
}

// StatusTimeout returns the status probe ceiling as a duration.
func (s ServerConfig) StatusTimeout() time.Duration {
	return time.Duration(s.StatusTimeoutMS) * time.Millisecond
}

type QueueConfig struct {
	Path           string `json:"path"`
	MaxEntries     int    `json:"maxEntries"`
	MaxRetries     int    `json:"maxRetries"`
	StaleAfterDays int    `json:"staleAfterDays"`
}

// StaleAfter returns the pending-entry retention window as a duration.
func (q QueueConfig) StaleAfter() time.Duration {
	return time.Duration(q.StaleAfterDays) * 24 * time.Hour
}

type CacheConfig struct {
	Path              string   `json:"path"`
	StaticGeneration  string   `json:"staticGeneration"`
	RuntimeGeneration string   `json:"runtimeGeneration"`
	OfflinePath       string   `json:"offlinePath"`
	PlaceholderIcon   string   `json:"placeholderIcon"`
	Precache          []string `json:"precache"`
	IdentifyingParams []string `json:"identifyingParams"`
}

type SyncConfig struct {
	TickSeconds    int  `json:"tickSeconds"`
	BackgroundWake bool `json:"backgroundWake"`
}

// Tick returns the drain cadence as a duration.
func (s SyncConfig) Tick() time.Duration {
	return time.Duration(s.TickSeconds) * time.Second
}

// Load reads a CUE configuration file, unifies it with the schema and
// decodes the result. Schema defaults fill anything the file omits.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse unifies raw CUE source with the schema and decodes it. The
// filename is used for error positions only.
func Parse(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("config: schema: %w", err)
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Config{}, fmt.Errorf("config: %s", cueerrors.Details(err, nil))
	}

	unified := schema.Unify(user)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return Config{}, fmt.Errorf("config: %s", cueerrors.Details(err, nil))
	}

	var cfg Config
	if err := unified.LookupPath(cue.ParsePath("config")).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Default returns the schema's defaults with the given server base URL.
func Default(baseURL string) (Config, error) {
	src := fmt.Sprintf("config: server: baseURL: %q\n", baseURL)
	return Parse([]byte(src), "<defaults>")
}
