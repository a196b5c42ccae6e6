package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultStripANSI       = true
	defaultEncoding        = "utf-8"
	defaultKillGrace       = 3 * time.Second
	defaultBlockSize       = 4096
	defaultQueueSize       = 64
	defaultPageMaxSize     = 1975
	defaultRefreshInterval = time.Second
	defaultPagePrefix      = "```"
	defaultLogLevel        = "info"
)

var aliasNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Config stores runtime settings loaded from TOML files.
type Config struct {
	Shell        string
	StripANSI    bool
	Encoding     string
	KillGrace    time.Duration
	BlockSize    int
	QueueSize    int
	Pager        PagerConfig
	OTelEndpoint string
	LogLevel     string
	// Aliases maps extra command names to shell command templates.
	Aliases map[string]string
}

// PagerConfig controls how live output is paginated and repainted.
type PagerConfig struct {
	MaxSize         int
	RefreshInterval time.Duration
	// Prefix opens every page; the highlight language is appended to it.
	Prefix        string
	MarkdownStyle string
}

type fileConfig struct {
	Shell     *string          `toml:"shell"`
	StripANSI *bool            `toml:"strip_ansi"`
	Encoding  *string          `toml:"encoding"`
	KillGrace *string          `toml:"kill_grace"`
	BlockSize *int             `toml:"block_size"`
	QueueSize *int             `toml:"queue_size"`
	Pager     *filePagerConfig `toml:"pager"`
	OTel      *fileOTelConfig  `toml:"otel"`
	LogLevel  *string          `toml:"log_level"`
}

type filePagerConfig struct {
	MaxSize         *int    `toml:"max_size"`
	RefreshInterval *string `toml:"refresh_interval"`
	Prefix          *string `toml:"prefix"`
	MarkdownStyle   *string `toml:"markdown_style"`
}

type fileOTelConfig struct {
	Endpoint *string `toml:"endpoint"`
}

// Load reads config from ~/.livesh/config.toml and overlays a project-local
// .livesh/config.toml.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, ".livesh", "config.toml"),
		filepath.Join(workingDir, ".livesh", "config.toml"),
	}

	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	_ = ctx
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	cfg := defaults()
	return &cfg
}

func defaults() Config {
	return Config{
		StripANSI: defaultStripANSI,
		Encoding:  defaultEncoding,
		KillGrace: defaultKillGrace,
		BlockSize: defaultBlockSize,
		QueueSize: defaultQueueSize,
		Pager: PagerConfig{
			MaxSize:         defaultPageMaxSize,
			RefreshInterval: defaultRefreshInterval,
			Prefix:          defaultPagePrefix,
		},
		LogLevel: defaultLogLevel,
		Aliases:  map[string]string{},
	}
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("decode config aliases in %q: %w", path, err)
	}

	if err := applyScalarOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyPagerOverrides(cfg, decoded.Pager, path); err != nil {
		return err
	}
	return overlayAliases(cfg, raw, path)
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("parse %s in %q: must be >= 0", key, path)
	}
	return parsed, nil
}

func applyScalarOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.Shell != nil {
		cfg.Shell = strings.TrimSpace(*decoded.Shell)
	}
	if decoded.StripANSI != nil {
		cfg.StripANSI = *decoded.StripANSI
	}
	if decoded.Encoding != nil {
		encoding := normalizeKey(*decoded.Encoding)
		switch encoding {
		case "utf-8", "utf8", "utf-16le", "utf16le", "utf-16":
			cfg.Encoding = encoding
		default:
			return fmt.Errorf("parse encoding in %q: unsupported encoding %q", path, *decoded.Encoding)
		}
	}
	if decoded.BlockSize != nil {
		if *decoded.BlockSize <= 0 {
			return fmt.Errorf("parse block_size in %q: must be > 0", path)
		}
		cfg.BlockSize = *decoded.BlockSize
	}
	if decoded.QueueSize != nil {
		if *decoded.QueueSize <= 0 {
			return fmt.Errorf("parse queue_size in %q: must be > 0", path)
		}
		cfg.QueueSize = *decoded.QueueSize
	}
	if decoded.OTel != nil && decoded.OTel.Endpoint != nil {
		cfg.OTelEndpoint = strings.TrimSpace(*decoded.OTel.Endpoint)
	}
	if decoded.LogLevel != nil {
		cfg.LogLevel = normalizeKey(*decoded.LogLevel)
	}
	return nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.KillGrace != nil {
		value, err := parseDuration(*decoded.KillGrace, "kill_grace", path)
		if err != nil {
			return err
		}
		cfg.KillGrace = value
	}
	if decoded.Pager != nil && decoded.Pager.RefreshInterval != nil {
		value, err := parseDuration(*decoded.Pager.RefreshInterval, "pager.refresh_interval", path)
		if err != nil {
			return err
		}
		cfg.Pager.RefreshInterval = value
	}
	return nil
}

func applyPagerOverrides(cfg *Config, decoded *filePagerConfig, path string) error {
	if decoded == nil {
		return nil
	}
	if decoded.MaxSize != nil {
		if *decoded.MaxSize < 32 {
			return fmt.Errorf("parse pager.max_size in %q: must be >= 32", path)
		}
		cfg.Pager.MaxSize = *decoded.MaxSize
	}
	if decoded.Prefix != nil {
		cfg.Pager.Prefix = *decoded.Prefix
	}
	if decoded.MarkdownStyle != nil {
		cfg.Pager.MarkdownStyle = strings.TrimSpace(*decoded.MarkdownStyle)
	}
	return nil
}

func overlayAliases(cfg *Config, raw map[string]any, path string) error {
	aliasesRaw, ok := raw["aliases"]
	if !ok {
		return nil
	}
	aliases, ok := aliasesRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("parse aliases in %q: expected table", path)
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}

	for name, value := range aliases {
		normalized := normalizeKey(name)
		if !aliasNamePattern.MatchString(normalized) {
			return fmt.Errorf("parse aliases.%s in %q: invalid command name", name, path)
		}
		text, err := stringValue(value, "aliases."+name, path)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("parse aliases.%s in %q: must not be empty", name, path)
		}
		cfg.Aliases[normalized] = text
	}
	return nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func stringValue(value any, key string, path string) (string, error) {
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("parse %s in %q: must be string", key, path)
	}
	return text, nil
}
