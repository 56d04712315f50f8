package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by LoadSettings.
const EnvPrefix = "CODERAG"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Transport constants
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// ReservedToolServer is the name of the in-process codebase tool server.
const ReservedToolServer = "codebase"

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StoreSettings configures the embedded key-value store.
type StoreSettings struct {
	Path        string        `mapstructure:"path"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// SourceSettings configures cloning and file selection.
type SourceSettings struct {
	Backend         string        `mapstructure:"backend"` // "go-git" or "cli"
	CloneTimeout    time.Duration `mapstructure:"clone_timeout"`
	MaxFileSize     int64         `mapstructure:"max_file_size"`
	Extensions      []string      `mapstructure:"extensions"`
	ExcludePatterns []string      `mapstructure:"exclude_patterns"`
}

// IndexSettings configures the full-text index location.
type IndexSettings struct {
	Dir string `mapstructure:"dir"`
}

// LLMSettings selects the generation provider.
type LLMSettings struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"` // requests per second, 0 disables limiting
	Burst       int           `mapstructure:"burst"`
}

// RAGSettings tunes retrieval and answering.
type RAGSettings struct {
	TopK          int           `mapstructure:"top_k"`
	MaxAgentSteps int           `mapstructure:"max_agent_steps"`
	Agent         bool          `mapstructure:"agent"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	UseBridge     bool          `mapstructure:"use_bridge"`
	MaxResults    int           `mapstructure:"max_results"`
}

// IngestSettings configures ingestion.
type IngestSettings struct {
	MaxParallel  int      `mapstructure:"max_parallel"`
	ReposDir     string   `mapstructure:"repos_dir"`
	Repositories []string `mapstructure:"repositories"`
}

// ToolServerSettings describes an external stdio tool server.
type ToolServerSettings struct {
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// Settings application settings
type Settings struct {
	Transport   string                        `mapstructure:"transport"`
	Host        string                        `mapstructure:"host"`
	Port        int                           `mapstructure:"port"`
	Auth        AuthSettings                  `mapstructure:"auth"`
	DataDir     string                        `mapstructure:"data_dir"`
	Store       StoreSettings                 `mapstructure:"store"`
	Source      SourceSettings                `mapstructure:"source"`
	Index       IndexSettings                 `mapstructure:"index"`
	LLM         LLMSettings                   `mapstructure:"llm"`
	RAG         RAGSettings                   `mapstructure:"rag"`
	Ingest      IngestSettings                `mapstructure:"ingest"`
	ToolServers map[string]ToolServerSettings `mapstructure:"tool_servers"`
	Log         LogSettings                   `mapstructure:"log"`
}

// envKeys lists the keys bound to CODERAG_* variables. Keys without a default
// must be bound explicitly for viper to see them during Unmarshal.
var envKeys = []string{
	"transport", "host", "port",
	"auth.type", "auth.basic.username", "auth.basic.password", "auth.api_keys",
	"data_dir",
	"store.path", "store.open_timeout",
	"source.backend", "source.clone_timeout", "source.max_file_size", "source.extensions", "source.exclude_patterns",
	"index.dir",
	"llm.provider", "llm.model", "llm.api_key", "llm.base_url", "llm.temperature",
	"llm.max_tokens", "llm.timeout", "llm.rate_limit", "llm.burst",
	"rag.top_k", "rag.max_agent_steps", "rag.agent", "rag.cache_ttl", "rag.use_bridge", "rag.max_results",
	"ingest.max_parallel", "ingest.repos_dir", "ingest.repositories",
	"log.level", "log.format",
}

// flagKeys maps setting keys to CLI flag names.
var flagKeys = map[string]string{
	"transport":           "transport",
	"host":                "host",
	"port":                "port",
	"auth.type":           "auth-type",
	"auth.basic.username": "auth-basic-username",
	"auth.basic.password": "auth-basic-password",
	"auth.api_keys":       "auth-api-keys",
	"data_dir":            "data-dir",
	"source.backend":      "git-backend",
	"llm.provider":        "llm-provider",
	"llm.model":           "llm-model",
	"llm.base_url":        "llm-base-url",
	"llm.temperature":     "llm-temperature",
	"rag.top_k":           "top-k",
	"rag.agent":           "agent",
	"rag.use_bridge":      "use-bridge",
	"ingest.max_parallel": "max-parallel",
	"ingest.repositories": "repositories",
	"log.level":           "log-level",
	"log.format":          "log-format",
}

// providerKeyEnv names the conventional API key variable of each provider.
var providerKeyEnv = map[string]string{
	"gemini":    "GOOGLE_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > config file > defaults.
// The config file is named by the "config" flag or CODERAG_CONFIG.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	v.SetDefault("transport", TransportStdio)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("store.open_timeout", time.Second)
	v.SetDefault("source.backend", "go-git")
	v.SetDefault("source.clone_timeout", 5*time.Minute)
	v.SetDefault("source.max_file_size", int64(256*1024)) // 256KB
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.burst", 1)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.max_agent_steps", 8)
	v.SetDefault("rag.cache_ttl", time.Hour)
	v.SetDefault("rag.use_bridge", true)
	v.SetDefault("rag.max_results", 20)
	v.SetDefault("ingest.max_parallel", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key, envName(key))
	}

	configFile := os.Getenv(EnvPrefix + "_CONFIG")
	if flags != nil {
		for key, name := range flagKeys {
			_ = v.BindPFlag(key, flags.Lookup(name))
		}
		if f := flags.Lookup("config"); f != nil && f.Changed {
			configFile = f.Value.String()
		}
	}

	if configFile != "" {
		v.SetConfigFile(expandHomeDir(configFile))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	// .env in the working directory, if present
	if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		_ = v.MergeInConfig()
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	settings.Auth.APIKeys = splitList(settings.Auth.APIKeys, os.Getenv(envName("auth.api_keys")))
	settings.Ingest.Repositories = splitList(settings.Ingest.Repositories, os.Getenv(envName("ingest.repositories")))
	settings.Source.Extensions = splitList(settings.Source.Extensions, os.Getenv(envName("source.extensions")))
	settings.Source.ExcludePatterns = splitList(settings.Source.ExcludePatterns, os.Getenv(envName("source.exclude_patterns")))

	if settings.LLM.APIKey == "" {
		if name, ok := providerKeyEnv[settings.LLM.Provider]; ok {
			settings.LLM.APIKey = os.Getenv(name)
		}
	}

	resolvePaths(&settings)
	return &settings, nil
}

// resolvePaths expands ~ and derives unset locations from data_dir.
func resolvePaths(s *Settings) {
	s.DataDir = expandHomeDir(s.DataDir)
	if s.Store.Path == "" {
		s.Store.Path = filepath.Join(s.DataDir, "coderag.db")
	}
	if s.Index.Dir == "" {
		s.Index.Dir = filepath.Join(s.DataDir, "indexes")
	}
	if s.Ingest.ReposDir == "" {
		s.Ingest.ReposDir = filepath.Join(s.DataDir, "repos")
	}
	s.Store.Path = expandHomeDir(s.Store.Path)
	s.Index.Dir = expandHomeDir(s.Index.Dir)
	s.Ingest.ReposDir = expandHomeDir(s.Ingest.ReposDir)
}

// splitList handles lists given as one comma-separated env value and trims
// and drops empty entries.
func splitList(values []string, envValue string) []string {
	if envValue != "" {
		if len(values) == 0 || (len(values) == 1 && strings.Contains(values[0], ",")) {
			values = strings.Split(envValue, ",")
		}
	}
	var result []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

// defaultDataDir returns the default directory for persistent state
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coderag"
	}
	return filepath.Join(home, ".coderag")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	switch s.Transport {
	case TransportStdio, TransportSSE:
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	if err := validateAuthSettings(&s.Auth); err != nil {
		return err
	}

	if s.DataDir == "" {
		return errors.New("data-dir cannot be empty")
	}

	validators := []func(*Settings) error{
		validateSourceSettings,
		validateLLMSettings,
		validateRAGSettings,
		validateIngestSettings,
		validateToolServers,
		validateLogSettings,
	}
	for _, validate := range validators {
		if err := validate(s); err != nil {
			return err
		}
	}
	return nil
}

func validateAuthSettings(a *AuthSettings) error {
	hasBasicCreds := a.Basic.Username != "" || a.Basic.Password != ""
	hasAPIKeys := len(a.APIKeys) > 0

	switch a.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if a.Basic.Username == "" || a.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + a.Type)
	}
	return nil
}

func validateSourceSettings(s *Settings) error {
	switch s.Source.Backend {
	case "go-git", "cli":
	default:
		return errors.New("git-backend must be 'go-git' or 'cli', got: " + s.Source.Backend)
	}
	if s.Source.MaxFileSize <= 0 {
		return errors.New("source.max_file_size must be positive")
	}
	if s.Source.CloneTimeout < 0 {
		return errors.New("source.clone_timeout cannot be negative")
	}
	return nil
}

func validateLLMSettings(s *Settings) error {
	switch s.LLM.Provider {
	case "gemini", "openai", "anthropic", "ollama":
	default:
		return errors.New("unsupported llm-provider: " + s.LLM.Provider)
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		return fmt.Errorf("llm-temperature must be between 0 and 2, got: %g", s.LLM.Temperature)
	}
	if s.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens cannot be negative")
	}
	if s.LLM.RateLimit < 0 {
		return errors.New("llm.rate_limit cannot be negative")
	}
	if s.LLM.RateLimit > 0 && s.LLM.Burst < 1 {
		return errors.New("llm.burst must be at least 1 when rate limiting is enabled")
	}
	return nil
}

func validateRAGSettings(s *Settings) error {
	if s.RAG.TopK <= 0 {
		return errors.New("top-k must be positive")
	}
	if s.RAG.MaxAgentSteps <= 0 {
		return errors.New("rag.max_agent_steps must be positive")
	}
	if s.RAG.CacheTTL < 0 {
		return errors.New("rag.cache_ttl cannot be negative")
	}
	if s.RAG.MaxResults <= 0 {
		return errors.New("rag.max_results must be positive")
	}
	return nil
}

func validateIngestSettings(s *Settings) error {
	if s.Ingest.MaxParallel <= 0 {
		return errors.New("max-parallel must be positive")
	}
	return nil
}

func validateToolServers(s *Settings) error {
	for name, ts := range s.ToolServers {
		if name == ReservedToolServer {
			return fmt.Errorf("tool server name %q is reserved", name)
		}
		if ts.Command == "" {
			return fmt.Errorf("tool server %q requires a command", name)
		}
	}
	return nil
}

func validateLogSettings(s *Settings) error {
	if _, err := parseLevel(s.Log.Level); err != nil {
		return err
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return errors.New("log-format must be 'text' or 'json', got: " + s.Log.Format)
	}
	return nil
}
