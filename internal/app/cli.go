package app

import "github.com/spf13/pflag"

// RegisterFlags registers the flags shared by every command on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Config file (YAML, TOML or JSON)")
	flags.String("data-dir", "", "Directory for the store, indexes and clones")
	flags.String("git-backend", "", "Clone backend: go-git or cli")
	flags.String("llm-provider", "", "Generation provider: gemini, openai, anthropic or ollama")
	flags.String("llm-model", "", "Model name")
	flags.String("llm-base-url", "", "Provider base URL")
	flags.Float64("llm-temperature", 0, "Sampling temperature")
	flags.Int("top-k", 0, "Number of code chunks retrieved per question")
	flags.Bool("agent", false, "Answer with the tool-calling agent")
	flags.Bool("use-bridge", false, "Retrieve through the codebase tool server")
	flags.Int("max-parallel", 0, "Maximum concurrent ingestions")
	flags.StringSlice("repositories", nil, "Repositories to ingest on startup (comma-separated)")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")
}

// RegisterServeFlags registers the transport and authentication flags of the serve command
func RegisterServeFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
}
