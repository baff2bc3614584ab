package config

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Log     LogConfig
	API     APIConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL       string
	AnalysisModel string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// APIConfig holds the bearer token protecting the HTTP API. The token is a
// secret: it is read only from the environment, never from the config file.
// An empty token leaves the localhost API unauthenticated.
type APIConfig struct {
	Token string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:       "http://localhost:11434",
			AnalysisModel: "mistral-nemo",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/caselog/config.json, then applies CASELOG_* environment
// variable overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
