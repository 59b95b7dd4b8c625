package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol)
	// All providers (zai, deepseek, openai, siliconflow, ollama) use the same config
	LLMProvider string // Provider identifier: zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	LLMAPIKey   string // Unified LLM API key
	LLMBaseURL  string // Unified LLM base URL (optional, has default per provider)
	LLMModel    string // Model name: glm-4.7, deepseek-chat, gpt-4o, etc.
	LLMTimeout  int    // LLM request timeout in seconds (default: 120)

	// Embedding configuration
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int

	// Routing thresholds
	DirectExecuteThreshold float64
	HintThreshold          float64

	// Collection behavior
	RequireConfirm bool

	// Other configurations
	Mode    string
	DSN     string
	Driver  string
	Version string
	Addr    string
	Data    string
	Port    int

	AIEnabled bool
}

// Provider default configurations for LLM.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.LLMProvider = getEnvOrDefault("ACTIONFLOW_LLM_PROVIDER", "zai")
	p.LLMAPIKey = getEnvOrDefault("ACTIONFLOW_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("ACTIONFLOW_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("ACTIONFLOW_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("ACTIONFLOW_LLM_TIMEOUT_SECONDS", 120)

	// AI is enabled if API key is configured
	p.AIEnabled = p.LLMAPIKey != ""

	// Validate and apply provider defaults if not explicitly set
	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("Unknown LLM provider, using default: zai", "provider", p.LLMProvider)
			p.LLMProvider = "zai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	// Embedding configuration
	p.EmbeddingModel = getEnvOrDefault("ACTIONFLOW_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.EmbeddingAPIKey = getEnvOrDefault("ACTIONFLOW_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("ACTIONFLOW_EMBEDDING_BASE_URL", "https://api.siliconflow.cn/v1")
	p.EmbeddingDimensions = getEnvOrDefaultInt("ACTIONFLOW_EMBEDDING_DIMENSIONS", 1024)

	// Routing thresholds
	p.DirectExecuteThreshold = getEnvOrDefaultFloat("ACTIONFLOW_ROUTER_DIRECT_THRESHOLD", 0.95)
	p.HintThreshold = getEnvOrDefaultFloat("ACTIONFLOW_ROUTER_HINT_THRESHOLD", 0.70)

	// Collection behavior
	p.RequireConfirm = getEnvOrDefault("ACTIONFLOW_COLLECT_REQUIRE_CONFIRM", "false") == "true"
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "actionflow")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/actionflow"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("actionflow_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.DirectExecuteThreshold <= 0 {
		p.DirectExecuteThreshold = 0.95
	}
	if p.HintThreshold <= 0 {
		p.HintThreshold = 0.70
	}
	if p.HintThreshold > p.DirectExecuteThreshold {
		return errors.Errorf("hint threshold %.2f exceeds direct-execute threshold %.2f", p.HintThreshold, p.DirectExecuteThreshold)
	}

	return nil
}
