package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the query-serving core.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Qdrant    QdrantConfig
	Embedding EmbeddingConfig
	Reranker  RerankerConfig
	Retrieval RetrievalConfig
	LLM       LLMConfig
	Processor ProcessorConfig
	Ingestion IngestionConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Mode         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type QdrantConfig struct {
	URL         string
	APIKey      string
	Collection  string
	Timeout     time.Duration
	MaxInflight int64
}

type EmbeddingConfig struct {
	DenseURL    string
	SparseURL   string
	Model       string
	Timeout     time.Duration
	CacheTTL    time.Duration
	MaxInflight int64
}

type RerankerConfig struct {
	Endpoint    string
	Model       string
	APIKey      string
	Timeout     time.Duration
	TopN        int
	TopK        int
	MaxInflight int64
}

// RetrievalConfig controls hybrid fusion behavior. Boost multipliers live in
// a separate YAML file (see BoostTable) so they can change without redeploy.
type RetrievalConfig struct {
	TopK                  int
	PreRetrieveMultiplier int
	RRFK                  int
	DenseWeight           float64
	SparseWeight          float64
	BoostFile             string
}

type LLMConfig struct {
	ProviderOrder    []string
	CallTimeout      time.Duration
	MaxTokens        int
	CacheTTL         time.Duration
	BreakerThreshold int
	BreakerOpenBase  time.Duration
	BreakerOpenMax   time.Duration

	YandexAPIURL   string
	YandexAPIKey   string
	YandexFolderID string
	YandexModel    string
	DeepSeekAPIURL string
	DeepSeekAPIKey string
	DeepSeekModel  string
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	OpenAIModel    string
}

type ProcessorConfig struct {
	MaxDepth          int
	EmbedTimeout      time.Duration
	RetrieveTimeout   time.Duration
	RerankTimeout     time.Duration
	MaxSubQueries     int
	RetrievalCacheTTL time.Duration
}

// IngestionConfig points at the external ingestion pipeline. Reindex requests
// are forwarded there untouched.
type IngestionConfig struct {
	URL     string
	Timeout time.Duration
}

// Load builds the configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Mode:         getEnv("GIN_MODE", "release"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Qdrant: QdrantConfig{
			URL:         getEnv("QDRANT_URL", "http://localhost:6333"),
			APIKey:      getEnv("QDRANT_API_KEY", ""),
			Collection:  getEnv("QDRANT_COLLECTION", "docs_chunks"),
			Timeout:     getEnvDuration("QDRANT_TIMEOUT", 10*time.Second),
			MaxInflight: int64(getEnvInt("QDRANT_MAX_INFLIGHT", 16)),
		},
		Embedding: EmbeddingConfig{
			DenseURL:    getEnv("EMBEDDING_DENSE_URL", "http://localhost:8501"),
			SparseURL:   getEnv("EMBEDDING_SPARSE_URL", "http://localhost:8502"),
			Model:       getEnv("EMBEDDING_MODEL", "bge-m3"),
			Timeout:     getEnvDuration("EMBEDDING_TIMEOUT", 15*time.Second),
			CacheTTL:    getEnvDuration("EMBEDDING_CACHE_TTL", time.Hour),
			MaxInflight: int64(getEnvInt("EMBEDDING_MAX_INFLIGHT", 8)),
		},
		Reranker: RerankerConfig{
			Endpoint:    getEnv("RERANKER_ENDPOINT", ""),
			Model:       getEnv("RERANKER_MODEL", "BAAI/bge-reranker-v2-m3"),
			APIKey:      getEnv("RERANKER_API_KEY", ""),
			Timeout:     getEnvDuration("RERANKER_TIMEOUT", 10*time.Second),
			TopN:        getEnvInt("RERANKER_TOP_N", 30),
			TopK:        getEnvInt("RERANKER_TOP_K", 10),
			MaxInflight: int64(getEnvInt("RERANKER_MAX_INFLIGHT", 4)),
		},
		Retrieval: RetrievalConfig{
			TopK:                  getEnvInt("RETRIEVAL_TOP_K", 20),
			PreRetrieveMultiplier: getEnvInt("RETRIEVAL_PREFETCH_MULTIPLIER", 3),
			RRFK:                  getEnvInt("RRF_K", 60),
			DenseWeight:           getEnvFloat("HYBRID_DENSE_WEIGHT", 1.0),
			SparseWeight:          getEnvFloat("HYBRID_SPARSE_WEIGHT", 1.0),
			BoostFile:             getEnv("BOOST_FILE", "boosts.yaml"),
		},
		LLM: LLMConfig{
			ProviderOrder:    getEnvSlice("LLM_PROVIDER_ORDER", []string{"yandex", "openai", "deepseek"}),
			CallTimeout:      getEnvDuration("LLM_CALL_TIMEOUT", 60*time.Second),
			MaxTokens:        getEnvInt("LLM_MAX_TOKENS", 800),
			CacheTTL:         getEnvDuration("LLM_CACHE_TTL", 30*time.Minute),
			BreakerThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerOpenBase:  getEnvDuration("BREAKER_OPEN_BASE", 30*time.Second),
			BreakerOpenMax:   getEnvDuration("BREAKER_OPEN_MAX", 10*time.Minute),

			YandexAPIURL:   getEnv("YANDEX_API_URL", "https://llm.api.cloud.yandex.net/foundationModels/v1"),
			YandexAPIKey:   getEnv("YANDEX_API_KEY", ""),
			YandexFolderID: getEnv("YANDEX_FOLDER_ID", ""),
			YandexModel:    getEnv("YANDEX_MODEL", "yandexgpt-lite"),
			DeepSeekAPIURL: getEnv("DEEPSEEK_API_URL", "https://api.deepseek.com/v1"),
			DeepSeekAPIKey: getEnv("DEEPSEEK_API_KEY", ""),
			DeepSeekModel:  getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
			OpenAIBaseURL:  getEnv("OPENAI_API_BASE_URL", ""),
			OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Processor: ProcessorConfig{
			MaxDepth:          getEnvInt("PROCESSOR_MAX_DEPTH", 3),
			EmbedTimeout:      getEnvDuration("PROCESSOR_EMBED_TIMEOUT", 15*time.Second),
			RetrieveTimeout:   getEnvDuration("PROCESSOR_RETRIEVE_TIMEOUT", 10*time.Second),
			RerankTimeout:     getEnvDuration("PROCESSOR_RERANK_TIMEOUT", 10*time.Second),
			MaxSubQueries:     getEnvInt("PROCESSOR_MAX_SUBQUERIES", 3),
			RetrievalCacheTTL: getEnvDuration("RETRIEVAL_CACHE_TTL", 5*time.Minute),
		},
		Ingestion: IngestionConfig{
			URL:     getEnv("INGESTION_URL", "http://localhost:8090"),
			Timeout: getEnvDuration("INGESTION_TIMEOUT", 10*time.Second),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
