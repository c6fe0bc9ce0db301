package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Milvus     MilvusConfig
	Redis      RedisConfig
	Neo4j      Neo4jConfig
	LLM        LLMConfig
	Search     SearchConfig
	Router     RouterConfig
	Classifier ClassifierConfig
	Validator  ValidatorConfig
	Flashcards FlashcardConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type SearchConfig struct {
	Enabled    bool
	SerpAPIKey string
	MaxResults int
	TimeoutSec int
}

type RouterConfig struct {
	SpecialistTimeoutSec int
	RetryTransient       bool
}

type ClassifierConfig struct {
	ConfidenceFloor float64
}

type ValidatorConfig struct {
	MinCredibility   float64
	MinRelevance     float64
	CredibilityWeight float64
	RelevanceWeight   float64
}

type FlashcardConfig struct {
	DefaultCount int
	MaxCount     int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (r RouterConfig) SpecialistTimeout() time.Duration {
	return time.Duration(r.SpecialistTimeoutSec) * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/study-agent")

	viper.SetEnvPrefix("STUDY_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 60)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/studyagent.db")

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "study_materials")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 24)

	viper.SetDefault("neo4j.enabled", false)
	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 2048)
	viper.SetDefault("llm.timeoutSec", 30)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("search.enabled", true)
	viper.SetDefault("search.maxResults", 5)
	viper.SetDefault("search.timeoutSec", 10)

	// The specialist budget stays below the server write timeout so a
	// degraded envelope can still be returned after a timeout.
	viper.SetDefault("router.specialistTimeoutSec", 45)
	viper.SetDefault("router.retryTransient", true)

	viper.SetDefault("classifier.confidenceFloor", 0.5)

	viper.SetDefault("validator.minCredibility", 0.5)
	viper.SetDefault("validator.minRelevance", 0.5)
	viper.SetDefault("validator.credibilityWeight", 0.5)
	viper.SetDefault("validator.relevanceWeight", 0.5)

	viper.SetDefault("flashcards.defaultCount", 10)
	viper.SetDefault("flashcards.maxCount", 50)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
