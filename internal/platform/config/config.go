package config

import (
	"os"
	"strings"
	"time"
)

// Server captures registry server configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	LogLevel      string
	LogFormat     string
	Kafka         KafkaConfig
	// TxTimeout bounds each store transaction.
	TxTimeout time.Duration
}

// KafkaConfig configures the audit stream. Empty Brokers disables it.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds the server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// development default, override in any shared deployment
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          getenv("RELIEF_ADDR", ":8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     getenv("JWT_ISSUER", "relief"),
		JWTAudience:   getenv("JWT_AUDIENCE", "relief-api"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogFormat:     getenv("LOG_FORMAT", "json"),
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getenv("AUDIT_TOPIC", "relief.audit"),
		},
		TxTimeout: 5 * time.Second,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
