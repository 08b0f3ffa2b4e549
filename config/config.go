package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort int
	Database   DatabaseConfig
	Epayco     EpaycoConfig

	// StorageBackend selects the image storage backend: "minio" or "gcs".
	StorageBackend string
	Minio          MinioConfig
	GCS            GCSConfig

	// MQBackend selects the order-event broker: "none", "rabbitmq" or "pubsub".
	MQBackend string
	RabbitMQ  RabbitMQConfig
	PubSub    PubSubConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
}

// EpaycoConfig carries the gateway credentials and defaults. PublicKey and
// PrivateKey authenticate session creation; CustomerID and PKey feed the
// webhook signature. Missing required credentials surface as configuration
// errors at call time, never as silent defaults.
type EpaycoConfig struct {
	PublicKey  string
	PrivateKey string
	CustomerID string
	PKey       string

	StoreName        string
	StoreDescription string
	Country          string
	TestMode         bool

	// MinAmount/MaxAmount optionally bound the session amount. Zero means
	// the bound is not configured.
	MinAmount float64
	MaxAmount float64

	// ResponseURL and ConfirmationURL are the defaults applied when the
	// caller supplies none. Caller-supplied values must be public HTTPS.
	ResponseURL     string
	ConfirmationURL string

	// TestIP replaces loopback/private client addresses, which the gateway
	// rejects during validation.
	TestIP string

	// APIBaseURL and ValidationBaseURL override the gateway endpoints.
	// Empty values select the production endpoints.
	APIBaseURL        string
	ValidationBaseURL string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type RabbitMQConfig struct {
	URL             string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
}

type PubSubConfig struct {
	ProjectID          string
	CredentialsFile    string
	SubscriptionSuffix string
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "almastore"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "almastore_db"),
		UseSSL:   getEnvBool("DB_USE_SSL", false),
	}

	epaycoConfig := EpaycoConfig{
		PublicKey:         getEnv("EPAYCO_PUBLIC_KEY", ""),
		PrivateKey:        getEnv("EPAYCO_PRIVATE_KEY", ""),
		CustomerID:        getEnv("EPAYCO_CUSTOMER_ID", ""),
		PKey:              getEnv("EPAYCO_P_KEY", ""),
		StoreName:         getEnv("EPAYCO_STORE_NAME", "Alma Store"),
		StoreDescription:  getEnv("EPAYCO_STORE_DESCRIPTION", "Compra desde el sitio"),
		Country:           getEnv("EPAYCO_COUNTRY", "CO"),
		TestMode:          getEnvBool("EPAYCO_TEST", true),
		MinAmount:         getEnvFloat("EPAYCO_MIN_AMOUNT", 0),
		MaxAmount:         getEnvFloat("EPAYCO_MAX_AMOUNT", 0),
		ResponseURL:       getEnv("EPAYCO_RESPONSE_URL", ""),
		ConfirmationURL:   getEnv("EPAYCO_CONFIRMATION_URL", ""),
		TestIP:            getEnv("EPAYCO_TEST_IP", "201.245.254.45"),
		APIBaseURL:        getEnv("EPAYCO_API_BASE_URL", ""),
		ValidationBaseURL: getEnv("EPAYCO_VALIDATION_BASE_URL", ""),
	}

	return Config{
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		Database:   dbConfig,
		Epayco:     epaycoConfig,

		StorageBackend: getEnv("STORAGE_BACKEND", "minio"),
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "product-images"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},

		MQBackend: getEnv("MQ_BACKEND", "none"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH_COUNT", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		fmt.Sscanf(valueStr, "%d", &value)
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
