package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultProfilePicture = "https://www.gravatar.com/avatar/?d=mp&s=256"

type Config struct {
	ServerPort int
	Env        string
	LogLevel   string

	// JWTSecret signs and verifies bearer tokens. An empty secret is allowed at
	// startup; every protected route then fails closed.
	JWTSecret string

	// DefaultProfilePicture is returned for users without a picture of their own.
	DefaultProfilePicture string

	// PublicBaseURL prefixes URLs of objects served by the local storage backend.
	PublicBaseURL string

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string

	Database  DatabaseConfig
	Mongo     MongoConfig
	Storage   StorageConfig
	MQ        MQConfig
	Share     ShareConfig
	Upload    UploadConfig
	RateLimit RateLimitConfig
}

type DatabaseConfig struct {
	// Driver selects the credential store: postgres, sqlite or mongo.
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	UseSSL   bool
	// Path is the database file used by the sqlite driver.
	Path string
}

type MongoConfig struct {
	URI    string
	DBName string
}

type StorageConfig struct {
	// Backend selects the blob store: local, minio or gcs.
	Backend string
	Local   LocalStorageConfig
	Minio   MinioConfig
	GCS     GCSConfig
}

type LocalStorageConfig struct {
	Dir string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the scheme://endpoint prefix of object URLs.
	PublicURL string
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

type MQConfig struct {
	// Backend selects the broker: rabbitmq, pubsub, or empty to disable sharing.
	Backend      string
	ShareChannel string
	RabbitMQ     RabbitMQConfig
	PubSub       PubSubConfig
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

type ShareConfig struct {
	FeedURL string
	APIKey  string
	Timeout time.Duration
}

type UploadConfig struct {
	MaxImageBytes int64
}

type RateLimitConfig struct {
	Limit  int64
	Period time.Duration
}

func LoadConfig() Config {
	if os.Getenv("ENV") == "dev" {
		godotenv.Load()
	}

	dbConfig := DatabaseConfig{
		Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "pothole"),
		Password: getEnv("DB_PASSWORD", "password"),
		DBName:   getEnv("DB_NAME", "pothole_db"),
		UseSSL:   getEnvBool("DB_SSL", false),
		Path:     getEnv("DB_PATH", "./data/pothole.db"),
	}

	mongoConfig := MongoConfig{
		URI:    getEnv("MONGO_URL", "mongodb://localhost:27017"),
		DBName: getEnv("MONGO_DB", "pothole"),
	}

	storageConfig := StorageConfig{
		Backend: strings.ToLower(getEnv("STORAGE_BACKEND", "local")),
		Local: LocalStorageConfig{
			Dir: getEnv("STORAGE_LOCAL_DIR", "./uploads"),
		},
		Minio: MinioConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "pothole-images"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			PublicURL: getEnv("MINIO_PUBLIC_URL", ""),
		},
		GCS: GCSConfig{
			Bucket:          getEnv("GCS_BUCKET", ""),
			ProjectID:       getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
	}

	mqConfig := MQConfig{
		Backend:      strings.ToLower(getEnv("MQ_BACKEND", "")),
		ShareChannel: getEnv("MQ_SHARE_CHANNEL", "report-shares"),
		RabbitMQ: RabbitMQConfig{
			URL:             getEnv("RABBITMQ_URL", ""),
			QueueDurable:    getEnvBool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getEnvBool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getEnvInt("RABBITMQ_PREFETCH", 10),
		},
		PubSub: PubSubConfig{
			ProjectID:          getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile:    getEnv("PUBSUB_CREDENTIALS_FILE", ""),
			SubscriptionSuffix: getEnv("PUBSUB_SUBSCRIPTION_SUFFIX", "-sub"),
		},
	}

	return Config{
		ServerPort:            getEnvInt("SERVER_PORT", 3000),
		Env:                   getEnv("ENV", "production"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		JWTSecret:             strings.TrimSpace(getEnv("JWT_SECRET", "")),
		DefaultProfilePicture: getEnv("DEFAULT_PROFILE_PICTURE", defaultProfilePicture),
		PublicBaseURL:         strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		CORSOrigins:           getEnvList("CORS_ORIGINS", []string{"*"}),
		Database:              dbConfig,
		Mongo:                 mongoConfig,
		Storage:               storageConfig,
		MQ:                    mqConfig,
		Share: ShareConfig{
			FeedURL: getEnv("SHARE_FEED_URL", ""),
			APIKey:  getEnv("SHARE_FEED_API_KEY", ""),
			Timeout: getEnvDuration("SHARE_TIMEOUT", 10*time.Second),
		},
		Upload: UploadConfig{
			MaxImageBytes: getEnvInt64("UPLOAD_MAX_IMAGE_BYTES", 5<<20),
		},
		RateLimit: RateLimitConfig{
			Limit:  getEnvInt64("RATE_LIMIT_LIMIT", 30),
			Period: getEnvDuration("RATE_LIMIT_PERIOD", time.Minute),
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
		value, err := strconv.Atoi(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseInt(strings.TrimSpace(valueStr), 10, 64)
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var values []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		value, err := time.ParseDuration(strings.TrimSpace(valueStr))
		if err != nil {
			return defaultValue
		}
		return value
	}
	return defaultValue
}
