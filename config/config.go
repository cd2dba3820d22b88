package config

import (
	"database/sql"
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Redis       *redis.Client `yaml:"redis"`
	Server      Server        `yaml:"server"`
	ObjectStore ObjectStore   `yaml:"object_store"`
	Agent       Agent         `yaml:"agent"`
	Discovery   Discovery     `yaml:"discovery"`
	Embedding   Embedding     `yaml:"embedding"`
	Live        Live          `yaml:"live"`
	Chat        Chat          `yaml:"chat"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

type ObjectStore struct {
	PublicURL string `yaml:"public_url"`
}

type Agent struct {
	URL string `yaml:"url"`
}

type Discovery struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Interval     time.Duration `yaml:"interval"`
	TopK         int           `yaml:"top_k"`
	StartSpacing time.Duration `yaml:"start_spacing"`
	Categories   []string      `yaml:"categories"`
	LiveIngest   bool          `yaml:"live_ingest"`
}

type Embedding struct {
	URL      string        `yaml:"url"`
	Model    string        `yaml:"model"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type Live struct {
	GracePeriod    time.Duration `yaml:"grace_period"`
	ReplaySize     int           `yaml:"replay_size"`
	BufferSize     int           `yaml:"buffer_size"`
	MinStartChunks int           `yaml:"min_start_chunks"`
	GapTimeout     time.Duration `yaml:"gap_timeout"`
}

type Chat struct {
	Capacity     int           `yaml:"capacity"`
	SnapshotSize int           `yaml:"snapshot_size"`
	PresenceTTL  time.Duration `yaml:"presence_ttl"`
}

func setDefaults() {
	viper.SetDefault("app.environment", "develop")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.workers", 2)
	viper.SetDefault("rabbitmq_kind", "direct")
	viper.SetDefault("minio.bucket", "live-media")
	viper.SetDefault("redis.ttl", 24*time.Hour)
	viper.SetDefault("discovery.interval", 30*time.Minute)
	viper.SetDefault("discovery.top_k", 5)
	viper.SetDefault("discovery.start_spacing", 200*time.Millisecond)
	viper.SetDefault("discovery.categories", []string{"all", "football", "basketball", "tennis"})
	viper.SetDefault("discovery.live_ingest", true)
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("live.grace_period", 30*time.Second)
	viper.SetDefault("live.replay_size", 10)
	viper.SetDefault("live.buffer_size", 64)
	viper.SetDefault("live.min_start_chunks", 2)
	viper.SetDefault("live.gap_timeout", 5*time.Second)
	viper.SetDefault("chat.capacity", 200)
	viper.SetDefault("chat.snapshot_size", 20)
	viper.SetDefault("presence.ttl", 30*time.Second)
}

func Load(path string) (*Config, error) {
	// .env is optional; variables already in the environment win.
	_ = godotenv.Load(filepath.Join(path, ".env"))

	setDefaults()
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var db *sql.DB
	if dsn := viper.GetString("postgresql_host"); dsn != "" {
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		ExchangeName: viper.GetString("rabbitmq_exchange_name"),
		Kind:         viper.GetString("rabbitmq_kind"),
	}

	var minioClient *minio.Client
	if endpoint := viper.GetString("minio.url"); endpoint != "" {
		minioClient, err = minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
			Secure: viper.GetBool("minio.secure"),
		})
		if err != nil {
			return nil, err
		}
	}

	var redisClient *redis.Client
	if addr := viper.GetString("redis.addr"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
	}

	publicURL := viper.GetString("minio.public_url")
	if publicURL == "" && viper.GetString("minio.url") != "" {
		scheme := "http"
		if viper.GetBool("minio.secure") {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, viper.GetString("minio.url"))
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		ObjectStore: ObjectStore{PublicURL: publicURL},
		Agent:       Agent{URL: viper.GetString("agent.url")},
		Discovery: Discovery{
			URL:          viper.GetString("discovery.url"),
			APIKey:       viper.GetString("discovery.api_key"),
			Interval:     viper.GetDuration("discovery.interval"),
			TopK:         viper.GetInt("discovery.top_k"),
			StartSpacing: viper.GetDuration("discovery.start_spacing"),
			Categories:   viper.GetStringSlice("discovery.categories"),
			LiveIngest:   viper.GetBool("discovery.live_ingest"),
		},
		Embedding: Embedding{
			URL:      viper.GetString("embedding.url"),
			Model:    viper.GetString("embedding.model"),
			CacheTTL: viper.GetDuration("redis.ttl"),
		},
		Live: Live{
			GracePeriod:    viper.GetDuration("live.grace_period"),
			ReplaySize:     viper.GetInt("live.replay_size"),
			BufferSize:     viper.GetInt("live.buffer_size"),
			MinStartChunks: viper.GetInt("live.min_start_chunks"),
			GapTimeout:     viper.GetDuration("live.gap_timeout"),
		},
		Chat: Chat{
			Capacity:     viper.GetInt("chat.capacity"),
			SnapshotSize: viper.GetInt("chat.snapshot_size"),
			PresenceTTL:  viper.GetDuration("presence.ttl"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
		Redis:   redisClient,
	}, nil
}
