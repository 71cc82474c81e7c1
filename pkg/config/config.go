package config

import (
	"fmt"
	"os"
	"strconv"
)

// Controller holds the configuration consumed by the control plane
type Controller struct {
	// Document database
	MongoURI      string
	MongoUsername string
	MongoPassword string
	Database      string // controller's own database name

	// Blob store
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool

	// Routing
	DomainName string
	AppImage   string
	// TraefikDynamicDir is the shared dynamic-config directory watched by
	// the reverse proxy.
	TraefikDynamicDir string
	// SelfContainerName is the controller's own container, inspected to
	// discover the compose network runtime containers must join.
	SelfContainerName string
	DefaultNetwork    string

	// HTTP
	ListenAddr string

	SecretKey string
	DevMode   bool
	// AppCodePathOnHost is bind-mounted into runtime containers in dev mode
	AppCodePathOnHost string
}

// Runtime holds the configuration consumed by one data-plane process
type Runtime struct {
	AppID string

	MongoURI      string
	MongoUsername string
	MongoPassword string
	Database      string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioSecure    bool

	ListenAddr string

	SecretKey string
	DevMode   bool

	// Code cache tuning
	CacheMaxSize int
	CacheTTLSecs int
}

// ControllerFromEnv builds the controller configuration from the environment
func ControllerFromEnv() (*Controller, error) {
	cfg := &Controller{
		MongoURI:          getenv("MONGO_URI", "mongodb://mongodb:27017"),
		MongoUsername:     os.Getenv("MONGODB_USERNAME"),
		MongoPassword:     os.Getenv("MONGODB_PASSWORD"),
		Database:          getenv("MONGO_DATABASE", "hyac"),
		MinioEndpoint:     getenv("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey:    os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:    os.Getenv("MINIO_SECRET_KEY"),
		MinioSecure:       getbool("MINIO_SECURE", false),
		DomainName:        os.Getenv("DOMAIN_NAME"),
		AppImage:          getenv("APP_IMAGE", "hyac_app:latest"),
		TraefikDynamicDir: getenv("TRAEFIK_DYNAMIC_DIR", "/traefik/dynamic"),
		SelfContainerName: getenv("SERVER_CONTAINER_NAME", "hyac_server"),
		DefaultNetwork:    getenv("DEFAULT_NETWORK", "hyac_network"),
		ListenAddr:        getenv("LISTEN_ADDR", ":8000"),
		SecretKey:         os.Getenv("SECRET_KEY"),
		DevMode:           getbool("DEV_MODE", false),
		AppCodePathOnHost: os.Getenv("APP_CODE_PATH_ON_HOST"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing critical configuration
func (c *Controller) Validate() error {
	if c.DomainName == "" {
		return fmt.Errorf("DOMAIN_NAME is required")
	}
	if c.MongoUsername == "" || c.MongoPassword == "" {
		return fmt.Errorf("MONGODB_USERNAME and MONGODB_PASSWORD are required")
	}
	if c.MinioAccessKey == "" || c.MinioSecretKey == "" {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	return nil
}

// RuntimeFromEnv builds the runtime configuration from the environment
func RuntimeFromEnv() (*Runtime, error) {
	cfg := &Runtime{
		AppID:          os.Getenv("APP_ID"),
		MongoURI:       getenv("MONGO_URI", "mongodb://mongodb:27017"),
		MongoUsername:  os.Getenv("MONGODB_USERNAME"),
		MongoPassword:  os.Getenv("MONGODB_PASSWORD"),
		Database:       getenv("MONGO_DATABASE", "hyac"),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", "minio:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioSecure:    getbool("MINIO_SECURE", false),
		ListenAddr:     getenv("LISTEN_ADDR", ":8001"),
		SecretKey:      os.Getenv("SECRET_KEY"),
		DevMode:        getbool("DEV_MODE", false),
		CacheMaxSize:   getint("CODE_CACHE_MAX_SIZE", 1024),
		CacheTTLSecs:   getint("CODE_CACHE_EXPIRE", 7200),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing critical configuration
func (c *Runtime) Validate() error {
	if c.AppID == "" {
		return fmt.Errorf("APP_ID is required")
	}
	if c.MongoUsername == "" || c.MongoPassword == "" {
		return fmt.Errorf("MONGODB_USERNAME and MONGODB_PASSWORD are required")
	}
	if c.MinioAccessKey == "" || c.MinioSecretKey == "" {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
