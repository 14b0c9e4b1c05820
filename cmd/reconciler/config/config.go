// Package config turns viper settings into the components the CLI runs on.
package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"marketplace-ledger-reconciler/internal/ledger"
	"marketplace-ledger-reconciler/internal/locks"
	"marketplace-ledger-reconciler/internal/models"
	"marketplace-ledger-reconciler/internal/parsers"
	"marketplace-ledger-reconciler/internal/reconciler"
	"marketplace-ledger-reconciler/internal/reporter"
	"marketplace-ledger-reconciler/internal/storage"
	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

// Storage backends
const (
	BackendFS  = "fs"
	BackendGCS = "gcs"
)

// profileKey selects a built-in header profile inside a platform section
const profileKey = "profile"

// StorageConfig selects where ledgers live
type StorageConfig struct {
	Backend         string `mapstructure:"backend"`
	Root            string `mapstructure:"root"`
	Bucket          string `mapstructure:"bucket"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// LockConfig controls the Redis lease; ignored without Redis
type LockConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	Retry      time.Duration `mapstructure:"retry"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// PlatformConfig is the header setup of one platform
type PlatformConfig struct {
	Profile string
	Headers parsers.PlatformHeaders
}

// AppConfig is the complete application configuration
type AppConfig struct {
	Storage StorageConfig
	Redis   storage.RedisOptions
	Lock    LockConfig
	Log     logger.Config

	LedgerFormat       parsers.Format
	MaxConcurrentLoads int

	HistoryCollection string
	HistoryLimit      int64
	MaxRejectionsKept int

	// DefaultProfile applies to platforms without a profile of their own
	DefaultProfile string
	Platforms      map[string]*PlatformConfig
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	lockDefaults := locks.DefaultRedisLockerConfig()
	serviceDefaults := reconciler.DefaultConfig()

	v.SetDefault("storage.backend", BackendFS)
	v.SetDefault("storage.root", "./data")
	v.SetDefault("redis.db", 0)
	v.SetDefault("lock.ttl", lockDefaults.TTL)
	v.SetDefault("lock.retry", lockDefaults.RetryInterval)
	v.SetDefault("lock.max_retries", lockDefaults.MaxRetries)
	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.TextFormat))
	v.SetDefault("ledger.format", string(parsers.FormatXLSX))
	v.SetDefault("ledger.max_concurrent_loads", 8)
	v.SetDefault("history.collection", serviceDefaults.HistoryCollection)
	v.SetDefault("history.limit", serviceDefaults.HistoryLimit)
	v.SetDefault("ingest.max_rejections", serviceDefaults.MaxRejectionsKept)
	v.SetDefault("headers.profile", parsers.GenericProfile.Name)
}

// Load reads the application configuration from v
func Load(v *viper.Viper) (*AppConfig, error) {
	SetDefaults(v)

	ttl, err := cast.ToDurationE(v.Get("lock.ttl"))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "lock.ttl", v.Get("lock.ttl"), err)
	}
	retry, err := cast.ToDurationE(v.Get("lock.retry"))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "lock.retry", v.Get("lock.retry"), err)
	}

	format, err := parsers.ParseFormat(v.GetString("ledger.format"))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger.format", v.GetString("ledger.format"), err)
	}

	platforms, err := parsePlatforms(v.Get("platforms"))
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		Storage: StorageConfig{
			Backend:         strings.ToLower(strings.TrimSpace(v.GetString("storage.backend"))),
			Root:            v.GetString("storage.root"),
			Bucket:          v.GetString("storage.bucket"),
			CredentialsJSON: v.GetString("storage.credentials_json"),
		},
		Redis: storage.RedisOptions{
			Address:  strings.TrimSpace(v.GetString("redis.address")),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Lock: LockConfig{
			TTL:        ttl,
			Retry:      retry,
			MaxRetries: v.GetInt("lock.max_retries"),
		},
		Log: logger.Config{
			Level:  logger.Level(strings.ToLower(v.GetString("log.level"))),
			Format: logger.Format(strings.ToLower(v.GetString("log.format"))),
			Output: logger.StderrOutput,
		},
		LedgerFormat:       format,
		MaxConcurrentLoads: v.GetInt("ledger.max_concurrent_loads"),
		HistoryCollection:  v.GetString("history.collection"),
		HistoryLimit:       v.GetInt64("history.limit"),
		MaxRejectionsKept:  v.GetInt("ingest.max_rejections"),
		DefaultProfile:     v.GetString("headers.profile"),
		Platforms:          platforms,
	}

	if v.GetBool("verbose") {
		debug := logger.DebugConfig()
		debug.Format = cfg.Log.Format
		cfg.Log = *debug
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parsePlatforms reads the platforms.<platform>.<kind>.<field> tree. Loaders
// lower-case keys, so platform names are matched case-insensitively.
func parsePlatforms(raw interface{}) (map[string]*PlatformConfig, error) {
	platforms := make(map[string]*PlatformConfig)
	if raw == nil {
		return platforms, nil
	}

	tree, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "platforms", raw, err)
	}

	for name, section := range tree {
		setting := "platforms." + name
		entries, err := cast.ToStringMapE(section)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, setting, section, err)
		}

		platform := &PlatformConfig{Headers: make(parsers.PlatformHeaders)}
		for key, value := range entries {
			if strings.EqualFold(key, profileKey) {
				platform.Profile = cast.ToString(value)
				continue
			}

			kind, err := models.ParseRecordKind(key)
			if err != nil {
				return nil, errors.ConfigurationError(errors.CodeInvalidConfig, setting+"."+key, value, err)
			}
			rawHeaders, err := cast.ToStringMapStringE(value)
			if err != nil {
				return nil, errors.ConfigurationError(errors.CodeInvalidConfig, setting+"."+key, value, err)
			}
			headers, err := parsers.ParseHeaderMap(rawHeaders)
			if err != nil {
				return nil, errors.ConfigurationError(errors.CodeInvalidConfig, setting+"."+key, value, err)
			}
			platform.Headers[kind] = headers
		}
		platforms[strings.ToLower(name)] = platform
	}
	return platforms, nil
}

// Validate validates the application configuration
func (c *AppConfig) Validate() error {
	switch c.Storage.Backend {
	case BackendFS:
		if strings.TrimSpace(c.Storage.Root) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "storage.root", "", nil)
		}
	case BackendGCS:
		if strings.TrimSpace(c.Storage.Bucket) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "storage.bucket", "", nil).
				WithSuggestion("set storage.bucket or RECONCILER_STORAGE_BUCKET")
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "storage.backend", c.Storage.Backend,
			fmt.Errorf("expected %s or %s", BackendFS, BackendGCS))
	}

	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}

	if c.Redis.Address != "" {
		if c.Lock.TTL <= 0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "lock.ttl", c.Lock.TTL,
				fmt.Errorf("lease ttl must be positive"))
		}
		if c.Lock.Retry <= 0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "lock.retry", c.Lock.Retry,
				fmt.Errorf("retry interval must be positive"))
		}
	}

	if parsers.GetHeaderProfile(c.DefaultProfile) == nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "headers.profile", c.DefaultProfile,
			fmt.Errorf("unknown header profile")).WithSuggestion(profileSuggestion())
	}
	for name, platform := range c.Platforms {
		if platform.Profile != "" && parsers.GetHeaderProfile(platform.Profile) == nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "platforms."+name+".profile", platform.Profile,
				fmt.Errorf("unknown header profile")).WithSuggestion(profileSuggestion())
		}
	}

	if err := c.serviceConfig().Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "history", c.HistoryLimit, err)
	}
	return nil
}

func profileSuggestion() string {
	var names []string
	for _, profile := range parsers.ListHeaderProfiles() {
		names = append(names, profile.Name)
	}
	sort.Strings(names)
	return "use one of: " + strings.Join(names, ", ")
}

// HeadersFor returns the header map used to ingest kind for platform. An
// explicit profile overrides the configured one; platform mappings are
// layered over the profile.
func (c *AppConfig) HeadersFor(platform string, kind models.RecordKind, profile string) (parsers.HeaderMap, error) {
	configured := c.Platforms[strings.ToLower(strings.TrimSpace(platform))]

	name := c.DefaultProfile
	if configured != nil && configured.Profile != "" {
		name = configured.Profile
	}
	if profile != "" {
		name = profile
	}

	base := parsers.GetHeaderProfile(name)
	if base == nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "profile", name,
			fmt.Errorf("unknown header profile")).WithSuggestion(profileSuggestion())
	}

	headers := base.Headers
	if configured != nil {
		headers = headers.Merge(configured.Headers)
	}

	h, err := headers.For(kind)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, fmt.Sprintf("platforms.%s.%s", platform, kind), "", err)
	}
	return h, nil
}

func (c *AppConfig) serviceConfig() *reconciler.Config {
	return &reconciler.Config{
		MaxRejectionsKept: c.MaxRejectionsKept,
		HistoryCollection: c.HistoryCollection,
		HistoryLimit:      c.HistoryLimit,
	}
}

// NewLogger builds the logger described by the log settings
func (c *AppConfig) NewLogger() (logger.Logger, error) {
	log, err := logger.NewLogger(&c.Log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}
	return log, nil
}

// Runtime holds the wired components of one CLI invocation
type Runtime struct {
	Config  *AppConfig
	Service *reconciler.Service
	Redis   *redis.Client

	closers []func() error
}

// NewRuntime connects the configured backends and builds the service
func (c *AppConfig) NewRuntime(ctx context.Context) (*Runtime, error) {
	rt := &Runtime{Config: c}

	blobs, err := c.newBlobStore(ctx, rt)
	if err != nil {
		return nil, err
	}

	codec, err := parsers.NewCodec(c.LedgerFormat)
	if err != nil {
		rt.Close()
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger.format", c.LedgerFormat, err)
	}

	var locker locks.Locker = locks.NewLocalLocker()
	var history storage.DocumentStore
	if c.Redis.Address != "" {
		rdb, err := storage.NewRedisClient(ctx, c.Redis)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.Redis = rdb
		rt.closers = append(rt.closers, rdb.Close)

		locker = locks.NewRedisLocker(rdb, locks.RedisLockerConfig{
			TTL:           c.Lock.TTL,
			RetryInterval: c.Lock.Retry,
			MaxRetries:    c.Lock.MaxRetries,
		})
		history = storage.NewRedisDocumentStore(rdb)
	}

	store := ledger.NewStore(blobs, codec,
		ledger.WithLocker(locker),
		ledger.WithMaxConcurrentLoads(c.MaxConcurrentLoads),
	)

	service, err := reconciler.NewService(store, history, c.serviceConfig())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Service = service
	return rt, nil
}

func (c *AppConfig) newBlobStore(ctx context.Context, rt *Runtime) (storage.BlobStore, error) {
	switch c.Storage.Backend {
	case BackendGCS:
		gcs, err := storage.NewGCSBlobStore(ctx, c.Storage.Bucket, c.Storage.CredentialsJSON)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, gcs.Close)
		return gcs, nil
	default:
		return storage.NewFSBlobStore(c.Storage.Root), nil
	}
}

// Close releases every connection the runtime opened
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))

	switch config.Format {
	case reporter.FormatConsole:
		config.IncludeRejections = true
	case reporter.FormatJSON:
		config.IncludeRejections = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "format", format,
			fmt.Errorf("expected console, json or csv"))
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "format", format, err)
	}
	return config, nil
}
