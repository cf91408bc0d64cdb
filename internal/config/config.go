package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the full configuration surface of hlsflow.
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Lock      LockConfig      `mapstructure:"lock"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Mail      MailConfig      `mapstructure:"mail"`
	Search    SearchConfig    `mapstructure:"search"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	API       APIConfig       `mapstructure:"api"`
	Janitor   JanitorConfig   `mapstructure:"janitor"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

type QueueConfig struct {
	Prefix       string        `mapstructure:"prefix"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	StreamGroup  string        `mapstructure:"stream_group"`
	Consumer     string        `mapstructure:"consumer"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	ClaimIdle    time.Duration `mapstructure:"claim_idle"`
}

type WorkerConfig struct {
	Queues           []string      `mapstructure:"queues"`
	Transport        string        `mapstructure:"transport"` // list or stream
	FailureThreshold int           `mapstructure:"failure_threshold"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
}

type LockConfig struct {
	Lease         time.Duration `mapstructure:"lease"`
	Wait          time.Duration `mapstructure:"wait"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type StorageConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type LedgerConfig struct {
	DSN string `mapstructure:"dsn"`
}

type TranscodeConfig struct {
	FFmpegBin        string        `mapstructure:"ffmpeg_bin"`
	FFprobeBin       string        `mapstructure:"ffprobe_bin"`
	WorkDir          string        `mapstructure:"work_dir"`
	ExtraArgs        string        `mapstructure:"extra_args"`
	SegmentSeconds   int           `mapstructure:"segment_seconds"`
	MinFreeDisk      int64         `mapstructure:"min_free_disk"`
	DownloadAttempts int           `mapstructure:"download_attempts"`
	DownloadBackoff  time.Duration `mapstructure:"download_backoff"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
}

type MailConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	From    string        `mapstructure:"from"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SearchConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Index   string        `mapstructure:"index"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or console
	Output     string `mapstructure:"output"` // stdout, file or both
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxBackups int    `mapstructure:"max_backups"` // files
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Port string `mapstructure:"port"`
}

type APIConfig struct {
	Port string `mapstructure:"port"`
}

type JanitorConfig struct {
	Schedule   string        `mapstructure:"schedule"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// stringToDurationHookFunc parses Go duration strings such as "1m30s".
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human readable sizes ("500MB") into int64 bytes.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// not a size string, let the next hook have it
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("redis.addr", "redis:6379")
	vp.SetDefault("redis.password", "")
	vp.SetDefault("redis.db", 0)
	vp.SetDefault("redis.dial_timeout", "5s")
	vp.SetDefault("redis.read_timeout", "3s")
	vp.SetDefault("redis.write_timeout", "3s")
	vp.SetDefault("redis.pool_size", 10)

	vp.SetDefault("queue.prefix", "hlsflow")
	vp.SetDefault("queue.poll_timeout", "1s")
	vp.SetDefault("queue.stream_group", "hlsflow")
	vp.SetDefault("queue.consumer", "")
	vp.SetDefault("queue.stream_max_len", 10000)
	vp.SetDefault("queue.max_attempts", 5)
	vp.SetDefault("queue.claim_idle", "30m")

	vp.SetDefault("worker.queues", []string{"video"})
	vp.SetDefault("worker.transport", "list")
	vp.SetDefault("worker.failure_threshold", 3)
	vp.SetDefault("worker.stop_timeout", "30s")

	vp.SetDefault("lock.lease", "5m")
	vp.SetDefault("lock.wait", "30s")
	vp.SetDefault("lock.retry_interval", "100ms")

	vp.SetDefault("storage.endpoint", "")
	vp.SetDefault("storage.region", "auto")
	vp.SetDefault("storage.bucket", "")
	vp.SetDefault("storage.access_key", "")
	vp.SetDefault("storage.secret_key", "")
	vp.SetDefault("storage.use_path_style", true)

	vp.SetDefault("ledger.dsn", "data/ledger.db")

	vp.SetDefault("transcode.ffmpeg_bin", "ffmpeg")
	vp.SetDefault("transcode.ffprobe_bin", "ffprobe")
	vp.SetDefault("transcode.work_dir", "")
	vp.SetDefault("transcode.extra_args", "")
	vp.SetDefault("transcode.segment_seconds", 6)
	vp.SetDefault("transcode.min_free_disk", "500MB")
	vp.SetDefault("transcode.download_attempts", 5)
	vp.SetDefault("transcode.download_backoff", "1s")
	vp.SetDefault("transcode.probe_timeout", "30s")

	vp.SetDefault("mail.base_url", "")
	vp.SetDefault("mail.api_key", "")
	vp.SetDefault("mail.from", "")
	vp.SetDefault("mail.timeout", "15s")
	vp.SetDefault("search.base_url", "")
	vp.SetDefault("search.api_key", "")
	vp.SetDefault("search.index", "contents")
	vp.SetDefault("search.timeout", "15s")

	vp.SetDefault("log.level", "info")
	vp.SetDefault("log.format", "json")
	vp.SetDefault("log.output", "stdout")
	vp.SetDefault("log.file", "./logs/hlsflow.log")
	vp.SetDefault("log.max_size", 100)
	vp.SetDefault("log.max_backups", 3)
	vp.SetDefault("log.max_age", 28)
	vp.SetDefault("log.compress", true)

	vp.SetDefault("metrics.port", "9090")
	vp.SetDefault("api.port", "8080")

	vp.SetDefault("janitor.schedule", "@every 10m")
	vp.SetDefault("janitor.stale_after", "2h")
}

// Load reads defaults, the optional config file and HLSFLOW_* environment
// variables, in increasing order of precedence. An empty path searches the
// usual locations for hlsflow.yaml.
func Load(path string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp)

	if path != "" {
		vp.SetConfigFile(path)
	} else {
		vp.SetConfigName("hlsflow")
		vp.SetConfigType("yaml")
		vp.AddConfigPath(".")
		vp.AddConfigPath("./config")
		vp.AddConfigPath("/etc/hlsflow/")
	}

	if err := vp.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	vp.SetEnvPrefix("HLSFLOW")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}

// ValidateWorker checks the settings a worker process cannot run without.
func (c *Config) ValidateWorker() error {
	var errs []error
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Worker.FailureThreshold < 1 {
		errs = append(errs, errors.New("worker.failure_threshold must be at least 1"))
	}
	if c.Worker.Transport != "list" && c.Worker.Transport != "stream" {
		errs = append(errs, fmt.Errorf("worker.transport must be list or stream, got %q", c.Worker.Transport))
	}
	if c.Queue.PollTimeout <= 0 {
		errs = append(errs, errors.New("queue.poll_timeout must be positive"))
	}
	if c.Lock.Lease <= 0 || c.Lock.Wait <= 0 {
		errs = append(errs, errors.New("lock.lease and lock.wait must be positive"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	return errors.Join(errs...)
}
