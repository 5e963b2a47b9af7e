package shared

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ohlcv-pipeline/go/pkg/ohlcv"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// KafkaConfig holds broker and topic details.
type KafkaConfig struct {
	Brokers      string        `envconfig:"KAFKA_BROKER" default:"localhost:9092"`
	GroupID      string        `envconfig:"KAFKA_GROUP" default:"ohlcv-pipeline"`
	RawTopic     string        `envconfig:"RAW_TOPIC" default:"bars.raw"`
	TopicPrefix  string        `envconfig:"BARS_TOPIC_PREFIX" default:"bars."`
	ProducerAcks string        `envconfig:"KAFKA_ACKS" default:"all" validate:"oneof=all -1 none 0 one 1"`
	LingerMS     int           `envconfig:"KAFKA_LINGER_MS" default:"5" validate:"min=0"`
	BatchBytes   int           `envconfig:"KAFKA_BATCH_BYTES" default:"1048576" validate:"min=1"` // 1MB
	IdleTimeout  time.Duration `envconfig:"KAFKA_IDLE_TIMEOUT" default:"5s"`
}

func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"localhost:9092"}
	}
	return out
}

// PostgresConfig holds DB connection details.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432" validate:"min=1,max=65535"`
	Database string `envconfig:"POSTGRES_DB" default:"trading"`
	User     string `envconfig:"POSTGRES_USER" default:"trader"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"trader"`
	PoolMax  int    `envconfig:"PG_POOL_MAX" default:"8" validate:"min=1"`
}

// MetricsConfig controls Prometheus listener. Port 0 disables it.
type MetricsConfig struct {
	Port int `envconfig:"METRICS_PORT" default:"9000" validate:"min=0,max=65535"`
}

// BatchConfig holds write batching knobs.
type BatchConfig struct {
	BatchSize    int           `envconfig:"BATCH_SIZE" default:"2000" validate:"min=1"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json console"`
}

// SessionConfig is the trading session used to build the minute grid.
type SessionConfig struct {
	Open     string        `envconfig:"SESSION_OPEN" default:"09:15"`
	Close    string        `envconfig:"SESSION_CLOSE" default:"15:25"`
	Step     time.Duration `envconfig:"SESSION_STEP" default:"1m"`
	Weekdays string        `envconfig:"SESSION_WEEKDAYS" default:"Mon,Tue,Wed,Thu,Fri"`
}

// Session converts the env form into a validated ohlcv.Session.
func (c SessionConfig) Session() (ohlcv.Session, error) {
	open, err := ohlcv.ParseClock(c.Open)
	if err != nil {
		return ohlcv.Session{}, err
	}
	closeAt, err := ohlcv.ParseClock(c.Close)
	if err != nil {
		return ohlcv.Session{}, err
	}
	days, err := ohlcv.ParseWeekdays(c.Weekdays)
	if err != nil {
		return ohlcv.Session{}, err
	}
	s := ohlcv.Session{Weekdays: days, Open: open, Close: closeAt, Step: c.Step}
	return s, s.Validate()
}

// PipelineConfig controls the batch orchestrator.
type PipelineConfig struct {
	Timeframes     string        `envconfig:"TIMEFRAMES" default:"5min@15m,30min@15m,1hour=60min@15m,1d=1D"`
	TimeframesFile string        `envconfig:"TIMEFRAMES_FILE"`
	Workers        int           `envconfig:"PIPELINE_WORKERS" default:"8" validate:"min=1"`
	Timeout        time.Duration `envconfig:"PIPELINE_TIMEOUT" default:"30m"`
	BaseLabel      string        `envconfig:"BASE_LABEL" default:"1min" validate:"required"`
	EmitBase       bool          `envconfig:"EMIT_BASE" default:"true"`
	ReportPath     string        `envconfig:"REPORT_PATH" default:".lastrun.json"`
}

// TimeframeSpecs reads TIMEFRAMES_FILE when set, otherwise TIMEFRAMES.
func (c PipelineConfig) TimeframeSpecs() ([]ohlcv.Timeframe, error) {
	if c.TimeframesFile != "" {
		return LoadTimeframesFile(c.TimeframesFile)
	}
	return ohlcv.ParseTimeframes(c.Timeframes)
}

// FileConfig locates on-disk inputs and outputs.
type FileConfig struct {
	InputDir        string `envconfig:"INPUT_DIR" default:"data/raw"`
	OutputDir       string `envconfig:"OUTPUT_DIR" default:"flat_data"`
	Layout          string `envconfig:"OUTPUT_LAYOUT" default:"flat" validate:"oneof=flat nested"`
	Formats         string `envconfig:"OUTPUT_FORMATS" default:"csv"`
	RequiredColumns string `envconfig:"REQUIRED_COLUMNS"`
}

// FormatList splits OUTPUT_FORMATS.
func (c FileConfig) FormatList() []string { return SplitList(c.Formats) }

// ExtraColumns splits REQUIRED_COLUMNS.
func (c FileConfig) ExtraColumns() []string { return SplitList(c.RequiredColumns) }

// KiteConfig carries Zerodha credentials and the instrument list.
type KiteConfig struct {
	TokensCSV   string  `envconfig:"ZERODHA_TOKENS_CSV" default:"configs/tokens.csv"`
	TokenJSON   string  `envconfig:"ZERODHA_TOKEN_FILE" default:"ingestion/auth/token.json"`
	APIKey      string  `envconfig:"KITE_API_KEY"`
	AccessToken string  `envconfig:"KITE_ACCESS_TOKEN"` // optional override
	From        string  `envconfig:"HISTORY_FROM"`
	To          string  `envconfig:"HISTORY_TO"`
	Continuous  bool    `envconfig:"HISTORY_CONTINUOUS" default:"false"`
	ChunkDays   int     `envconfig:"HISTORY_CHUNK_DAYS" default:"60" validate:"min=1,max=60"`
	RPS         float64 `envconfig:"KITE_RPS" default:"3" validate:"gt=0"`
}

// APIConfig configures the read-only OHLC HTTP API.
type APIConfig struct {
	Port           int           `envconfig:"API_PORT" default:"8000" validate:"min=1,max=65535"`
	DataDir        string        `envconfig:"DATA_DIR" default:"flat_data" validate:"required"`
	AllowedOrigins string        `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownGrace  time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`
}

// Load fills the given struct from environment.
func Load[T any](prefix string) (T, error) {
	var cfg T
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

var validate = validator.New()

// Validate checks `validate` struct tags, including nested config structs.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ValidateVar checks a single value against a validator tag list.
func ValidateVar(v any, tag string) error {
	return validate.Var(v, tag)
}

type timeframeFile struct {
	Timeframes []struct {
		Name   string `yaml:"name"`
		Freq   string `yaml:"freq"`
		Offset string `yaml:"offset"`
	} `yaml:"timeframes"`
}

// LoadTimeframesFile reads a YAML table of {name, freq, offset}.
func LoadTimeframesFile(path string) ([]ohlcv.Timeframe, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc timeframeFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	specs := make([]string, 0, len(doc.Timeframes))
	for _, tf := range doc.Timeframes {
		spec := tf.Freq
		if tf.Name != "" {
			spec = tf.Name + "=" + spec
		}
		if tf.Offset != "" {
			spec += "@" + tf.Offset
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s: %w: no timeframes listed", path, ohlcv.ErrUnknownTimeframe)
	}
	return ohlcv.ParseTimeframes(strings.Join(specs, ","))
}

// SplitList splits a comma separated env value, dropping blanks.
func SplitList(raw string) []string {
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
