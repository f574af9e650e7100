package infra

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix env prefix for viper
const EnvPrefix = "LGATE"

// runtime environments
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// AppConfig App option object
type AppConfig struct {
	AppID          string        `mapstructure:"app_id" json:"app_id" yaml:"app_id" validate:"required"`            // Application ID
	Host           string        `mapstructure:"host" json:"host" yaml:"host"`                                      // bind host address
	Port           int           `mapstructure:"port" json:"port" yaml:"port"`                                      // bind listen port
	Env            string        `mapstructure:"env" json:"env" yaml:"env" validate:"oneof=development production"` // runtime environment
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" json:"session_timeout" yaml:"session_timeout"` // JWT lifetime
	Database       struct {
		Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=mysql postgres sqlite"`
		Host     string `mapstructure:"host" json:"host" yaml:"host" validate:"required"`                            // server host
		MaxConn  int32  `mapstructure:"maxconn" json:"maxconn" yaml:"maxconn" validate:"min=1"`                      // maximum opening connections number
		Password string `mapstructure:"password" json:"password" yaml:"password"`                                    // db password
		Port     int    `mapstructure:"port" json:"port" yaml:"port"`                                                // server port
		Protocol string `mapstructure:"protocol" json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp udp"` // connection protocol, eg.tcp
		Query    string `mapstructure:"query" json:"query" yaml:"query"`                                             // DSN query parameter
		Schema   string `mapstructure:"schema" json:"schema" yaml:"schema"`                                          // use schema
		User     string `mapstructure:"username" json:"username" yaml:"username"`                                    // db username
	} `mapstructure:"database" json:"database" yaml:"database"`
	Logging struct {
		FilePath string `mapstructure:"file_path" json:"file_path" yaml:"file_path"`                            // log file path
		Level    string `mapstructure:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"` // global logging level
	} `mapstructure:"logging" json:"logging" yaml:"logging"`
	Security struct {
		IDLength  int    `mapstructure:"id_length" json:"id_length" yaml:"id_length" validate:"min=8"` // length of generated session ID
		JWTMethod string `mapstructure:"jwt_method" json:"jwt_method" yaml:"jwt_method" validate:"oneof=HS256 HS512 ES256"`
		JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"jwt_secret" validate:"required"`
		TokenName string `mapstructure:"token_name" json:"token_name" yaml:"token_name" validate:"required"` // jwt token name set in cookie
		// origins allowed to call the API with credentials
		AllowOrigins []string `mapstructure:"allow_origins" json:"allow_origins" yaml:"allow_origins" validate:"min=1"`
	} `mapstructure:"security" json:"security" yaml:"security"`
	KVStore struct {
		Host     string `mapstructure:"host" json:"host" yaml:"host"` // bind host address
		Port     int    `mapstructure:"port" json:"port" yaml:"port"` // bind listen port
		Password string `mapstructure:"password" json:"-" yaml:"password"`
	} `mapstructure:"kv" json:"kv" yaml:"kv"`
	Preview struct {
		Duration time.Duration `mapstructure:"duration" json:"duration" yaml:"duration" validate:"min=1000000000"` // free preview window, at least 1s
	} `mapstructure:"preview" json:"preview" yaml:"preview"`
	Session struct {
		IdleTimeout       time.Duration `mapstructure:"idle_timeout" json:"idle_timeout" yaml:"idle_timeout"`
		SweepInterval     time.Duration `mapstructure:"sweep_interval" json:"sweep_interval" yaml:"sweep_interval"`
		CloseOnDisconnect bool          `mapstructure:"close_on_disconnect" json:"close_on_disconnect" yaml:"close_on_disconnect"`
	} `mapstructure:"session" json:"session" yaml:"session"`
	Payment struct {
		Driver      string        `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=mock http"`
		Endpoint    string        `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint" validate:"required_if=Driver http"`
		Price       string        `mapstructure:"price" json:"price" yaml:"price" validate:"required,numeric"`
		Currency    string        `mapstructure:"currency" json:"currency" yaml:"currency" validate:"required"`
		Timeout     time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
		ReceiptTTL  time.Duration `mapstructure:"receipt_ttl" json:"receipt_ttl" yaml:"receipt_ttl"`
		MockLatency time.Duration `mapstructure:"mock_latency" json:"mock_latency" yaml:"mock_latency"`
		Rate        float64       `mapstructure:"rate" json:"rate" yaml:"rate"`    // unlock attempts per second per viewer
		Burst       int           `mapstructure:"burst" json:"burst" yaml:"burst"` // unlock attempt burst per viewer
	} `mapstructure:"payment" json:"payment" yaml:"payment"`
	Catalog struct {
		Driver   string `mapstructure:"driver" json:"driver" yaml:"driver" validate:"oneof=sql http"`
		Endpoint string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint" validate:"required_if=Driver http"`
		TopK     int    `mapstructure:"top_k" json:"top_k" yaml:"top_k" validate:"min=1,max=50"`
	} `mapstructure:"catalog" json:"catalog" yaml:"catalog"`
	DevOP struct {
		APM bool `mapstructure:"apm" json:"apm" yaml:"apm"`
	} `mapstructure:"devop" json:"devop" yaml:"devop"`
}

// InitConfig init app config using viper
func InitConfig() (*AppConfig, error) {
	return LoadConfig(pflag.CommandLine, nil)
}

// LoadConfig registers every option on fs, parses args and reads the result
// through viper. A nil args parses os.Args.
func LoadConfig(fs *pflag.FlagSet, args []string) (*AppConfig, error) {
	registerFlags(fs)

	if args == nil {
		args = os.Args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config = new(AppConfig)
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.Logging.Level == "debug" {
		if configJSON, err := json.MarshalIndent(config, "", "  "); err == nil {
			log.Printf("App config: %s\n", string(configJSON))
		}
	}
	return config, nil
}

func registerFlags(fs *pflag.FlagSet) {
	// app
	fs.String("host", "", "binding address")
	fs.String("app_id", "", "application identifier (required)")
	fs.String("env", EnvDevelopment, "runtime environment, can be 'development' or 'production'")
	fs.Int("port", 8081, "listening port")
	fs.Duration("request_timeout", 30*time.Second, "abort requests running longer than this")
	fs.Duration("session_timeout", 24*time.Hour, "JWT lifetime(m, s and h units are supported), eg.30m")

	// database
	fs.String("database.driver", "postgres", "catalog database driver, 'mysql', 'postgres' or 'sqlite'")
	fs.String("database.host", "127.0.0.1", "database host")
	fs.Int("database.port", 5432, "database server port")
	fs.String("database.protocol", "", "connection protocol(if mysql is used, this flag must be set), eg.tcp")
	fs.String("database.username", "", "database username")
	fs.String("database.password", "", "database password")
	fs.String("database.schema", "", "database schema")
	fs.String("database.query", "", `additional DSN query parameters('?' is auto prefixed)`)
	fs.Int32("database.maxconn", 20, `max connection count, if you encounter a "too many connections" error, please consider
increasing the max_connection value of your db server, or lower this value`)

	// logging
	fs.String("logging.level", "info", "logging level")
	fs.String("logging.file_path", "", "log to file")

	// security
	fs.Int("security.id_length", 21, "set length of generated session ID")
	fs.String("security.jwt_method", "HS256", "hash algorithm used for JWT auth")
	fs.String("security.jwt_secret", "", "JWT secret (required)")
	fs.String("security.token_name", "lgate_token", "cookie name to store the token")
	fs.StringSlice("security.allow_origins", []string{"http://127.0.0.1:8080"}, "CORS allowed origins, '*' reflects any origin")

	// kv storage
	fs.String("kv.host", "127.0.0.1", "kv host")
	fs.Int("kv.port", 6379, "kv server port")
	fs.String("kv.password", "", "kv server password")

	// preview
	fs.Duration("preview.duration", 40*time.Second, "free preview window per lecture")

	// session
	fs.Duration("session.idle_timeout", 30*time.Minute, "close sessions untouched for this long")
	fs.Duration("session.sweep_interval", time.Minute, "how often idle sessions are swept")
	fs.Bool("session.close_on_disconnect", true, "close a session when its event stream disconnects")

	// payment
	fs.String("payment.driver", "mock", "payment gateway, 'mock' or 'http'")
	fs.String("payment.endpoint", "", "payment processor base URL (required by the http driver)")
	fs.String("payment.price", "0.001", "unlock price")
	fs.String("payment.currency", "ETH", "unlock price currency")
	fs.Duration("payment.timeout", 2*time.Minute, "give up on an unlock payment after this long")
	fs.Duration("payment.receipt_ttl", 30*24*time.Hour, "how long receipts are kept")
	fs.Duration("payment.mock_latency", 1500*time.Millisecond, "simulated confirmation time of the mock gateway")
	fs.Float64("payment.rate", 0.2, "unlock attempts per second per viewer")
	fs.Int("payment.burst", 3, "unlock attempt burst per viewer")

	// catalog
	fs.String("catalog.driver", "sql", "catalog provider, 'sql' or 'http'")
	fs.String("catalog.endpoint", "", "search service base URL (required by the http driver)")
	fs.Int("catalog.top_k", 20, "default number of search results")

	// DevOp
	fs.Bool("devop.apm", false, "enable apm metrics")
}

func validateConfig(config *AppConfig) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "-" || name == "" {
			return ""
		}
		return name
	})
	err := validate.Struct(config)
	if _, ok := err.(*validator.InvalidValidationError); ok {
		log.Fatalf("Failed to validate config: %s", err)
	}
	if err == nil {
		return nil
	}

	var msg []string
	for _, field := range err.(validator.ValidationErrors) {
		namespace := field.Namespace()
		fieldName := namespace[strings.IndexByte(namespace, '.')+1:] // trim top level namespace
		switch field.Tag() {
		case "required", "required_if":
			msg = append(msg, fmt.Sprintf("%s is required", fieldName))
		case "oneof":
			msg = append(msg, fmt.Sprintf("%s must be one of (%s)", fieldName, field.Param()))
		case "min":
			msg = append(msg, fmt.Sprintf("%s must be at least %s", fieldName, field.Param()))
		case "max":
			msg = append(msg, fmt.Sprintf("%s must be at most %s", fieldName, field.Param()))
		default:
			msg = append(msg, fmt.Sprintf("%s failed on %s", fieldName, field.Tag()))
		}
	}
	return fmt.Errorf("failed to validate config: \n%s", strings.Join(msg, "\n"))
}
