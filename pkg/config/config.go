package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
)

// EnvPrefix is the prefix of every environment override, e.g.
// CHANREPL_INPUT_SETTLE_DELAY=100ms.
const EnvPrefix = "CHANREPL"

// ConfigPathEnv names a config file when -config is not given.
const ConfigPathEnv = "CHANREPL_CONFIG"

// Config is the complete runtime configuration of the REPL.
type Config struct {
	Input   InputConfig   `yaml:"input" json:"input"`
	Output  OutputConfig  `yaml:"output" json:"output"`
	Log     LogConfig     `yaml:"log" json:"log"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Events  EventsConfig  `yaml:"events" json:"events"`
}

// InputConfig controls the input actor.
type InputConfig struct {
	// SettleDelay is the pause before the first read so startup logging
	// is not interleaved with the prompt.
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"`
	// QuitOnEOF makes end of input behave like typing quit. Off by default:
	// end of input then only stops the reader.
	QuitOnEOF bool `yaml:"quit_on_eof" json:"quit_on_eof"`
}

// OutputConfig controls how results are printed.
type OutputConfig struct {
	ResultPrefix string `yaml:"result_prefix" json:"result_prefix"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// MetricsConfig controls the Prometheus endpoint. An empty ListenAddr
// keeps metrics in-process only.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Exporter    string `yaml:"exporter" json:"exporter"` // none | stdout | zipkin
	ServiceName string `yaml:"service_name" json:"service_name"`
	// Endpoint is the zipkin collector URL
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// EventsConfig controls result publishing. An empty NATSURL disables it.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" json:"nats_url"`
	Subject string `yaml:"subject" json:"subject"`
}

// Default returns the configuration used when no file or override is given.
func Default() Config {
	return Config{
		Input: InputConfig{
			SettleDelay: 500 * time.Millisecond,
			QuitOnEOF:   false,
		},
		Output: OutputConfig{
			ResultPrefix: "> ",
		},
		Log: LogConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "chanrepl",
		},
		Events: EventsConfig{
			Subject: "chanrepl.results",
		},
	}
}

// Validators returns the checks every loaded Config must pass.
func Validators() []Validator {
	return []Validator{
		DurationRangeValidator("Input.SettleDelay", 0, 10*time.Second),
		OneOfValidator("Log.Level", "debug", "info", "warn", "error"),
		OneOfValidator("Tracing.Exporter", "none", "stdout", "zipkin"),
		RequiredFields("Tracing.ServiceName", "Events.Subject"),
	}
}

// Load builds a Config from defaults, an optional file, and environment
// overrides, then validates it. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := ApplyEnvOverrides(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := Validate(&cfg, Validators()...); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile loads a file into target, choosing the decoder by extension.
// Unknown extensions are decoded as YAML.
func LoadFile(path string, target interface{}) error {
	if strings.HasSuffix(path, ".json") {
		return LoadJSON(path, target)
	}
	return LoadYAML(path, target)
}

// ApplyEnvOverrides sets struct fields from PREFIX_SECTION_FIELD variables.
// Field names come from the yaml tag when present, upper-cased.
func ApplyEnvOverrides(prefix string, target interface{}) error {
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to a struct")
	}
	return applyEnvToStruct(prefix, val.Elem())
}

func applyEnvToStruct(prefix string, val reflect.Value) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		if !field.CanSet() {
			continue
		}

		envKey := prefix + "_" + strings.ToUpper(envName(fieldType))
		envKey = strings.ReplaceAll(envKey, "-", "_")

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(envKey, field); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldFromEnv(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envKey, err)
		}
	}

	return nil
}

func envName(f reflect.StructField) string {
	if tag := f.Tag.Get("yaml"); tag != "" {
		if name := strings.Split(tag, ",")[0]; name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

var durationType = reflect.TypeOf(time.Duration(0))

func setFieldFromEnv(field reflect.Value, envValue string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(envValue)
		if err != nil {
			return fmt.Errorf("invalid duration value: %s", envValue)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var intVal int64
		if _, err := fmt.Sscanf(envValue, "%d", &intVal); err != nil {
			return fmt.Errorf("invalid integer value: %s", envValue)
		}
		field.SetInt(intVal)
	case reflect.Bool:
		field.SetBool(strings.ToLower(envValue) == "true" || envValue == "1")
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}
