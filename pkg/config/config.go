package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/lookup"
	"github.com/itohio/tcloop/pkg/nvm"
	"github.com/itohio/tcloop/pkg/output"
	"github.com/itohio/tcloop/pkg/thermo"
)

// Config represents the instrument configuration.
type Config struct {
	Sampler     SamplerConfig     `yaml:"sampler"`
	Scale       ScaleConfig       `yaml:"scale"`
	RTD         RTDConfig         `yaml:"rtd"`
	Output      OutputConfig      `yaml:"output"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Storage     StorageConfig     `yaml:"storage"`
	Serial      SerialConfig      `yaml:"serial"`
	Report      ReportConfig      `yaml:"report"`
	Sim         SimConfig         `yaml:"sim"`
	Trend       TrendConfig       `yaml:"trend"`
}

// SamplerConfig contains converter batching parameters.
type SamplerConfig struct {
	BatchSize int `yaml:"batch_size"` // conversions per channel per cycle
	Settle    int `yaml:"settle"`     // conversions discarded after a channel switch
}

// ScaleConfig contains the converter transfer constants.
type ScaleConfig struct {
	VRef             float64 `yaml:"vref"`              // reference voltage (V)
	FullScale        float64 `yaml:"full_scale"`        // codes per VRef, gain included
	SeriesResistance float64 `yaml:"series_resistance"` // RTD reference resistor (Ω)
}

// RTDConfig selects the cold-junction sensor.
type RTDConfig struct {
	R0 float64 `yaml:"r0"` // resistance at 0 °C (Ω)
}

// OutputConfig contains the loop output parameters.
type OutputConfig struct {
	LowCelsius    float64 `yaml:"low_celsius"`
	HighCelsius   float64 `yaml:"high_celsius"`
	LowMilliamps  float64 `yaml:"low_ma"`
	HighMilliamps float64 `yaml:"high_ma"`
	Top           uint32  `yaml:"top"`          // duty register maximum
	FrequencyHz   float64 `yaml:"frequency_hz"` // output cycle frequency
	ClampToSpan   bool    `yaml:"clamp_to_span"`
}

// CalibrationConfig contains the calibration source and defaults.
type CalibrationConfig struct {
	Mode     string        `yaml:"mode"` // default, interactive or stored
	Timeout  time.Duration `yaml:"timeout"`
	Code4mA  uint32        `yaml:"code_4ma"`
	Code20mA uint32        `yaml:"code_20ma"`
}

// StorageConfig contains the calibration flash parameters.
type StorageConfig struct {
	File     string `yaml:"file"` // emulated flash image, empty for memory only
	Address  uint32 `yaml:"address"`
	PageSize int    `yaml:"page_size"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ReportConfig selects the reporting sinks.
type ReportConfig struct {
	Text     bool           `yaml:"text"` // human readable dump
	CSV      bool           `yaml:"csv"`  // line protocol
	HTTP     HTTPConfig     `yaml:"http"`
	Modbus   ModbusConfig   `yaml:"modbus"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// HTTPConfig configures the status endpoint. Empty Addr disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ModbusConfig configures the holding register publisher. Empty Endpoint
// disables it.
type ModbusConfig struct {
	Endpoint string        `yaml:"endpoint"`
	UnitID   uint8         `yaml:"unit_id"`
	Address  uint16        `yaml:"address"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PostgresConfig configures measurement history. Empty URL disables it.
type PostgresConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	BatchSize int    `yaml:"batch_size"` // rows per insert
}

// SimConfig contains simulated hardware parameters.
type SimConfig struct {
	ProcessCelsius  float64       `yaml:"process_celsius"`    // hot junction start temperature
	AmbientCelsius  float64       `yaml:"ambient_celsius"`    // cold junction temperature
	RampCelsiusPerS float64       `yaml:"ramp_celsius_per_s"` // process drift
	NoiseMicroV     float64       `yaml:"noise_uv"`           // thermocouple noise amplitude
	ConversionRate  time.Duration `yaml:"conversion_rate"`    // time between conversions
	DisconnectAfter time.Duration `yaml:"disconnect_after"`   // open thermocouple after this, 0 = never
}

// TrendConfig contains host-side history parameters.
type TrendConfig struct {
	Window         time.Duration `yaml:"window"`
	AverageSamples int           `yaml:"average_samples"` // 0 = disabled
	MaxPoints      int           `yaml:"max_points"`      // plotted points
	RateLimit      float64       `yaml:"rate_limit"`      // °C/s marking an excursion, 0 = off
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Sampler: SamplerConfig{
			BatchSize: adc.DefaultBatchSize,
			Settle:    0,
		},
		Scale: ScaleConfig{
			VRef:             1.2,
			FullScale:        268435456,
			SeriesResistance: 5600,
		},
		RTD: RTDConfig{
			R0: lookup.PT1000,
		},
		Output: OutputConfig{
			LowCelsius:    -200,
			HighCelsius:   350,
			LowMilliamps:  4,
			HighMilliamps: 20,
			Top:           output.DefaultTop,
			FrequencyHz:   240,
		},
		Calibration: CalibrationConfig{
			Mode:     calib.ModeDefault.String(),
			Timeout:  calib.DefaultTimeout,
			Code4mA:  calib.Default4mA,
			Code20mA: calib.Default20mA,
		},
		Storage: StorageConfig{
			File:     "",
			Address:  calib.DefaultAddress,
			PageSize: nvm.DefaultPageSize,
		},
		Serial: SerialConfig{
			Port: "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			Baud: 115200,
		},
		Report: ReportConfig{
			Text: false,
			CSV:  true,
			Modbus: ModbusConfig{
				UnitID:  1,
				Timeout: time.Second,
			},
			Postgres: PostgresConfig{
				BatchSize: 16,
			},
		},
		Sim: SimConfig{
			ProcessCelsius:  100,
			AmbientCelsius:  25,
			RampCelsiusPerS: 0,
			NoiseMicroV:     2,
			ConversionRate:  5 * time.Millisecond,
		},
		Trend: TrendConfig{
			Window:         60 * time.Second,
			AverageSamples: 0, // No averaging by default
			MaxPoints:      1000,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Ensure minimum required fields are set (use defaults if missing)
	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from environment variables. getenv is usually
// os.LookupEnv after godotenv has loaded a .env file.
func (c *Config) ApplyEnv(getenv func(string) (string, bool)) error {
	if v, ok := getenv("TCLOOP_SERIAL_PORT"); ok && v != "" {
		c.Serial.Port = v
	}
	if v, ok := getenv("TCLOOP_CAL_MODE"); ok && v != "" {
		c.Calibration.Mode = v
	}
	if v, ok := getenv("TCLOOP_HTTP_ADDR"); ok {
		c.Report.HTTP.Addr = v
	}
	if v, ok := getenv("TCLOOP_MODBUS_ENDPOINT"); ok {
		c.Report.Modbus.Endpoint = v
	}
	if v, ok := getenv("TCLOOP_PG_URL"); ok {
		c.Report.Postgres.URL = v
	}
	if v, ok := getenv("TCLOOP_PG_PASSWORD"); ok {
		c.Report.Postgres.Password = v
	}
	if v, ok := getenv("TCLOOP_STORAGE_FILE"); ok {
		c.Storage.File = v
	}
	if v, ok := getenv("TCLOOP_PROCESS_CELSIUS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TCLOOP_PROCESS_CELSIUS: %w", err)
		}
		c.Sim.ProcessCelsius = f
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Sampler.BatchSize == 0 {
		c.Sampler.BatchSize = def.Sampler.BatchSize
	}

	if c.Scale.VRef == 0 {
		c.Scale.VRef = def.Scale.VRef
	}
	if c.Scale.FullScale == 0 {
		c.Scale.FullScale = def.Scale.FullScale
	}
	if c.Scale.SeriesResistance == 0 {
		c.Scale.SeriesResistance = def.Scale.SeriesResistance
	}

	if c.RTD.R0 == 0 {
		c.RTD.R0 = def.RTD.R0
	}

	if c.Output.LowCelsius == 0 && c.Output.HighCelsius == 0 {
		c.Output.LowCelsius = def.Output.LowCelsius
		c.Output.HighCelsius = def.Output.HighCelsius
	}
	if c.Output.LowMilliamps == 0 && c.Output.HighMilliamps == 0 {
		c.Output.LowMilliamps = def.Output.LowMilliamps
		c.Output.HighMilliamps = def.Output.HighMilliamps
	}
	if c.Output.Top == 0 {
		c.Output.Top = def.Output.Top
	}
	if c.Output.FrequencyHz == 0 {
		c.Output.FrequencyHz = def.Output.FrequencyHz
	}

	if c.Calibration.Mode == "" {
		c.Calibration.Mode = def.Calibration.Mode
	}
	if c.Calibration.Timeout == 0 {
		c.Calibration.Timeout = def.Calibration.Timeout
	}
	if c.Calibration.Code4mA == 0 {
		c.Calibration.Code4mA = def.Calibration.Code4mA
	}
	if c.Calibration.Code20mA == 0 {
		c.Calibration.Code20mA = def.Calibration.Code20mA
	}

	if c.Storage.Address == 0 {
		c.Storage.Address = def.Storage.Address
	}
	if c.Storage.PageSize == 0 {
		c.Storage.PageSize = def.Storage.PageSize
	}

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.Report.Modbus.UnitID == 0 {
		c.Report.Modbus.UnitID = def.Report.Modbus.UnitID
	}
	if c.Report.Modbus.Timeout == 0 {
		c.Report.Modbus.Timeout = def.Report.Modbus.Timeout
	}
	if c.Report.Postgres.BatchSize == 0 {
		c.Report.Postgres.BatchSize = def.Report.Postgres.BatchSize
	}

	if c.Sim.ConversionRate == 0 {
		c.Sim.ConversionRate = def.Sim.ConversionRate
	}

	if c.Trend.Window == 0 {
		c.Trend.Window = def.Trend.Window
	}
	if c.Trend.MaxPoints == 0 {
		c.Trend.MaxPoints = def.Trend.MaxPoints
	}
}

// Validate checks configuration correctness without mutating it.
func (c *Config) Validate() error {
	if c.Sampler.BatchSize < 1 || c.Sampler.BatchSize > adc.MaxBatchSize {
		return fmt.Errorf("sampler: batch_size %d must be within 1..%d", c.Sampler.BatchSize, adc.MaxBatchSize)
	}
	if c.Sampler.Settle < 0 {
		return fmt.Errorf("sampler: settle %d must not be negative", c.Sampler.Settle)
	}
	if err := c.ThermoScale().Validate(); err != nil {
		return err
	}
	if c.RTD.R0 <= 0 {
		return fmt.Errorf("rtd: r0 %v must be positive", c.RTD.R0)
	}
	if err := c.Span().Validate(); err != nil {
		return err
	}
	if c.Output.FrequencyHz <= 0 {
		return fmt.Errorf("output: frequency_hz %v must be positive", c.Output.FrequencyHz)
	}
	if _, err := calib.ParseMode(c.Calibration.Mode); err != nil {
		return err
	}
	rec := c.DefaultRecord()
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	if rec.Code4mA > c.Output.Top {
		return fmt.Errorf("calibration: code_4ma %d exceeds output top %d", rec.Code4mA, c.Output.Top)
	}
	if c.Storage.Address%4 != 0 {
		return fmt.Errorf("storage: address 0x%x must be word aligned", c.Storage.Address)
	}
	if c.Storage.PageSize <= 0 || c.Storage.PageSize%calib.RecordSize != 0 {
		return fmt.Errorf("storage: page_size %d must be a positive multiple of %d", c.Storage.PageSize, calib.RecordSize)
	}
	if c.Trend.AverageSamples < 0 || c.Trend.MaxPoints < 2 || c.Trend.RateLimit < 0 {
		return fmt.Errorf("trend: average_samples %d / max_points %d / rate_limit %g out of range",
			c.Trend.AverageSamples, c.Trend.MaxPoints, c.Trend.RateLimit)
	}
	return nil
}

// ThermoScale returns the pipeline constants.
func (c *Config) ThermoScale() thermo.Scale {
	return thermo.Scale{
		VRef:             float32(c.Scale.VRef),
		FullScale:        float32(c.Scale.FullScale),
		SeriesResistance: float32(c.Scale.SeriesResistance),
	}
}

// Span returns the output span.
func (c *Config) Span() output.Span {
	return output.Span{
		LowCelsius:    float32(c.Output.LowCelsius),
		HighCelsius:   float32(c.Output.HighCelsius),
		LowMilliamps:  float32(c.Output.LowMilliamps),
		HighMilliamps: float32(c.Output.HighMilliamps),
	}
}

// DefaultRecord returns the configured compiled-in endpoints.
func (c *Config) DefaultRecord() calib.Record {
	return calib.Record{Code4mA: c.Calibration.Code4mA, Code20mA: c.Calibration.Code20mA}
}

// CalibrationMode parses the configured mode.
func (c *Config) CalibrationMode() (calib.Mode, error) {
	return calib.ParseMode(c.Calibration.Mode)
}

// OutputPeriod returns the output cycle period.
func (c *Config) OutputPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.Output.FrequencyHz)
}
