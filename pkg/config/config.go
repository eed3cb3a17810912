package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Axis count handled by the motion core (X, Y, Z, E).
const NumAxes = 4

// Generator kinds accepted in MotionConfig.Generators.
const (
	GeneratorClassic         = "classic"
	GeneratorInputShaper     = "input_shaper"
	GeneratorPressureAdvance = "pressure_advance"
)

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Log      LogConfig      `yaml:"log"`
	Motion   MotionConfig   `yaml:"motion"`
	HX717    HX717Config    `yaml:"hx717"`
	Mux      MuxConfig      `yaml:"mux"`
	Loadcell LoadcellConfig `yaml:"loadcell"`
	Trace    TraceConfig    `yaml:"trace"`
	Mock     MockConfig     `yaml:"mock"`
	Bedlet   BedletConfig   `yaml:"bedlet"`
}

// SerialConfig contains serial port configuration of the bench link.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	File       string `yaml:"file"`  // empty disables the file sink
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Color      bool   `yaml:"color"`
}

// MotionConfig contains step generation parameters. Per-axis slices are ordered X, Y, Z, E.
type MotionConfig struct {
	StepsPerMM      []float64             `yaml:"steps_per_mm"`
	TicksPerSecond  float64               `yaml:"ticks_per_second"`
	MoveQueueSize   int                   `yaml:"move_queue_size"`
	StepQueueSize   int                   `yaml:"step_queue_size"`
	Generators      []string              `yaml:"generators"`
	InputShaper     InputShaperAxes       `yaml:"input_shaper"`
	PressureAdvance PressureAdvanceConfig `yaml:"pressure_advance"`
}

// InputShaperAxes holds the shaper of each shaped axis.
type InputShaperAxes struct {
	X InputShaperConfig `yaml:"x"`
	Y InputShaperConfig `yaml:"y"`
	Z InputShaperConfig `yaml:"z"`
}

// Axis returns the shaper configuration of axis 0..2.
func (a *InputShaperAxes) Axis(axis int) *InputShaperConfig {
	switch axis {
	case 0:
		return &a.X
	case 1:
		return &a.Y
	default:
		return &a.Z
	}
}

// InputShaperConfig describes one input shaper.
type InputShaperConfig struct {
	Type               string  `yaml:"type"` // zv, zvd, mzv, ei, 2hump_ei, 3hump_ei
	Frequency          float64 `yaml:"frequency"`
	DampingRatio       float64 `yaml:"damping_ratio"`
	VibrationReduction float64 `yaml:"vibration_reduction"`
}

// PressureAdvanceConfig describes the extruder pressure advance filter.
type PressureAdvanceConfig struct {
	Value      float64 `yaml:"value"`       // seconds
	SmoothTime float64 `yaml:"smooth_time"` // seconds
}

// HX717Config contains ADC timing parameters.
type HX717Config struct {
	SampleRate float64 `yaml:"sample_rate"`  // Hz
	MinPulseNs int     `yaml:"min_pulse_ns"` // minimum SCK high/low time
	ResetUs    int     `yaml:"reset_us"`     // SCK high time that forces power down
}

// MuxConfig controls channel scheduling between the load cell and the filament sensor.
type MuxConfig struct {
	SampleSwitchCount int `yaml:"sample_switch_count"`
}

// LoadcellConfig contains load cell calibration and fault thresholds. Loads are in grams.
type LoadcellConfig struct {
	Scale               float64       `yaml:"scale"` // grams per ADC count
	ThresholdStatic     float64       `yaml:"threshold_static"`
	ThresholdContinuous float64       `yaml:"threshold_continuous"`
	Hysteresis          float64       `yaml:"hysteresis"`
	XYThreshold         float64       `yaml:"xy_threshold"`
	XYHysteresis        float64       `yaml:"xy_hysteresis"`
	StaticTareSamples   int           `yaml:"static_tare_samples"`
	UndefinedSampleMax  int           `yaml:"undefined_sample_max"`
	UndefinedInitMax    int           `yaml:"undefined_init_max"`
	TareTimeout         time.Duration `yaml:"tare_timeout"`
	AnalysisWindow      int           `yaml:"analysis_window"` // probe analysis samples
}

// TraceConfig contains parameters of the sample history shown by the scope.
type TraceConfig struct {
	WindowSeconds      float64 `yaml:"window_seconds"`
	MinTriggerDuration float64 `yaml:"min_trigger_duration"` // seconds, shorter endstop spans are ignored
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	Offset        int32         `yaml:"offset"`         // Raw ADC offset (counts)
	Noise         float64       `yaml:"noise"`          // Gaussian noise sigma (counts)
	PressLoad     float64       `yaml:"press_load"`     // Simulated probe press (grams)
	PressDuration time.Duration `yaml:"press_duration"` // Press duration
	PressPeriod   time.Duration `yaml:"press_period"`   // Time between presses
	FilamentRaw   int32         `yaml:"filament_raw"`   // Raw value on the filament channel
}

// BedletConfig contains the modular bed Modbus link parameters.
type BedletConfig struct {
	Port    string        `yaml:"port"`
	Baud    int           `yaml:"baud"`
	SlaveID int           `yaml:"slave_id"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port: "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			Baud: 115200,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
		},
		Motion: MotionConfig{
			StepsPerMM:     []float64{100, 100, 400, 325},
			TicksPerSecond: 1000000,
			MoveQueueSize:  64,
			StepQueueSize:  1024,
			Generators: []string{
				GeneratorClassic, GeneratorClassic, GeneratorClassic, GeneratorClassic,
			},
			InputShaper: InputShaperAxes{
				X: InputShaperConfig{Type: "mzv", Frequency: 50.7, DampingRatio: 0.1, VibrationReduction: 20},
				Y: InputShaperConfig{Type: "mzv", Frequency: 40.6, DampingRatio: 0.1, VibrationReduction: 20},
				Z: InputShaperConfig{Type: "zv", Frequency: 80, DampingRatio: 0.1, VibrationReduction: 20},
			},
			PressureAdvance: PressureAdvanceConfig{
				Value:      0.05,
				SmoothTime: 0.04,
			},
		},
		HX717: HX717Config{
			SampleRate: 320,
			MinPulseNs: 250,
			ResetUs:    100,
		},
		Mux: MuxConfig{
			SampleSwitchCount: 13,
		},
		Loadcell: LoadcellConfig{
			Scale:               0.0192,
			ThresholdStatic:     125,
			ThresholdContinuous: 40,
			Hysteresis:          20,
			XYThreshold:         40,
			XYHysteresis:        20,
			StaticTareSamples:   16,
			UndefinedSampleMax:  3,
			UndefinedInitMax:    10,
			TareTimeout:         2 * time.Second,
			AnalysisWindow:      640,
		},
		Trace: TraceConfig{
			WindowSeconds:      10,
			MinTriggerDuration: 0.01,
		},
		Mock: MockConfig{
			Offset:        120000,
			Noise:         150,
			PressLoad:     400,
			PressDuration: 300 * time.Millisecond,
			PressPeriod:   3 * time.Second,
			FilamentRaw:   2500,
		},
		Bedlet: BedletConfig{
			Port:    "/dev/ttyUSB0",
			Baud:    230400,
			SlaveID: 0x1a,
			Timeout: 100 * time.Millisecond,
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

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

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var err error
	err = multierr.Append(err, c.Motion.Validate())
	err = multierr.Append(err, c.HX717.Validate())
	err = multierr.Append(err, c.Mux.Validate())
	err = multierr.Append(err, c.Loadcell.Validate())
	return err
}

// Validate checks the motion section.
func (m *MotionConfig) Validate() error {
	var err error
	if len(m.StepsPerMM) != NumAxes {
		err = multierr.Append(err, fmt.Errorf("motion.steps_per_mm: want %d values, got %d", NumAxes, len(m.StepsPerMM)))
	}
	for i, s := range m.StepsPerMM {
		if s <= 0 {
			err = multierr.Append(err, fmt.Errorf("motion.steps_per_mm[%d]: must be positive, got %g", i, s))
		}
	}
	if m.TicksPerSecond <= 0 {
		err = multierr.Append(err, fmt.Errorf("motion.ticks_per_second: must be positive, got %g", m.TicksPerSecond))
	}
	if !isPowerOfTwo(m.MoveQueueSize) {
		err = multierr.Append(err, fmt.Errorf("motion.move_queue_size: %d is not a power of two", m.MoveQueueSize))
	}
	if !isPowerOfTwo(m.StepQueueSize) {
		err = multierr.Append(err, fmt.Errorf("motion.step_queue_size: %d is not a power of two", m.StepQueueSize))
	}
	if len(m.Generators) != NumAxes {
		err = multierr.Append(err, fmt.Errorf("motion.generators: want %d values, got %d", NumAxes, len(m.Generators)))
	}
	for i, g := range m.Generators {
		switch g {
		case GeneratorClassic:
		case GeneratorInputShaper:
			if i == NumAxes-1 {
				err = multierr.Append(err, fmt.Errorf("motion.generators[%d]: input shaper is not available on E", i))
			}
		case GeneratorPressureAdvance:
			if i != NumAxes-1 {
				err = multierr.Append(err, fmt.Errorf("motion.generators[%d]: pressure advance is only available on E", i))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("motion.generators[%d]: unknown generator %q", i, g))
		}
	}
	for i := 0; i < NumAxes-1; i++ {
		is := m.InputShaper.Axis(i)
		if !knownShaper(is.Type) {
			err = multierr.Append(err, fmt.Errorf("motion.input_shaper[%d]: unknown type %q", i, is.Type))
		}
		if is.Frequency <= 0 {
			err = multierr.Append(err, fmt.Errorf("motion.input_shaper[%d]: frequency must be positive", i))
		}
		if is.DampingRatio < 0 || is.DampingRatio >= 1 {
			err = multierr.Append(err, fmt.Errorf("motion.input_shaper[%d]: damping ratio %g out of [0, 1)", i, is.DampingRatio))
		}
	}
	if m.PressureAdvance.Value < 0 {
		err = multierr.Append(err, fmt.Errorf("motion.pressure_advance.value: must not be negative"))
	}
	if m.PressureAdvance.SmoothTime <= 0 {
		err = multierr.Append(err, fmt.Errorf("motion.pressure_advance.smooth_time: must be positive"))
	}
	return err
}

// Validate checks the ADC section.
func (h *HX717Config) Validate() error {
	var err error
	if h.SampleRate <= 0 {
		err = multierr.Append(err, fmt.Errorf("hx717.sample_rate: must be positive, got %g", h.SampleRate))
	}
	if h.MinPulseNs <= 0 {
		err = multierr.Append(err, fmt.Errorf("hx717.min_pulse_ns: must be positive"))
	}
	if h.ResetUs < 60 {
		err = multierr.Append(err, fmt.Errorf("hx717.reset_us: %d is too short to power the chip down", h.ResetUs))
	}
	return err
}

// Validate checks the mux section.
func (m *MuxConfig) Validate() error {
	if m.SampleSwitchCount < 0 {
		return fmt.Errorf("mux.sample_switch_count: must not be negative")
	}
	return nil
}

// Validate checks the load cell section.
func (l *LoadcellConfig) Validate() error {
	var err error
	if l.Scale == 0 {
		err = multierr.Append(err, fmt.Errorf("loadcell.scale: must not be zero"))
	}
	if l.Hysteresis < 0 || l.Hysteresis >= l.ThresholdStatic || l.Hysteresis >= l.ThresholdContinuous {
		err = multierr.Append(err, fmt.Errorf("loadcell.hysteresis: %g must be below both thresholds", l.Hysteresis))
	}
	if l.XYHysteresis < 0 || l.XYHysteresis >= l.XYThreshold {
		err = multierr.Append(err, fmt.Errorf("loadcell.xy_hysteresis: %g must be below xy_threshold", l.XYHysteresis))
	}
	if l.StaticTareSamples <= 0 {
		err = multierr.Append(err, fmt.Errorf("loadcell.static_tare_samples: must be positive"))
	}
	if l.UndefinedSampleMax <= 0 || l.UndefinedInitMax <= 0 {
		err = multierr.Append(err, fmt.Errorf("loadcell: undefined sample limits must be positive"))
	}
	return err
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}

	if len(c.Motion.StepsPerMM) == 0 {
		c.Motion.StepsPerMM = def.Motion.StepsPerMM
	}
	if c.Motion.TicksPerSecond == 0 {
		c.Motion.TicksPerSecond = def.Motion.TicksPerSecond
	}
	if c.Motion.MoveQueueSize == 0 {
		c.Motion.MoveQueueSize = def.Motion.MoveQueueSize
	}
	if c.Motion.StepQueueSize == 0 {
		c.Motion.StepQueueSize = def.Motion.StepQueueSize
	}
	if len(c.Motion.Generators) == 0 {
		c.Motion.Generators = def.Motion.Generators
	}
	for i := 0; i < NumAxes-1; i++ {
		is, d := c.Motion.InputShaper.Axis(i), def.Motion.InputShaper.Axis(i)
		if is.Type == "" {
			is.Type = d.Type
		}
		if is.Frequency == 0 {
			is.Frequency = d.Frequency
		}
		if is.VibrationReduction == 0 {
			is.VibrationReduction = d.VibrationReduction
		}
	}
	if c.Motion.PressureAdvance.SmoothTime == 0 {
		c.Motion.PressureAdvance.SmoothTime = def.Motion.PressureAdvance.SmoothTime
	}

	if c.HX717.SampleRate == 0 {
		c.HX717.SampleRate = def.HX717.SampleRate
	}
	if c.HX717.MinPulseNs == 0 {
		c.HX717.MinPulseNs = def.HX717.MinPulseNs
	}
	if c.HX717.ResetUs == 0 {
		c.HX717.ResetUs = def.HX717.ResetUs
	}

	if c.Loadcell.Scale == 0 {
		c.Loadcell.Scale = def.Loadcell.Scale
	}
	if c.Loadcell.ThresholdStatic == 0 {
		c.Loadcell.ThresholdStatic = def.Loadcell.ThresholdStatic
	}
	if c.Loadcell.ThresholdContinuous == 0 {
		c.Loadcell.ThresholdContinuous = def.Loadcell.ThresholdContinuous
	}
	if c.Loadcell.XYThreshold == 0 {
		c.Loadcell.XYThreshold = def.Loadcell.XYThreshold
	}
	if c.Loadcell.StaticTareSamples == 0 {
		c.Loadcell.StaticTareSamples = def.Loadcell.StaticTareSamples
	}
	if c.Loadcell.UndefinedSampleMax == 0 {
		c.Loadcell.UndefinedSampleMax = def.Loadcell.UndefinedSampleMax
	}
	if c.Loadcell.UndefinedInitMax == 0 {
		c.Loadcell.UndefinedInitMax = def.Loadcell.UndefinedInitMax
	}
	if c.Loadcell.TareTimeout == 0 {
		c.Loadcell.TareTimeout = def.Loadcell.TareTimeout
	}
	if c.Loadcell.AnalysisWindow == 0 {
		c.Loadcell.AnalysisWindow = def.Loadcell.AnalysisWindow
	}

	if c.Trace.WindowSeconds == 0 {
		c.Trace.WindowSeconds = def.Trace.WindowSeconds
	}

	if c.Mock.PressDuration == 0 {
		c.Mock.PressDuration = def.Mock.PressDuration
	}
	if c.Mock.PressPeriod == 0 {
		c.Mock.PressPeriod = def.Mock.PressPeriod
	}

	if c.Bedlet.Baud == 0 {
		c.Bedlet.Baud = def.Bedlet.Baud
	}
	if c.Bedlet.Timeout == 0 {
		c.Bedlet.Timeout = def.Bedlet.Timeout
	}
}

func isPowerOfTwo(n int) bool {
	return n >= 2 && n&(n-1) == 0
}

func knownShaper(name string) bool {
	switch name {
	case "zv", "zvd", "mzv", "ei", "2hump_ei", "3hump_ei":
		return true
	}
	return false
}
