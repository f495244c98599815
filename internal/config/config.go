package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dyluth/exofit/internal/ld"
	"github.com/dyluth/exofit/internal/noise"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default sampler and instrument settings applied by Validate.
const (
	DefaultWalkers      = 100
	DefaultJumps        = 500
	DefaultBurnin       = 500
	DefaultNResampling  = 5
	DefaultExposureTime = 0.01881944 // Kepler long cadence, days
	DefaultPhaseMax     = 0.025
	DefaultFlickerGamma = 1.0
)

// Mode selects which likelihood groups enter the posterior.
type Mode string

const (
	ModeTransit      Mode = "transit"
	ModeRV           Mode = "rv"
	ModeFull         Mode = "full"
	ModeTransitNoise Mode = "transit_noise"
)

// Validate checks that the fit mode is supported.
func (m Mode) Validate() error {
	switch m {
	case ModeTransit, ModeRV, ModeFull, ModeTransitNoise:
		return nil
	default:
		return fmt.Errorf("unsupported mode: %q (must be 'transit', 'rv', 'full' or 'transit_noise')", string(m))
	}
}

// UsesPhotometry reports whether the mode needs light-curve data.
func (m Mode) UsesPhotometry() bool {
	return m != ModeRV
}

// UsesRV reports whether the mode needs radial-velocity data.
func (m Mode) UsesRV() bool {
	return m == ModeRV || m == ModeFull
}

// FitConfig represents the top-level fit configuration file
type FitConfig struct {
	Version    string                   `yaml:"version" validate:"required"`
	Mode       Mode                     `yaml:"mode" validate:"required"`
	Photometry *PhotometryConfig        `yaml:"photometry,omitempty"`
	RV         *RVConfig                `yaml:"rv,omitempty"`
	Sampler    *SamplerConfig           `yaml:"sampler,omitempty"`
	Parameters map[string]ParameterSpec `yaml:"parameters" validate:"required,min=1,dive"`
}

// PhotometryConfig holds the light-curve file and per-instrument options
type PhotometryConfig struct {
	Data        string                `yaml:"data" validate:"required"`
	Instruments map[string]Instrument `yaml:"instruments" validate:"required,min=1,dive"`
}

// Instrument holds the options of one photometric instrument
type Instrument struct {
	LDLaw              string          `yaml:"ld_law,omitempty"`
	NoiseModel         string          `yaml:"noise_model,omitempty"`
	Resampling         bool            `yaml:"resampling,omitempty"`
	NResampling        int             `yaml:"n_resampling,omitempty" validate:"gte=0"`
	ExposureTime       float64         `yaml:"exposure_time,omitempty" validate:"gte=0"`
	ResamplingPhaseMax *float64        `yaml:"resampling_phase_max,omitempty"`
	FlickerGamma       *float64        `yaml:"flicker_gamma,omitempty"`
	LDCoefficients     *LDCoefficients `yaml:"ld_coefficients,omitempty"` // Native coefficients used as q1/q2 starting values
}

// LDCoefficients are native limb-darkening coefficients for an instrument's law
type LDCoefficients struct {
	U1 float64 `yaml:"u1"`
	U2 float64 `yaml:"u2"`
}

// RVConfig holds the radial-velocity data file
type RVConfig struct {
	Data string `yaml:"data" validate:"required"`
}

// SamplerConfig specifies ensemble sampler settings
type SamplerConfig struct {
	Walkers   int    `yaml:"walkers,omitempty" validate:"gte=0"`
	Jumps     int    `yaml:"jumps,omitempty" validate:"gte=0"`
	Burnin    *int   `yaml:"burnin,omitempty" validate:"omitempty,gte=0"` // nil = DefaultBurnin, 0 keeps every generation
	Seed      uint64 `yaml:"seed,omitempty"`
	Workers   int    `yaml:"workers,omitempty" validate:"gte=0"` // 0 = GOMAXPROCS
	WarmStart *bool  `yaml:"warm_start,omitempty"`
}

// ParameterSpec is the prior definition of one parameter
type ParameterSpec struct {
	Type  string   `yaml:"type" validate:"required,oneof=FIXED Uniform Jeffreys Normal"`
	Value *float64 `yaml:"value,omitempty"`
	Min   *float64 `yaml:"min,omitempty"`
	Max   *float64 `yaml:"max,omitempty"`
	Mu    *float64 `yaml:"mu,omitempty"`
	Sigma *float64 `yaml:"sigma,omitempty"`
}

var validate = validator.New()

// Validate performs strict validation on the configuration and applies defaults
func (c *FitConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := c.Mode.Validate(); err != nil {
		return err
	}

	if c.Mode.UsesPhotometry() && c.Photometry == nil {
		return fmt.Errorf("mode '%s' requires a photometry section", c.Mode)
	}
	if c.Mode.UsesRV() && c.RV == nil {
		return fmt.Errorf("mode '%s' requires an rv section", c.Mode)
	}

	if c.Photometry != nil {
		for name, inst := range c.Photometry.Instruments {
			if err := inst.Validate(name); err != nil {
				return err
			}
			c.Photometry.Instruments[name] = inst
		}
	}

	for name, spec := range c.Parameters {
		if err := spec.Validate(name); err != nil {
			return err
		}
		c.Parameters[name] = spec
	}

	// Apply default sampler config if missing
	if c.Sampler == nil {
		c.Sampler = &SamplerConfig{}
	}
	c.Sampler.applyDefaults()

	return nil
}

// Validate checks one instrument and fills in its defaults
func (i *Instrument) Validate(name string) error {
	if i.LDLaw == "" {
		i.LDLaw = string(ld.LawQuadratic)
	}
	if _, err := ld.ParseLaw(i.LDLaw); err != nil {
		return fmt.Errorf("instrument '%s': %w", name, err)
	}

	if i.NoiseModel == "" {
		i.NoiseModel = string(noise.ModelWhite)
	}
	if _, err := noise.ParseModel(i.NoiseModel); err != nil {
		return fmt.Errorf("instrument '%s': %w", name, err)
	}

	if i.NResampling == 0 {
		i.NResampling = DefaultNResampling
	}
	if i.ExposureTime == 0 {
		i.ExposureTime = DefaultExposureTime
	}
	if i.ResamplingPhaseMax == nil {
		phaseMax := DefaultPhaseMax
		i.ResamplingPhaseMax = &phaseMax
	}
	if i.FlickerGamma == nil {
		gamma := DefaultFlickerGamma
		i.FlickerGamma = &gamma
	}
	// g(gamma) = 2-2^gamma turns negative above 1
	if *i.FlickerGamma <= 0 || *i.FlickerGamma > 1 {
		return fmt.Errorf("instrument '%s': flicker_gamma must be in (0, 1], got %g", name, *i.FlickerGamma)
	}

	if i.LDCoefficients != nil {
		law, _ := ld.ParseLaw(i.LDLaw)
		if _, _, err := ld.ToSampling(law, i.LDCoefficients.U1, i.LDCoefficients.U2); err != nil {
			return fmt.Errorf("instrument '%s': invalid ld_coefficients: %w", name, err)
		}
	}

	return nil
}

// Law returns the limb-darkening law, quadratic when unset.
func (i Instrument) Law() ld.Law {
	if i.LDLaw == "" {
		return ld.LawQuadratic
	}
	return ld.Law(i.LDLaw)
}

// Noise returns the noise model, white when unset.
func (i Instrument) Noise() noise.Model {
	if i.NoiseModel == "" {
		return noise.ModelWhite
	}
	return noise.Model(i.NoiseModel)
}

// Gamma returns the flicker spectral index.
func (i Instrument) Gamma() float64 {
	if i.FlickerGamma == nil {
		return DefaultFlickerGamma
	}
	return *i.FlickerGamma
}

// PhaseMax returns the half-width of the resampled phase window.
func (i Instrument) PhaseMax() float64 {
	if i.ResamplingPhaseMax == nil {
		return DefaultPhaseMax
	}
	return *i.ResamplingPhaseMax
}

// Validate checks the prior definition of one parameter and fills in a
// starting value when none is given.
func (p *ParameterSpec) Validate(name string) error {
	switch p.Type {
	case "FIXED":
		if p.Value == nil {
			return fmt.Errorf("parameter '%s': FIXED parameters require a value", name)
		}
	case "Uniform", "Jeffreys":
		if p.Min == nil || p.Max == nil {
			return fmt.Errorf("parameter '%s': %s prior requires min and max", name, p.Type)
		}
		if !(*p.Min < *p.Max) {
			return fmt.Errorf("parameter '%s': min must be < max (got %g, %g)", name, *p.Min, *p.Max)
		}
		if p.Type == "Jeffreys" && *p.Min <= 0 {
			return fmt.Errorf("parameter '%s': Jeffreys prior requires min > 0, got %g", name, *p.Min)
		}
		if p.Value == nil {
			v := 0.5 * (*p.Min + *p.Max)
			if p.Type == "Jeffreys" {
				v = math.Sqrt(*p.Min * *p.Max)
			}
			p.Value = &v
		}
	case "Normal":
		if p.Mu == nil || p.Sigma == nil {
			return fmt.Errorf("parameter '%s': Normal prior requires mu and sigma", name)
		}
		if *p.Sigma <= 0 {
			return fmt.Errorf("parameter '%s': sigma must be > 0, got %g", name, *p.Sigma)
		}
		if p.Value == nil {
			v := *p.Mu
			p.Value = &v
		}
	default:
		return fmt.Errorf("parameter '%s': unsupported prior type: %s (must be 'FIXED', 'Uniform', 'Jeffreys' or 'Normal')", name, p.Type)
	}
	return nil
}

func (s *SamplerConfig) applyDefaults() {
	if s.Walkers == 0 {
		s.Walkers = DefaultWalkers
	}
	if s.Jumps == 0 {
		s.Jumps = DefaultJumps
	}
	if s.Burnin == nil {
		burnin := DefaultBurnin
		s.Burnin = &burnin
	}
	if s.WarmStart == nil {
		warm := true
		s.WarmStart = &warm
	}
}

// InstrumentNames returns the configured photometric instruments, sorted.
func (c *FitConfig) InstrumentNames() []string {
	if c.Photometry == nil {
		return nil
	}
	names := make([]string, 0, len(c.Photometry.Instruments))
	for name := range c.Photometry.Instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and validates a fit configuration from the specified path.
// Relative data paths are resolved against the configuration's directory.
func Load(path string) (*FitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config FitConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	base := filepath.Dir(path)
	if config.Photometry != nil {
		config.Photometry.Data = resolvePath(base, config.Photometry.Data)
	}
	if config.RV != nil {
		config.RV.Data = resolvePath(base, config.RV.Data)
	}

	return &config, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
