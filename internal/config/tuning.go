package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Retriangulation policies accepted by the "retriangulate" key.
const (
	RetriangulateOnDemand   = "on_demand"
	RetriangulateEveryFrame = "every_frame"
)

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* methods supply defaults so partial
// files are safe.
type TuningConfig struct {
	// Feature tracker
	MinFeatures *int `json:"min_features,omitempty"`
	MaxFeatures *int `json:"max_features,omitempty"`
	Adulthood   *int `json:"adulthood,omitempty"`

	// Optical flow engine
	WindowSize      *int     `json:"window_size,omitempty"`
	MinDist         *int     `json:"min_dist,omitempty"`
	MinEigenvalue   *int     `json:"min_eigenvalue,omitempty"`
	MaxIterations   *int     `json:"max_iterations,omitempty"`
	MinDisplacement *float64 `json:"min_displacement,omitempty"`
	MaxResidual     *float64 `json:"max_residual,omitempty"`
	MinDeterminant  *float64 `json:"min_determinant,omitempty"`
	SmoothSigma     *float64 `json:"smooth_sigma,omitempty"`

	// Constellations
	MinConstellation     *int     `json:"min_constellation,omitempty"`
	ContinueProbability  *float64 `json:"continue_probability,omitempty"`
	ConstellationRetries *int     `json:"constellation_retries,omitempty"`
	AutoConstellation    *bool    `json:"auto_constellation,omitempty"`
	Retriangulate        *string  `json:"retriangulate,omitempty"`
	NamesFile            *string  `json:"names_file,omitempty"`
	Seed                 *int64   `json:"seed,omitempty"`

	// Frame loop
	FrameInterval *string `json:"frame_interval,omitempty"` // duration string like "33ms"; "0s" runs unpaced
	Normalise     *bool   `json:"normalise,omitempty"`
	JournalEvery  *int    `json:"journal_every,omitempty"`
	CommandQueue  *int    `json:"command_queue,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/sky/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MinFeatures != nil && *c.MinFeatures < 0 {
		return fmt.Errorf("min_features must be non-negative, got %d", *c.MinFeatures)
	}
	if c.MaxFeatures != nil && *c.MaxFeatures < 1 {
		return fmt.Errorf("max_features must be at least 1, got %d", *c.MaxFeatures)
	}
	if c.Adulthood != nil && *c.Adulthood < 0 {
		return fmt.Errorf("adulthood must be non-negative, got %d", *c.Adulthood)
	}
	if c.WindowSize != nil && (*c.WindowSize < 3 || *c.WindowSize%2 == 0) {
		return fmt.Errorf("window_size must be an odd number >= 3, got %d", *c.WindowSize)
	}
	if c.MinDist != nil && *c.MinDist < 0 {
		return fmt.Errorf("min_dist must be non-negative, got %d", *c.MinDist)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.MinConstellation != nil && *c.MinConstellation < 1 {
		return fmt.Errorf("min_constellation must be at least 1, got %d", *c.MinConstellation)
	}
	if c.ContinueProbability != nil {
		if *c.ContinueProbability < 0 || *c.ContinueProbability >= 1 {
			return fmt.Errorf("continue_probability must be in [0, 1), got %f", *c.ContinueProbability)
		}
	}
	if c.ConstellationRetries != nil && *c.ConstellationRetries < 0 {
		return fmt.Errorf("constellation_retries must be non-negative, got %d", *c.ConstellationRetries)
	}
	if c.Retriangulate != nil {
		switch *c.Retriangulate {
		case RetriangulateOnDemand, RetriangulateEveryFrame:
		default:
			return fmt.Errorf("retriangulate must be %q or %q, got %q",
				RetriangulateOnDemand, RetriangulateEveryFrame, *c.Retriangulate)
		}
	}
	if c.FrameInterval != nil && *c.FrameInterval != "" {
		d, err := time.ParseDuration(*c.FrameInterval)
		if err != nil {
			return fmt.Errorf("invalid frame_interval '%s': %w", *c.FrameInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("frame_interval must be non-negative, got %s", d)
		}
	}
	if c.JournalEvery != nil && *c.JournalEvery < 0 {
		return fmt.Errorf("journal_every must be non-negative, got %d", *c.JournalEvery)
	}
	if c.CommandQueue != nil && *c.CommandQueue < 1 {
		return fmt.Errorf("command_queue must be at least 1, got %d", *c.CommandQueue)
	}
	return nil
}

// GetMinFeatures returns the min_features value or the default.
// The tracker backfills lost slots once fewer than this many survive.
func (c *TuningConfig) GetMinFeatures() int {
	if c.MinFeatures == nil {
		return 40
	}
	return *c.MinFeatures
}

// GetMaxFeatures returns the max_features value or the default.
func (c *TuningConfig) GetMaxFeatures() int {
	if c.MaxFeatures == nil {
		return 80
	}
	return *c.MaxFeatures
}

// GetAdulthood returns the adulthood value or the default.
func (c *TuningConfig) GetAdulthood() int {
	if c.Adulthood == nil {
		return 10
	}
	return *c.Adulthood
}

// GetWindowSize returns the window_size value or the default.
func (c *TuningConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 7
	}
	return *c.WindowSize
}

// GetMinDist returns the min_dist value or the default.
func (c *TuningConfig) GetMinDist() int {
	if c.MinDist == nil {
		return 15
	}
	return *c.MinDist
}

// GetMinEigenvalue returns the min_eigenvalue value or the default.
func (c *TuningConfig) GetMinEigenvalue() int {
	if c.MinEigenvalue == nil {
		return 1
	}
	return *c.MinEigenvalue
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 10
	}
	return *c.MaxIterations
}

// GetMinDisplacement returns the min_displacement value or the default.
func (c *TuningConfig) GetMinDisplacement() float64 {
	if c.MinDisplacement == nil {
		return 0.1
	}
	return *c.MinDisplacement
}

// GetMaxResidual returns the max_residual value or the default.
func (c *TuningConfig) GetMaxResidual() float64 {
	if c.MaxResidual == nil {
		return 10.0
	}
	return *c.MaxResidual
}

// GetMinDeterminant returns the min_determinant value or the default.
func (c *TuningConfig) GetMinDeterminant() float64 {
	if c.MinDeterminant == nil {
		return 0.01
	}
	return *c.MinDeterminant
}

// GetSmoothSigma returns the smooth_sigma value or the default.
func (c *TuningConfig) GetSmoothSigma() float64 {
	if c.SmoothSigma == nil {
		return 0.7
	}
	return *c.SmoothSigma
}

// GetMinConstellation returns the min_constellation value or the default.
func (c *TuningConfig) GetMinConstellation() int {
	if c.MinConstellation == nil {
		return 3
	}
	return *c.MinConstellation
}

// GetContinueProbability returns the continue_probability value or the default.
func (c *TuningConfig) GetContinueProbability() float64 {
	if c.ContinueProbability == nil {
		return 0.8
	}
	return *c.ContinueProbability
}

// GetConstellationRetries returns the constellation_retries value or the default.
func (c *TuningConfig) GetConstellationRetries() int {
	if c.ConstellationRetries == nil {
		return 10
	}
	return *c.ConstellationRetries
}

// GetAutoConstellation returns the auto_constellation value or the default.
func (c *TuningConfig) GetAutoConstellation() bool {
	if c.AutoConstellation == nil {
		return false
	}
	return *c.AutoConstellation
}

// GetRetriangulate returns the retriangulate policy or the default.
func (c *TuningConfig) GetRetriangulate() string {
	if c.Retriangulate == nil || *c.Retriangulate == "" {
		return RetriangulateOnDemand
	}
	return *c.Retriangulate
}

// GetNamesFile returns the names_file value; empty means the built-in list.
func (c *TuningConfig) GetNamesFile() string {
	if c.NamesFile == nil {
		return ""
	}
	return *c.NamesFile
}

// GetSeed returns the seed value; zero means seed from the clock.
func (c *TuningConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}

// GetFrameInterval parses and returns the FrameInterval as a time.Duration.
func (c *TuningConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return 33 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil {
		return 33 * time.Millisecond // default on parse error
	}
	return d
}

// GetNormalise returns the normalise value or the default.
func (c *TuningConfig) GetNormalise() bool {
	if c.Normalise == nil {
		return false
	}
	return *c.Normalise
}

// GetJournalEvery returns the journal_every value or the default.
// Zero disables per-frame journaling.
func (c *TuningConfig) GetJournalEvery() int {
	if c.JournalEvery == nil {
		return 30
	}
	return *c.JournalEvery
}

// GetCommandQueue returns the command_queue value or the default.
func (c *TuningConfig) GetCommandQueue() int {
	if c.CommandQueue == nil {
		return 16
	}
	return *c.CommandQueue
}
