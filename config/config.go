package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Variant    string     `yaml:"variant"`
	BaseDir    string     `yaml:"base_dir"`
	Paths      Paths      `yaml:"paths"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
}

// Checkpoint holds the tracker settings of a run
type Checkpoint struct {
	Arch         string   `yaml:"arch"`
	Monitor      string   `yaml:"monitor"`
	Mode         string   `yaml:"mode"`
	EpochFreq    int      `yaml:"epoch_freq"`
	SaveBestOnly *bool    `yaml:"save_best_only"`
	Format       string   `yaml:"format"`
	Best         *float64 `yaml:"best"`
}

// BestOnly reports the save_best_only setting, defaulting to true
func (c Checkpoint) BestOnly() bool {
	return c.SaveBestOnly == nil || *c.SaveBestOnly
}

// Default returns the configuration used when no config file exists
func Default() *Config {
	return &Config{
		Variant: VariantLabelFinetuneSoftJointCorr,
		Checkpoint: Checkpoint{
			Arch:      "bert",
			Monitor:   "valid_loss",
			Mode:      "min",
			EpochFreq: 1,
			Format:    "proto",
		},
	}
}

// ResolvedPaths returns the variant table, re-rooted on base_dir and with paths overrides applied
func (c *Config) ResolvedPaths() (Paths, error) {
	p, err := Variant(c.Variant)
	if err != nil {
		return Paths{}, err
	}
	if c.BaseDir != "" {
		p = p.WithBase(c.BaseDir)
	}
	return p.Merge(c.Paths), nil
}

type Manager struct {
	config     *Config
	configPath string
	logger     logrus.FieldLogger
}

func NewManager(configPath string, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Manager{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig reads and validates the config file. Without an explicit path the defaults
// are used when no config file can be found.
func (m *Manager) LoadConfig() error {
	explicit := m.configPath != ""
	if !explicit {
		m.configPath = m.findConfigFile()
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		if explicit {
			return fmt.Errorf("config file not found at %s", m.configPath)
		}
		m.logger.Debugf("no config file found, using defaults")
		m.config = Default()
		return nil
	}

	m.logger.Debugf("loading config from %s", m.configPath)

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := m.validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) GetConfig() *Config {
	return m.config
}

func (m *Manager) findConfigFile() string {
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}

	return "config.yaml"
}

func (m *Manager) validateConfig(config *Config) error {
	if _, err := Variant(config.Variant); err != nil {
		return err
	}

	switch strings.ToLower(config.Checkpoint.Mode) {
	case "min", "max":
	default:
		return fmt.Errorf("checkpoint mode must be min or max, got %q", config.Checkpoint.Mode)
	}

	if !config.Checkpoint.BestOnly() && config.Checkpoint.EpochFreq < 1 {
		return fmt.Errorf("epoch_freq must be greater than 0")
	}

	switch config.Checkpoint.Format {
	case "", "proto", "binary", "json":
	default:
		return fmt.Errorf("unsupported checkpoint format %q", config.Checkpoint.Format)
	}

	return nil
}
