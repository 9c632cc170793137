package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models strategist.yml. Every tuning knob the detectors, the
// velocity tracker, the hope model and the directive templates consult
// lives here so policy changes never touch detector logic.
type Config struct {
	User struct {
		ID string `yaml:"id"`
	} `yaml:"user"`

	Detection DetectionConfig `yaml:"detection"`
	Velocity  VelocityConfig  `yaml:"velocity"`
	Hope      HopeConfig      `yaml:"hope"`
	Events    EventsConfig    `yaml:"events"`
	Narrative NarrativeConfig `yaml:"narrative"`
}

type DetectionConfig struct {
	WindowDays int `yaml:"window_days"`

	SkillGap struct {
		MinOccurrences      int `yaml:"min_occurrences"`
		HighOccurrences     int `yaml:"high_occurrences"`
		CriticalOccurrences int `yaml:"critical_occurrences"`
	} `yaml:"skill_gap"`

	InterviewTrend struct {
		MinInterviews     int     `yaml:"min_interviews"`
		LowScoreThreshold float64 `yaml:"low_score_threshold"`
		LowScoreStreak    int     `yaml:"low_score_streak"`
		HighChangePercent float64 `yaml:"high_change_percent"`
	} `yaml:"interview_trend"`

	ApplicationTrend struct {
		MinApplications      int     `yaml:"min_applications"`
		RejectionRatePercent float64 `yaml:"rejection_rate_percent"`
		MinRejections        int     `yaml:"min_rejections"`
		ResponseRatePercent  float64 `yaml:"response_rate_percent"`
		MinForResponseCheck  int     `yaml:"min_for_response_check"`
	} `yaml:"application_trend"`

	Milestones struct {
		SkillCheckpoints  []int `yaml:"skill_checkpoints"`
		ModuleCheckpoints []int `yaml:"module_checkpoints"`
	} `yaml:"milestones"`

	VelocityChange struct {
		DropPercent    float64 `yaml:"drop_percent"`
		MinPriorWeek   int     `yaml:"min_prior_week"`
		StallPriorWeek int     `yaml:"stall_prior_week"`
	} `yaml:"velocity_change"`
}

type VelocityConfig struct {
	PeriodDays int `yaml:"period_days"`
}

// PlatformWindow is the expected/maximum response time for one source channel.
type PlatformWindow struct {
	ExpectedDays int `yaml:"expected_days"`
	MaxDays      int `yaml:"max_days"`
}

type HopeConfig struct {
	BaseDecayRate     float64                   `yaml:"base_decay_rate"`
	MinScore          float64                   `yaml:"min_score"`
	AtRiskDays        int                       `yaml:"at_risk_days"`
	GhostedDays       int                       `yaml:"ghosted_days"`
	PlatformGhostFlag int                       `yaml:"platform_ghost_flag"`
	Platforms         map[string]PlatformWindow `yaml:"platforms"`
	DefaultPlatform   PlatformWindow            `yaml:"default_platform"`
}

// PlatformWindowFor looks up the response-time pair for a platform,
// falling back to the default when the platform is unknown.
func (h HopeConfig) PlatformWindowFor(platform string) PlatformWindow {
	if w, ok := h.Platforms[platform]; ok {
		return w
	}
	return h.DefaultPlatform
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

type NarrativeConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with cst config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Detection.WindowDays <= 0 {
		return fmt.Errorf("config.detection.window_days must be positive")
	}
	sg := c.Detection.SkillGap
	if sg.MinOccurrences <= 0 {
		return fmt.Errorf("config.detection.skill_gap.min_occurrences must be positive")
	}
	if sg.HighOccurrences < sg.MinOccurrences || sg.CriticalOccurrences < sg.HighOccurrences {
		return fmt.Errorf("config.detection.skill_gap bands must be ordered min <= high <= critical")
	}
	if c.Detection.InterviewTrend.MinInterviews < 3 {
		return fmt.Errorf("config.detection.interview_trend.min_interviews must be at least 3")
	}
	if err := ensureAscending("skill_checkpoints", c.Detection.Milestones.SkillCheckpoints); err != nil {
		return err
	}
	if err := ensureAscending("module_checkpoints", c.Detection.Milestones.ModuleCheckpoints); err != nil {
		return err
	}
	if c.Velocity.PeriodDays <= 0 {
		return fmt.Errorf("config.velocity.period_days must be positive")
	}
	if c.Hope.BaseDecayRate <= 0 {
		return fmt.Errorf("config.hope.base_decay_rate must be positive")
	}
	if c.Hope.MinScore < 0 || c.Hope.MinScore > 50 {
		return fmt.Errorf("config.hope.min_score must be in [0,50]")
	}
	if c.Hope.GhostedDays <= c.Hope.AtRiskDays {
		return fmt.Errorf("config.hope.ghosted_days must exceed at_risk_days")
	}
	if c.Hope.DefaultPlatform.ExpectedDays <= 0 || c.Hope.DefaultPlatform.MaxDays <= c.Hope.DefaultPlatform.ExpectedDays {
		return fmt.Errorf("config.hope.default_platform must have 0 < expected_days < max_days")
	}
	for name, w := range c.Hope.Platforms {
		if w.ExpectedDays <= 0 || w.MaxDays <= w.ExpectedDays {
			return fmt.Errorf("config.hope.platforms.%s must have 0 < expected_days < max_days", name)
		}
	}
	if c.Narrative.Enabled && c.Narrative.APIKey == "" {
		return fmt.Errorf("config.narrative.api_key required when narrative is enabled")
	}
	return nil
}

func ensureAscending(name string, checkpoints []int) error {
	prev := 0
	for _, cp := range checkpoints {
		if cp <= prev {
			return fmt.Errorf("config.detection.milestones.%s must be strictly ascending positives", name)
		}
		prev = cp
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "strategist.yml")
}

// Default returns the default Config struct for a user.
func Default(userID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, userID))).Decode(&cfg)
	cfg.User.ID = userID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(userID string) string {
	return fmt.Sprintf(defaultTemplate, userID)
}

const defaultTemplate = `user:
  id: %s

detection:
  window_days: 30

  skill_gap:
    min_occurrences: 3
    high_occurrences: 5
    critical_occurrences: 7

  interview_trend:
    min_interviews: 3
    low_score_threshold: 50
    low_score_streak: 3
    high_change_percent: 20

  application_trend:
    min_applications: 5
    rejection_rate_percent: 80
    min_rejections: 5
    response_rate_percent: 10
    min_for_response_check: 10

  milestones:
    skill_checkpoints: [5, 10, 25, 50, 100]
    module_checkpoints: [3, 5, 10, 20, 50]

  velocity_change:
    drop_percent: 50
    min_prior_week: 3
    stall_prior_week: 5

velocity:
  period_days: 7

hope:
  base_decay_rate: 5
  min_score: 5
  at_risk_days: 10
  ghosted_days: 21
  platform_ghost_flag: 3
  default_platform:
    expected_days: 10
    max_days: 24
  platforms:
    indeed:
      expected_days: 7
      max_days: 21
    linkedin:
      expected_days: 14
      max_days: 30
    referral:
      expected_days: 5
      max_days: 14
    company_site:
      expected_days: 10
      max_days: 28

events:
  nats_url: ""

narrative:
  enabled: false
  base_url: ""
  model: ""
  api_key: ""
`
