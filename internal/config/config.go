package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads "90s" style strings from YAML
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Scheduler struct {
		MaxConcurrentJobs int      `yaml:"max_concurrent_jobs"`
		WatchdogInterval  Duration `yaml:"watchdog_interval"`
		JobBudget         Duration `yaml:"job_budget"`
	} `yaml:"scheduler"`

	Timeouts struct {
		Download  Duration `yaml:"download"`
		Title     Duration `yaml:"title"`
		Normalize Duration `yaml:"normalize"`
		Frame     Duration `yaml:"frame"`
		Segment   Duration `yaml:"segment"`
		Concat    Duration `yaml:"concat"`
	} `yaml:"timeouts"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Media struct {
		FFmpeg           string `yaml:"ffmpeg"`
		FFprobe          string `yaml:"ffprobe"`
		TemplateImage    string `yaml:"template_image"`
		MaskImage        string `yaml:"mask_image"`
		FontFile         string `yaml:"font_file"`
		TitleFontFile    string `yaml:"title_font_file"`
		InterviewerLabel string `yaml:"interviewer_label"`
		PreviewMode      string `yaml:"preview_mode"`
	} `yaml:"media"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	S3 struct {
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Secure    bool   `yaml:"secure"`
	} `yaml:"s3"`

	Limits struct {
		MaxBodyKB int `yaml:"max_body_kb"`
		MaxInputs int `yaml:"max_inputs"`
	} `yaml:"limits"`
}

// Preview modes for the corner preview in composed segments
const (
	PreviewLive  = "live"
	PreviewStill = "still"
)

// Default returns a configuration with every field populated
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 3000
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "auto"

	cfg.Scheduler.MaxConcurrentJobs = 10
	cfg.Scheduler.WatchdogInterval = Duration(5 * time.Minute)
	cfg.Scheduler.JobBudget = Duration(15 * time.Minute)

	cfg.Timeouts.Download = Duration(60 * time.Second)
	cfg.Timeouts.Title = Duration(120 * time.Second)
	cfg.Timeouts.Normalize = Duration(5 * time.Minute)
	cfg.Timeouts.Frame = Duration(30 * time.Second)
	cfg.Timeouts.Segment = Duration(20 * time.Minute)
	cfg.Timeouts.Concat = Duration(10 * time.Minute)

	cfg.Storage.TempDir = "tmp"
	cfg.Storage.OutputDir = "output"
	cfg.Storage.Database = "data/renders.db"

	cfg.Media.FFmpeg = "ffmpeg"
	cfg.Media.FFprobe = "ffprobe"
	cfg.Media.TemplateImage = "assets/abertura_template.png"
	cfg.Media.MaskImage = "assets/mask_circle_122.png"
	cfg.Media.FontFile = "/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf"
	cfg.Media.TitleFontFile = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"
	cfg.Media.InterviewerLabel = "Lisa"
	cfg.Media.PreviewMode = PreviewLive

	cfg.Cleanup.IntervalMinutes = 30
	cfg.Cleanup.MaxAgeHours = 2

	cfg.GoogleDrive.FolderName = "Interviews"

	cfg.Limits.MaxBodyKB = 256
	cfg.Limits.MaxInputs = 40
	return cfg
}

// Load reads configuration from a YAML file on top of Default.
// A missing file is not an error; defaults and environment still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// .env is optional and never overrides variables already set
	_ = godotenv.Load()
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays INTERVIEW_* variables read through getenv
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("INTERVIEW_HOST")); v != "" {
		c.Server.Host = v
	}
	if v := strings.TrimSpace(getenv("INTERVIEW_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid INTERVIEW_PORT value: %w", err)
		}
		c.Server.Port = port
	}
	if v := strings.TrimSpace(getenv("INTERVIEW_MAX_CONCURRENT_JOBS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid INTERVIEW_MAX_CONCURRENT_JOBS value: %w", err)
		}
		c.Scheduler.MaxConcurrentJobs = n
	}
	if v := strings.TrimSpace(getenv("INTERVIEW_TEMP_DIR")); v != "" {
		c.Storage.TempDir = v
	}
	if v := strings.TrimSpace(getenv("INTERVIEW_OUTPUT_DIR")); v != "" {
		c.Storage.OutputDir = v
	}
	if v := strings.TrimSpace(getenv("INTERVIEW_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(getenv("INTERVIEW_S3_ACCESS_KEY")); v != "" {
		c.S3.AccessKey = v
	}
	if v := strings.TrimSpace(getenv("INTERVIEW_S3_SECRET_KEY")); v != "" {
		c.S3.SecretKey = v
	}
	return nil
}

// Validate rejects values the scheduler or pipeline cannot work with
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Scheduler.MaxConcurrentJobs < 1 {
		problems = append(problems, "scheduler.max_concurrent_jobs must be at least 1")
	}
	if c.Scheduler.WatchdogInterval <= 0 {
		problems = append(problems, "scheduler.watchdog_interval must be positive")
	}
	if c.Scheduler.JobBudget <= 0 {
		problems = append(problems, "scheduler.job_budget must be positive")
	}
	for name, d := range map[string]Duration{
		"download":  c.Timeouts.Download,
		"title":     c.Timeouts.Title,
		"normalize": c.Timeouts.Normalize,
		"frame":     c.Timeouts.Frame,
		"segment":   c.Timeouts.Segment,
		"concat":    c.Timeouts.Concat,
	} {
		if d <= 0 {
			problems = append(problems, fmt.Sprintf("timeouts.%s must be positive", name))
		}
	}
	if strings.TrimSpace(c.Storage.TempDir) == "" || strings.TrimSpace(c.Storage.OutputDir) == "" {
		problems = append(problems, "storage.temp_dir and storage.output_dir are required")
	}
	if strings.TrimSpace(c.Media.InterviewerLabel) == "" {
		problems = append(problems, "media.interviewer_label is required")
	}
	switch c.Media.PreviewMode {
	case PreviewLive, PreviewStill:
	default:
		problems = append(problems, fmt.Sprintf("media.preview_mode %q must be %q or %q", c.Media.PreviewMode, PreviewLive, PreviewStill))
	}
	if c.Limits.MaxInputs < 2 {
		problems = append(problems, "limits.max_inputs must be at least 2")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DriveEnabled reports whether Drive publishing is configured
func (c *Config) DriveEnabled() bool {
	return strings.TrimSpace(c.GoogleDrive.CredentialsFile) != ""
}

// S3Enabled reports whether S3 publishing is configured
func (c *Config) S3Enabled() bool {
	return strings.TrimSpace(c.S3.Endpoint) != "" && strings.TrimSpace(c.S3.Bucket) != ""
}
