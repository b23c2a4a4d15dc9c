package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // shop time zones must resolve on minimal images

	"yoyaku/internal/models"
	"yoyaku/internal/timegrid"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                    `yaml:"app"`
	Database   DatabaseConfig               `yaml:"database"`
	Redis      RedisConfig                  `yaml:"redis"`
	Backup     BackupConfig                 `yaml:"backup"`
	Monitoring MonitoringConfig             `yaml:"monitoring"`
	Logging    LoggingConfig                `yaml:"logging"`
	API        APIConfig                    `yaml:"api"`
	Schedule   ScheduleConfig               `yaml:"schedule"`
	Courses    map[string]CoursePriceConfig `yaml:"courses"`
	Pricing    PricingConfig                `yaml:"pricing"`
	Lifecycle  LifecycleConfig              `yaml:"lifecycle"`
	Mail       MailConfig                   `yaml:"mail"`
	Notify     NotifyConfig                 `yaml:"notify"`
	Google     GoogleConfig                 `yaml:"google"`
	Telegram   TelegramConfig               `yaml:"telegram"`
	Events     EventsConfig                 `yaml:"events"`
	Worker     WorkerConfig                 `yaml:"worker"`
	Exports    ExportConfig                 `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP        APIHTTPConfig        `yaml:"http"`
	RateLimit   APIRateLimitConfig   `yaml:"rate_limit"`
	CreateLimit APICreateLimitConfig `yaml:"create_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// APICreateLimitConfig caps reservation requests per phone number.
type APICreateLimitConfig struct {
	PerPhone int           `yaml:"per_phone"`
	Window   time.Duration `yaml:"window"`
}

type ScheduleConfig struct {
	Timezone          string        `yaml:"timezone"`
	OpenTime          string        `yaml:"open_time"`
	CloseTime         string        `yaml:"close_time"`
	StepMinutes       int           `yaml:"step_minutes"`
	PreBufferMinutes  *int          `yaml:"pre_buffer_minutes"`
	PostBufferMinutes *int          `yaml:"post_buffer_minutes"`
	MinLeadMinutes    *int          `yaml:"min_lead_minutes"`
	SlotCacheTTL      time.Duration `yaml:"slot_cache_ttl"`
}

type CoursePriceConfig struct {
	NormalPrice    int `yaml:"normal_price"`
	FirstTimePrice int `yaml:"first_time_price"`
}

type PricingConfig struct {
	MatchName *bool `yaml:"match_name"`
}

type LifecycleConfig struct {
	VerifySlotOnCreate     *bool `yaml:"verify_slot_on_create"`
	RejectOverlapOnConfirm *bool `yaml:"reject_overlap_on_confirm"`
}

type MailConfig struct {
	ResendAPIKey string        `yaml:"resend_api_key"`
	BaseURL      string        `yaml:"base_url"`
	From         string        `yaml:"from"`
	AdminTo      []string      `yaml:"admin_to"`
	Timeout      time.Duration `yaml:"timeout"`
}

type NotifyConfig struct {
	SiteURL    string `yaml:"site_url"`
	ShopName   string `yaml:"shop_name"`
	MapAddress string `yaml:"map_address"`
	OnCreate   *bool  `yaml:"on_create"`
}

type GoogleConfig struct {
	CalendarID               string `yaml:"calendar_id"`
	CredentialsFile          string `yaml:"credentials_file"`
	ServiceAccountEmail      string `yaml:"service_account_email"`
	ServiceAccountPrivateKey string `yaml:"service_account_private_key"`
	ClientID                 string `yaml:"client_id"`
	ClientSecret             string `yaml:"client_secret"`
	RefreshToken             string `yaml:"refresh_token"`
	LedgerSpreadsheetID      string `yaml:"ledger_spreadsheet_id"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`

	// OperatorBot lets the chats above confirm and deny requests from Telegram.
	OperatorBot bool `yaml:"operator_bot"`
}

type EventsConfig struct {
	AMQPURL   string `yaml:"amqp_url"`
	AMQPQueue string `yaml:"amqp_queue"`
}

type WorkerConfig struct {
	Enabled      *bool         `yaml:"enabled"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML file at configPath after loading an optional .env file
// and expanding ${VAR} references.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	open, err := timegrid.ParseClock(c.Schedule.OpenTime)
	if err != nil {
		return fmt.Errorf("schedule.open_time: %w", err)
	}
	closeMin := 24 * 60
	if c.Schedule.CloseTime != "24:00" {
		if closeMin, err = timegrid.ParseClock(c.Schedule.CloseTime); err != nil {
			return fmt.Errorf("schedule.close_time: %w", err)
		}
	}
	if closeMin <= open {
		return errors.New("schedule.close_time must be after schedule.open_time")
	}
	for _, v := range []*int{c.Schedule.PreBufferMinutes, c.Schedule.PostBufferMinutes, c.Schedule.MinLeadMinutes} {
		if v != nil && *v < 0 {
			return errors.New("schedule buffers and lead time must not be negative")
		}
	}

	return ValidateCourses(c.Courses)
}

// ValidateCourses checks that every price entry names a known course.
func ValidateCourses(courses map[string]CoursePriceConfig) error {
	for code, price := range courses {
		if _, err := models.ParseCourse(code); err != nil {
			return fmt.Errorf("courses: %w", err)
		}
		if price.NormalPrice < 0 || price.FirstTimePrice < 0 {
			return fmt.Errorf("courses.%s: prices must not be negative", code)
		}
	}
	return nil
}

// Location returns the shop time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CoursePrices returns the price list keyed by course.
func (c *Config) CoursePrices() map[models.Course]CoursePriceConfig {
	out := make(map[models.Course]CoursePriceConfig, len(c.Courses))
	for code, p := range c.Courses {
		if course, err := models.ParseCourse(code); err == nil {
			out[course] = p
		}
	}
	return out
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "yoyaku"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 5
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 10
	}
	if c.API.CreateLimit.PerPhone == 0 {
		c.API.CreateLimit.PerPhone = models.CreateLimitPerPhone
	}
	if c.API.CreateLimit.Window == 0 {
		c.API.CreateLimit.Window = models.CreateLimitWindow * time.Second
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	s := &c.Schedule
	if s.Timezone == "" {
		s.Timezone = models.DefaultTimezone
	}
	if s.OpenTime == "" {
		s.OpenTime = models.DefaultOpenTime
	}
	if s.CloseTime == "" {
		s.CloseTime = models.DefaultCloseTime
	}
	if s.StepMinutes <= 0 {
		s.StepMinutes = models.DefaultStepMinutes
	}
	if s.PreBufferMinutes == nil {
		s.PreBufferMinutes = intPtr(models.DefaultPreBufferMinutes)
	}
	if s.PostBufferMinutes == nil {
		s.PostBufferMinutes = intPtr(models.DefaultPostBufferMinutes)
	}
	if s.MinLeadMinutes == nil {
		s.MinLeadMinutes = intPtr(models.DefaultMinLeadMinutes)
	}
	if s.SlotCacheTTL == 0 {
		s.SlotCacheTTL = models.DefaultSlotCacheTTL * time.Second
	}

	if len(c.Courses) == 0 {
		c.Courses = map[string]CoursePriceConfig{
			models.Course30.String(): {NormalPrice: 5000, FirstTimePrice: 3000},
			models.Course60.String(): {NormalPrice: 9000, FirstTimePrice: 4000},
			models.Course90.String(): {NormalPrice: 12000, FirstTimePrice: 7000},
		}
	}

	if c.Pricing.MatchName == nil {
		c.Pricing.MatchName = boolPtr(true)
	}
	if c.Lifecycle.VerifySlotOnCreate == nil {
		c.Lifecycle.VerifySlotOnCreate = boolPtr(true)
	}
	if c.Lifecycle.RejectOverlapOnConfirm == nil {
		c.Lifecycle.RejectOverlapOnConfirm = boolPtr(true)
	}

	if c.Mail.BaseURL == "" {
		c.Mail.BaseURL = "https://api.resend.com/"
	}
	if c.Mail.Timeout == 0 {
		c.Mail.Timeout = 10 * time.Second
	}
	adminTo := c.Mail.AdminTo[:0]
	for _, addr := range c.Mail.AdminTo {
		if addr = strings.TrimSpace(addr); addr != "" {
			adminTo = append(adminTo, addr)
		}
	}
	c.Mail.AdminTo = adminTo

	if c.Notify.ShopName == "" {
		c.Notify.ShopName = "Relaxation Salon"
	}
	c.Notify.SiteURL = strings.TrimRight(c.Notify.SiteURL, "/")
	if c.Notify.OnCreate == nil {
		c.Notify.OnCreate = boolPtr(true)
	}

	if c.Events.AMQPQueue == "" {
		c.Events.AMQPQueue = "reservation.events"
	}

	if c.Worker.Enabled == nil {
		c.Worker.Enabled = boolPtr(true)
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = 5 * time.Minute
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 30 * time.Second
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
