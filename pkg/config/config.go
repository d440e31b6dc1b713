package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrisonrobin/sheetsync/pkg/model"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "sheetsync"
	configFile = "config.yaml"
	envPrefix  = "SHEETSYNC"
)

type Config struct {
	Sheet    SheetConfig    `yaml:"sheet" mapstructure:"sheet"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Sync     SyncConfig     `yaml:"sync" mapstructure:"sync"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

type SheetConfig struct {
	ID  string `yaml:"id" mapstructure:"id"`
	Tab string `yaml:"tab" mapstructure:"tab"`
	// Columns maps logical field names to header text. A field with no
	// entry, or an empty one, has no column.
	Columns map[string]string `yaml:"columns" mapstructure:"columns"`
}

type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

type SyncConfig struct {
	Concurrency        int           `yaml:"concurrency" mapstructure:"concurrency"`
	RecordTimeout      time.Duration `yaml:"record_timeout" mapstructure:"record_timeout"`
	SnapshotTimeout    time.Duration `yaml:"snapshot_timeout" mapstructure:"snapshot_timeout"`
	RetentionDays      int           `yaml:"retention_days" mapstructure:"retention_days"`
	LeaseTTL           time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`
	HardDeleteTerminal bool          `yaml:"hard_delete_terminal" mapstructure:"hard_delete_terminal"`
	Owner              string        `yaml:"owner,omitempty" mapstructure:"owner"`
}

type ScheduleConfig struct {
	CheckEvery time.Duration `yaml:"check_every" mapstructure:"check_every"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LogConfig struct {
	File       string `yaml:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// DefaultColumns is the header layout of the task sheet the tool was built
// against.
func DefaultColumns() map[string]string {
	return map[string]string{
		model.FieldRowID:       "Row ID",
		model.FieldCrossRef:    "Task ID",
		model.FieldSync:        "Sync",
		model.FieldTitle:       "Task",
		model.FieldNotes:       "Notes",
		model.FieldDomain:      "Domain",
		model.FieldStatus:      "Status",
		model.FieldPriority:    "Priority",
		model.FieldPlanned:     "Planned",
		model.FieldTarget:      "Target",
		model.FieldDeadline:    "Deadline",
		model.FieldEstimate:    "Est. Hours",
		model.FieldRecurrence:  "Recurrence",
		model.FieldRescheduled: "Rescheduled",
	}
}

func DefaultConfig() *Config {
	dir, _ := ConfigDir()
	return &Config{
		Sheet: SheetConfig{Tab: "Tasks", Columns: DefaultColumns()},
		Store: StoreConfig{Path: filepath.Join(dir, "tasks.db")},
		Sync: SyncConfig{
			Concurrency:     4,
			RecordTimeout:   20 * time.Second,
			SnapshotTimeout: time.Minute,
			RetentionDays:   30,
			LeaseTTL:        10 * time.Minute,
		},
		Schedule: ScheduleConfig{CheckEvery: time.Minute},
		Server:   ServerConfig{Addr: "127.0.0.1:8086"},
		Log:      LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
}

func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the config file, if any, over the defaults. SHEETSYNC_*
// environment variables override both, e.g. SHEETSYNC_SHEET_ID.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	// A missing file means defaults plus environment.
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.Sheet.Columns) == 0 {
		cfg.Sheet.Columns = DefaultColumns()
	}
	return cfg, nil
}

// setDefaults registers every scalar key so environment overrides apply to
// keys the file does not mention.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("sheet.id", cfg.Sheet.ID)
	v.SetDefault("sheet.tab", cfg.Sheet.Tab)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("sync.concurrency", cfg.Sync.Concurrency)
	v.SetDefault("sync.record_timeout", cfg.Sync.RecordTimeout)
	v.SetDefault("sync.snapshot_timeout", cfg.Sync.SnapshotTimeout)
	v.SetDefault("sync.retention_days", cfg.Sync.RetentionDays)
	v.SetDefault("sync.lease_ttl", cfg.Sync.LeaseTTL)
	v.SetDefault("sync.hard_delete_terminal", cfg.Sync.HardDeleteTerminal)
	v.SetDefault("sync.owner", cfg.Sync.Owner)
	v.SetDefault("schedule.check_every", cfg.Schedule.CheckEvery)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.compress", cfg.Log.Compress)
}

// Retention is the sync retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Sync.RetentionDays) * 24 * time.Hour
}

func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
