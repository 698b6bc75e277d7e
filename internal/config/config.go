package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "stepbaby.db"
	DefaultLogName        = "stepbaby.log"
	appDir                = "stepbaby"
)

type Keymap struct {
	Quit         string `toml:"quit"`
	Add          string `toml:"add"`
	Up           string `toml:"up"`
	Down         string `toml:"down"`
	Toggle       string `toml:"toggle"`
	Delete       string `toml:"delete"`
	Confirm      string `toml:"confirm"`
	Cancel       string `toml:"cancel"`
	Edit         string `toml:"edit"`
	Memo         string `toml:"memo"`
	NextStage    string `toml:"next_stage"`
	PrevStage    string `toml:"prev_stage"`
	CurrentStage string `toml:"current_stage"`
	Date         string `toml:"date"`
	Share        string `toml:"share"`
	Next         string `toml:"next_choice"`
}

type Config struct {
	DBPath       string `toml:"db_path"`
	RedisURL     string `toml:"redis_url"`
	ShareBaseURL string `toml:"share_base_url"`
	ListenAddr   string `toml:"listen_addr"`
	CatalogPath  string `toml:"catalog_path"`
	LogFile      string `toml:"log_file"`
	LogLevel     string `toml:"log_level"`
	Keys         Keymap `toml:"keys"`
}

// ResolveConfigPath returns $STEPBABY_CONFIG when set, otherwise config.toml
// under the user config directory.
func ResolveConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("STEPBABY_CONFIG")); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultConfigFileName
	}
	return filepath.Join(dir, appDir, DefaultConfigFileName)
}

// LoadOrCreate reads the config at path, writing the defaults there first
// if the file does not exist. Relative paths inside the file resolve
// against the config directory. Environment overrides apply last.
func LoadOrCreate(path string) (Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	cfg.fill(filepath.Dir(path))
	return cfg, nil
}

func (c *Config) fill(baseDir string) {
	def := defaultConfig()
	if c.DBPath == "" {
		c.DBPath = DefaultDBName
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogName
	}
	if c.ShareBaseURL == "" {
		c.ShareBaseURL = def.ShareBaseURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	c.DBPath = resolve(baseDir, c.DBPath)
	c.LogFile = resolve(baseDir, c.LogFile)
	if c.CatalogPath != "" {
		c.CatalogPath = resolve(baseDir, c.CatalogPath)
	}
	c.Keys.fill(def.Keys)
}

func (k *Keymap) fill(def Keymap) {
	set := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	set(&k.Quit, def.Quit)
	set(&k.Add, def.Add)
	set(&k.Up, def.Up)
	set(&k.Down, def.Down)
	set(&k.Toggle, def.Toggle)
	set(&k.Delete, def.Delete)
	set(&k.Confirm, def.Confirm)
	set(&k.Cancel, def.Cancel)
	set(&k.Edit, def.Edit)
	set(&k.Memo, def.Memo)
	set(&k.NextStage, def.NextStage)
	set(&k.PrevStage, def.PrevStage)
	set(&k.CurrentStage, def.CurrentStage)
	set(&k.Date, def.Date)
	set(&k.Share, def.Share)
	set(&k.Next, def.Next)
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "file:") {
		return p
	}
	return filepath.Join(baseDir, p)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STEPBABY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STEPBABY_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("STEPBABY_SHARE_BASE_URL"); v != "" {
		cfg.ShareBaseURL = v
	}
	if v := os.Getenv("STEPBABY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func write(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultConfig() Config {
	return Config{
		DBPath:       DefaultDBName,
		ShareBaseURL: "http://localhost:8080",
		ListenAddr:   ":8080",
		LogFile:      DefaultLogName,
		LogLevel:     "info",
		Keys: Keymap{
			Quit:         "q",
			Add:          "a",
			Up:           "k",
			Down:         "j",
			Toggle:       " ",
			Delete:       "d",
			Confirm:      "enter",
			Cancel:       "esc",
			Edit:         "e",
			Memo:         "m",
			NextStage:    "tab",
			PrevStage:    "shift+tab",
			CurrentStage: "c",
			Date:         "b",
			Share:        "s",
			Next:         "tab",
		},
	}
}
