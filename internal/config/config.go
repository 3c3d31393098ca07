// Package config loads TaweLib settings from a YAML file, with environment
// overrides for the values operators change most.
//
// Environment variables:
//
//	TAWELIB_DATA_DIR           data directory (default: data)
//	TAWELIB_BACKEND            file or sqlite (default: file)
//	TAWELIB_BACKUP_DIR         local backup directory
//	TAWELIB_BACKUP_S3_BUCKET   S3 bucket for backups
//	LOG_LEVEL                  debug, info, warn, error (default: info)
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/William-King977/TaweLib/internal/logging"
	"github.com/William-King977/TaweLib/library"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk settings file.
type Config struct {
	DataDir    string              `yaml:"data_dir"`
	Backend    string              `yaml:"backend"`
	SQLitePath string              `yaml:"sqlite_path"`
	LogLevel   string              `yaml:"log_level"`
	Fines      map[string]FineRule `yaml:"fines"`
	LoanDays   map[string]int      `yaml:"loan_days"`
	Backup     Backup              `yaml:"backup"`
}

// FineRule holds amounts as pounds strings, e.g. "2.00".
type FineRule struct {
	PerDay string `yaml:"per_day"`
	Cap    string `yaml:"cap"`
}

type Backup struct {
	Dir string `yaml:"dir"`
	S3  S3     `yaml:"s3"`
}

type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"path_style"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		DataDir:  "data",
		Backend:  library.BackendFile,
		LogLevel: "info",
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TAWELIB_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("TAWELIB_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TAWELIB_BACKUP_DIR"); v != "" {
		c.Backup.Dir = v
	}
	if v := os.Getenv("TAWELIB_BACKUP_S3_BUCKET"); v != "" {
		c.Backup.S3.Bucket = v
	}
}

// Validate checks everything Library would otherwise reject later.
func (c Config) Validate() error {
	switch c.Backend {
	case library.BackendFile, library.BackendSQLite:
	default:
		return fmt.Errorf("backend %q: want %s or %s", c.Backend, library.BackendFile, library.BackendSQLite)
	}
	if _, err := logging.LookupLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := c.finePolicy(); err != nil {
		return err
	}
	_, err := c.loanPolicy()
	return err
}

// Library converts the settings to a manager config. Fine and loan entries
// override the defaults per resource type.
func (c Config) Library() (library.Config, error) {
	fines, err := c.finePolicy()
	if err != nil {
		return library.Config{}, err
	}
	loans, err := c.loanPolicy()
	if err != nil {
		return library.Config{}, err
	}
	return library.Config{
		Backend:    c.Backend,
		DataDir:    c.DataDir,
		SQLitePath: c.SQLitePath,
		Fines:      fines,
		Loans:      loans,
	}, nil
}

func (c Config) finePolicy() (library.FinePolicy, error) {
	p := library.DefaultFinePolicy()
	for name, r := range c.Fines {
		t, err := library.ParseResourceType(strings.ToUpper(name))
		if err != nil {
			return p, fmt.Errorf("fines: %w", err)
		}
		rule := p.Rule(t)
		if r.PerDay != "" {
			if rule.PerDay, err = library.ParseMoney(r.PerDay); err != nil {
				return p, fmt.Errorf("fines.%s.per_day: %w", name, err)
			}
		}
		if r.Cap != "" {
			if rule.Cap, err = library.ParseMoney(r.Cap); err != nil {
				return p, fmt.Errorf("fines.%s.cap: %w", name, err)
			}
		}
		if rule.PerDay < 0 || rule.Cap < 0 {
			return p, fmt.Errorf("fines.%s: amounts must not be negative", name)
		}
		p.Rules[t] = rule
	}
	return p, nil
}

func (c Config) loanPolicy() (library.LoanPolicy, error) {
	p := library.DefaultLoanPolicy()
	for name, days := range c.LoanDays {
		t, err := library.ParseResourceType(strings.ToUpper(name))
		if err != nil {
			return p, fmt.Errorf("loan_days: %w", err)
		}
		if days < 0 {
			return p, fmt.Errorf("loan_days.%s: %d is negative", name, days)
		}
		p.Days[t] = days
	}
	return p, nil
}
