package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultAPIURL = "http://localhost:8080"

// Settings holds the resolved client configuration. Flags win over KANBAN_*
// environment variables, which win over the config file.
type Settings struct {
	APIURL  string        `mapstructure:"api_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	Debug   bool          `mapstructure:"debug"`
}

// defaultConfigPath returns ~/.kanbanctl.yaml, or "" without a home dir.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kanbanctl.yaml")
}

func loadSettings(flags *pflag.FlagSet, configPath string) (Settings, error) {
	v := viper.New()
	v.SetDefault("api_url", defaultAPIURL)
	v.SetDefault("timeout", 30*time.Second)

	v.SetEnvPrefix("KANBAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"api_url": "api-url",
		"token":   "token",
		"timeout": "timeout",
		"debug":   "debug",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Settings{}, err
			}
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, err
			}
		} else if !os.IsNotExist(err) {
			return Settings{}, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, err
	}
	s.APIURL = strings.TrimSpace(s.APIURL)
	s.Token = strings.TrimSpace(s.Token)
	if s.APIURL == "" {
		return Settings{}, errors.New("api url is required")
	}
	if s.Token == "" {
		return Settings{}, errors.New("token is required (--token, KANBAN_TOKEN or token in the config file)")
	}
	if s.Timeout <= 0 {
		return Settings{}, errors.New("timeout must be greater than zero")
	}
	return s, nil
}
