// Package config reads BirdQuest settings from flags, the environment and
// defaults through viper.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

const (
	HostEnvVar          = "HOST_BINDING"
	PortEnvVar          = "PORT"
	DebugEnvVar         = "DEBUG_MODE"
	DatabaseURIEnvVar   = "DATABASE_URI"
	InstancePathEnvVar  = "INSTANCE_PATH"
	BackupOnStartEnvVar = "BACKUP_ON_START"
	MaxBackupsEnvVar    = "MAX_BACKUPS"
	LogFileEnvVar       = "LOG_FILE"

	DefaultHost         = "127.0.0.1"
	DefaultPort         = 5000
	DefaultDatabaseURI  = "sqlite:///birdquest.db"
	DefaultInstancePath = "instance"
	DefaultMaxBackups   = 5
)

type Config struct {
	Host          string
	Port          int
	Debug         bool
	DatabaseURI   string
	InstancePath  string
	BackupOnStart bool
	MaxBackups    int
	LogFile       string
}

// Addr is the listener address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SetDefaults registers the BirdQuest defaults on v and binds it to the
// environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(HostEnvVar, DefaultHost)
	v.SetDefault(PortEnvVar, DefaultPort)
	v.SetDefault(DebugEnvVar, "1")
	v.SetDefault(DatabaseURIEnvVar, DefaultDatabaseURI)
	v.SetDefault(InstancePathEnvVar, DefaultInstancePath)
	v.SetDefault(BackupOnStartEnvVar, false)
	v.SetDefault(MaxBackupsEnvVar, DefaultMaxBackups)
	v.SetDefault(LogFileEnvVar, "")
	v.AutomaticEnv() // binds environment variables to viper config
}

// Load reads a Config from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Host:          strings.TrimSpace(v.GetString(HostEnvVar)),
		Port:          v.GetInt(PortEnvVar),
		Debug:         v.GetBool(DebugEnvVar),
		DatabaseURI:   strings.TrimSpace(v.GetString(DatabaseURIEnvVar)),
		InstancePath:  strings.TrimSpace(v.GetString(InstancePathEnvVar)),
		BackupOnStart: v.GetBool(BackupOnStartEnvVar),
		MaxBackups:    v.GetInt(MaxBackupsEnvVar),
		LogFile:       strings.TrimSpace(v.GetString(LogFileEnvVar)),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%s must not be empty", HostEnvVar)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", PortEnvVar, c.Port)
	}
	if c.DatabaseURI == "" {
		return fmt.Errorf("%s must not be empty", DatabaseURIEnvVar)
	}
	if c.InstancePath == "" {
		return fmt.Errorf("%s must not be empty", InstancePathEnvVar)
	}
	if c.MaxBackups < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", MaxBackupsEnvVar, c.MaxBackups)
	}
	return nil
}
