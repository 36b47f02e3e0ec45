// Package config loads rollcall settings.
//
// Settings come from, in increasing priority: built-in defaults,
// .rollcall/config.yaml, a .rollcall/.env file, and ROLLCALL_* environment
// variables. Keys are dotted (mirror.backend); the matching environment
// variable replaces dots with underscores (ROLLCALL_MIRROR_BACKEND).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DirName is the per-project data directory.
const DirName = ".rollcall"

// Mirror backends.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendLibSQL    = "libsql"
	BackendFirestore = "firestore"
)

// Settings is the resolved configuration.
type Settings struct {
	DataDir string
	DBPath  string

	Mirror    MirrorSettings
	Timezone  string
	Daemon    DaemonSettings
	Dashboard DashboardSettings
	Log       LogSettings
}

// MirrorSettings selects and configures the remote mirror.
type MirrorSettings struct {
	Backend string

	FileRoot string

	LibSQLURL         string
	LibSQLAuthToken   string
	LibSQLReplicaPath string
	LibSQLSync        time.Duration

	FirestoreProjectID       string
	FirestoreCredentialsFile string

	Timeout       time.Duration
	DrainTimeout  time.Duration
	RetryInterval time.Duration
}

type DaemonSettings struct {
	Schedule      string
	DrainInterval time.Duration
	Watch         bool
}

type DashboardSettings struct {
	Port int
}

// LogSettings configures the rotating log file.
type LogSettings struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("db.path", filepath.Join(dataDir, "roster.db"))

	v.SetDefault("mirror.backend", BackendFile)
	v.SetDefault("mirror.file.root", filepath.Join(dataDir, "mirror"))
	v.SetDefault("mirror.libsql.url", "")
	v.SetDefault("mirror.libsql.auth_token", "")
	v.SetDefault("mirror.libsql.replica_path", filepath.Join(dataDir, "mirror-replica.db"))
	v.SetDefault("mirror.libsql.sync_interval", time.Duration(0))
	v.SetDefault("mirror.firestore.project_id", "")
	v.SetDefault("mirror.firestore.credentials_file", "")
	v.SetDefault("mirror.timeout", 15*time.Second)
	v.SetDefault("mirror.drain_timeout", 30*time.Second)
	v.SetDefault("mirror.retry_interval", 2*time.Second)

	v.SetDefault("session.timezone", "Local")

	v.SetDefault("daemon.schedule", "@every 5m")
	v.SetDefault("daemon.drain_interval", 30*time.Second)
	v.SetDefault("daemon.watch", true)

	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("log.file", filepath.Join(dataDir, "logs", "rollcall.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads settings for dataDir. A missing config.yaml or .env is not an
// error; a malformed one is.
func Load(dataDir string) (*Settings, *viper.Viper, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v, dataDir)

	dotEnvPath := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", dotEnvPath, err)
	}

	v.SetEnvPrefix("ROLLCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	s := &Settings{
		DataDir: dataDir,
		DBPath:  v.GetString("db.path"),
		Mirror: MirrorSettings{
			Backend:                  strings.ToLower(v.GetString("mirror.backend")),
			FileRoot:                 v.GetString("mirror.file.root"),
			LibSQLURL:                v.GetString("mirror.libsql.url"),
			LibSQLAuthToken:          v.GetString("mirror.libsql.auth_token"),
			LibSQLReplicaPath:        v.GetString("mirror.libsql.replica_path"),
			LibSQLSync:               v.GetDuration("mirror.libsql.sync_interval"),
			FirestoreProjectID:       v.GetString("mirror.firestore.project_id"),
			FirestoreCredentialsFile: v.GetString("mirror.firestore.credentials_file"),
			Timeout:                  v.GetDuration("mirror.timeout"),
			DrainTimeout:             v.GetDuration("mirror.drain_timeout"),
			RetryInterval:            v.GetDuration("mirror.retry_interval"),
		},
		Timezone: v.GetString("session.timezone"),
		Daemon: DaemonSettings{
			Schedule:      v.GetString("daemon.schedule"),
			DrainInterval: v.GetDuration("daemon.drain_interval"),
			Watch:         v.GetBool("daemon.watch"),
		},
		Dashboard: DashboardSettings{
			Port: v.GetInt("dashboard.port"),
		},
		Log: LogSettings{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}

	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	return s, v, nil
}

// Validate checks values that would otherwise fail later and far from
// their source.
func (s *Settings) Validate() error {
	switch s.Mirror.Backend {
	case BackendMemory, BackendFile, BackendLibSQL, BackendFirestore:
	default:
		return fmt.Errorf("invalid mirror.backend %q (want memory, file, libsql or firestore)", s.Mirror.Backend)
	}
	if s.Mirror.Backend == BackendFirestore && s.Mirror.FirestoreProjectID == "" {
		return fmt.Errorf("mirror.firestore.project_id is required for the firestore backend")
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves session.timezone. "Local" and "" mean the system zone.
func (s *Settings) Location() (*time.Location, error) {
	switch s.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid session.timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// FindDataDir returns the nearest .rollcall directory at or above the
// working directory, or "" if there is none. ROLLCALL_DIR overrides the
// search.
func FindDataDir() string {
	if dir := os.Getenv("ROLLCALL_DIR"); dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findDataDirFrom(wd)
}

func findDataDirFrom(dir string) string {
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// InitDataDir creates dir/.rollcall with a starter config.yaml and returns
// its path. An existing config is left alone.
func InitDataDir(dir string) (string, error) {
	dataDir := filepath.Join(dir, DirName)
	if err := os.MkdirAll(filepath.Join(dataDir, "logs"), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dataDir, err)
	}
	configPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return dataDir, nil
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	return dataDir, nil
}

const starterConfig = `# rollcall configuration. Every key can also be set as ROLLCALL_<KEY>,
# with dots replaced by underscores.
mirror:
  backend: file          # memory | file | libsql | firestore
  # libsql:
  #   url: libsql://your-db.turso.io
  #   auth_token: ""
  # firestore:
  #   project_id: your-project
  #   credentials_file: service-account.json
session:
  timezone: Local
daemon:
  schedule: "@every 5m"
dashboard:
  port: 8080
`
