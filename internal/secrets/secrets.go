// Package secrets resolves connection credentials for logical source
// databases. Credentials are looked up first in the environment
// (REPLICATE_<NAME>_HOST etc.), then in a permission-checked secrets file.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSecretsDir is the default directory for secrets
	DefaultSecretsDir = ".secrets"
	// DefaultSecretsFile is the default filename for secrets
	DefaultSecretsFile = "mysql-bq-replicate.yaml"
	// SecretsFileEnvVar allows overriding the secrets file location
	SecretsFileEnvVar = "REPLICATE_SECRETS_FILE"
	// envPrefix is the prefix for environment credential lookups
	envPrefix = "replicate"
)

// ErrCredentialUnavailable is returned when no credentials can be resolved
// for a logical database name. The engine fails fast on this, before any
// extraction begins.
var ErrCredentialUnavailable = errors.New("credentials unavailable")

// ConnectionParams holds the connection parameters for one source database.
type ConnectionParams struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" default:"3306"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

func (p *ConnectionParams) complete() bool {
	return p.Host != "" && p.User != "" && p.Database != ""
}

// fileConfig is the on-disk secrets layout: credentials per logical name.
type fileConfig struct {
	Databases map[string]*ConnectionParams `yaml:"databases"`
}

var (
	fileCfg  *fileConfig
	fileOnce sync.Once
	fileErr  error
)

// Get resolves connection parameters for a logical database name.
// Environment variables take precedence over the secrets file.
func Get(logicalName string) (*ConnectionParams, error) {
	if logicalName == "" {
		return nil, fmt.Errorf("%w: empty logical database name", ErrCredentialUnavailable)
	}

	var p ConnectionParams
	prefix := envPrefix + "_" + strings.ToLower(logicalName)
	if err := envconfig.Process(prefix, &p); err == nil && p.complete() {
		return &p, nil
	}

	cfg, err := loadFile()
	if err != nil {
		// A missing secrets file only matters if the environment had nothing.
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("%w: %s not in environment and no secrets file at %s",
				ErrCredentialUnavailable, logicalName, nf.Path)
		}
		return nil, err
	}

	params, ok := cfg.Databases[logicalName]
	if !ok || !params.complete() {
		return nil, fmt.Errorf("%w: no entry for %q in %s", ErrCredentialUnavailable, logicalName, Path())
	}
	if params.Port == 0 {
		params.Port = 3306
	}
	return params, nil
}

// Reset clears the cached secrets file (useful for testing).
func Reset() {
	fileOnce = sync.Once{}
	fileCfg = nil
	fileErr = nil
}

// Path returns the path to the secrets file.
func Path() string {
	if envPath := os.Getenv(SecretsFileEnvVar); envPath != "" {
		return envPath
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", DefaultSecretsDir, DefaultSecretsFile)
	}
	return filepath.Join(homeDir, DefaultSecretsDir, DefaultSecretsFile)
}

// NotFoundError indicates the secrets file does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secrets file not found at %s", e.Path)
}

func loadFile() (*fileConfig, error) {
	fileOnce.Do(func() {
		fileCfg, fileErr = readFile()
	})
	return fileCfg, fileErr
}

func readFile() (*fileConfig, error) {
	path := Path()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: path}
		}
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}

	// Reject world- or group-readable secrets files.
	if info, err := os.Stat(path); err == nil {
		mode := info.Mode().Perm()
		if mode&0077 != 0 {
			return nil, fmt.Errorf("secrets file %s has insecure permissions (%04o). "+
				"Other users can read your database passwords. Run: chmod 600 %s", path, mode, path)
		}
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return &cfg, nil
}
