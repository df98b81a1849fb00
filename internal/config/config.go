// Package config defines the server and client configuration structs,
// their defaults, and field validation.
//
// The validation helpers (ValidateHost, ValidatePort, ValidateTimeout,
// ValidateRetries, ...) and the ConfigError/ValidationError types are
// kept close to the teacher's internal/config/config.go verbatim: they
// are pure, domain-independent validation untouched by the rewrite from
// a REQ/META/EOF control protocol to the SYN/operation/DATA/FIN one.
// The teacher's GUI-only ClientSettings/ServerSettings (window size,
// "last file" persistence) are dropped since SPEC_FULL has no GUI; in
// their place, ServerConfig gained a YAML file loader, grounded on
// gocanopen/telepresence both pulling in gopkg.in/yaml.v3. The structs
// keep json tags, but no JSON load or save function exists.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Protocol-wide constants.
const (
	ChunkSize = 1024 // payload bytes per DATA segment; see pkg/wire.MaxPayload

	DefaultReadBuffer  = 4 << 20 // 4 MiB
	DefaultWriteBuffer = 4 << 20 // 4 MiB

	DefaultWorkers      = 3
	DefaultWindowSize   = 8
	DefaultSessionIdle  = 90 * time.Second
	DefaultJanitorEvery = 30 * time.Second
)

var (
	// DefaultStopAndWaitTimeout is the per-packet retransmit timer for
	// StopAndWait.
	DefaultStopAndWaitTimeout = 300 * time.Millisecond
	// DefaultSelectiveRepeatTimeout is the per-slot retransmit timer for
	// SelectiveRepeat.
	DefaultSelectiveRepeatTimeout = 5 * time.Second

	DefaultStopAndWaitMaxRetries     = 60
	DefaultSelectiveRepeatMaxRetries = 12

	DefaultHandshakeRetries = 10
	DefaultHandshakeBackoff = 600 * time.Millisecond

	DefaultFinRetries = 5
	DefaultFinWait    = 2 * time.Second
)

// ConfigError reports a structural problem with a configuration field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationError reports a user-supplied value failing validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
}

// ServerConfig configures a server process.
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	StorageDir   string        `json:"storage_dir" yaml:"storage_dir"`
	Workers      int           `json:"workers" yaml:"workers"`
	SessionIdle  time.Duration `json:"session_idle" yaml:"session_idle"`
	JanitorEvery time.Duration `json:"janitor_every" yaml:"janitor_every"`
	WindowSize   int           `json:"window_size" yaml:"window_size"`
	Verbose      bool          `json:"verbose" yaml:"verbose"`
}

// DefaultServerConfig returns the out-of-the-box server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         19000,
		StorageDir:   ".",
		Workers:      DefaultWorkers,
		SessionIdle:  DefaultSessionIdle,
		JanitorEvery: DefaultJanitorEvery,
		WindowSize:   DefaultWindowSize,
	}
}

// LoadServerConfigYAML reads a YAML server configuration file, falling
// back to defaults for any field the file doesn't set and to the
// default config entirely if the file doesn't exist.
func LoadServerConfigYAML(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ClientConfig configures one client-side transfer.
type ClientConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	RemotePath string        `json:"remote_path"`
	LocalPath  string        `json:"local_path"`
	Protocol   string        `json:"protocol"`
	WindowSize int           `json:"window_size"`
	Timeout    time.Duration `json:"timeout"`
	Verbose    bool          `json:"verbose"`
}

// Validation

func ValidateHost(host string) error {
	if strings.TrimSpace(host) == "" {
		return ValidationError{Field: "host", Message: "não pode estar vazio"}
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if isValidHostname(host) {
		return nil
	}
	return ValidationError{Field: "host", Message: "host inválido"}
}

func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return ValidationError{Field: "port", Message: "porta deve estar entre 1 e 65535"}
	}
	return nil
}

func ValidateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ValidationError{Field: "file_path", Message: "caminho do arquivo não pode estar vazio"}
	}
	dangerous := []string{"..", "~", "$", "`", "|", "&", ";", "(", ")"}
	for _, ch := range dangerous {
		if strings.Contains(path, ch) {
			return ValidationError{Field: "file_path", Message: fmt.Sprintf("caminho contém caractere perigoso: %s", ch)}
		}
	}
	return nil
}

func ValidateTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return ValidationError{Field: "timeout", Message: "timeout deve ser maior que zero"}
	}
	return nil
}

func ValidateRetries(retries int) error {
	if retries < 0 || retries > 1000 {
		return ValidationError{Field: "retries", Message: "número de tentativas deve estar entre 0 e 1000"}
	}
	return nil
}

func ValidateWindowSize(window int) error {
	if window < 1 || window > 1<<16 {
		return ValidationError{Field: "window_size", Message: "janela deve estar entre 1 e 65536"}
	}
	return nil
}

func ValidateProtocol(proto string) error {
	switch proto {
	case "", "stop_and_wait", "selective_repeat":
		return nil
	default:
		return ValidationError{Field: "protocol", Message: fmt.Sprintf("protocolo desconhecido: %s", proto)}
	}
}

// ValidateClientConfig validates every field of cfg, aggregating every
// failure (instead of stopping at the first) via go-multierror so the
// CLI can report them all at once.
func ValidateClientConfig(cfg ClientConfig) error {
	var result *multierror.Error
	result = multierror.Append(result, ValidateHost(cfg.Host))
	result = multierror.Append(result, ValidatePort(cfg.Port))
	result = multierror.Append(result, ValidateFilePath(cfg.RemotePath))
	result = multierror.Append(result, ValidateTimeout(cfg.Timeout))
	result = multierror.Append(result, ValidateProtocol(cfg.Protocol))
	return result.ErrorOrNil()
}

// ValidateServerConfig validates every field of cfg.
func ValidateServerConfig(cfg ServerConfig) error {
	var result *multierror.Error
	result = multierror.Append(result, ValidateHost(cfg.Host))
	result = multierror.Append(result, ValidatePort(cfg.Port))
	result = multierror.Append(result, ValidateWindowSize(cfg.WindowSize))
	if cfg.Workers < 1 {
		result = multierror.Append(result, ConfigError{Field: "workers", Message: "deve ser maior que zero", Value: cfg.Workers})
	}
	return result.ErrorOrNil()
}

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)*$`)
	return hostnameRegex.MatchString(hostname)
}

// ParsePort is a small convenience used by CLI flag parsing that wants
// a descriptive error instead of strconv's generic one.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, ValidationError{Field: "port", Message: "porta deve ser um número"}
	}
	return p, ValidatePort(p)
}
