package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidConfig is returned when a run configuration file is malformed.
var ErrInvalidConfig = errors.New("invalid run configuration")

// LoadConfig decodes a JSON run configuration over DefaultConfig. Unknown
// keys are rejected. The result is not validated, so callers can still
// overlay flags before calling Validate.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if dec.More() {
		return cfg, fmt.Errorf("%w: trailing data after object", ErrInvalidConfig)
	}
	return cfg, nil
}

// LoadConfigFile reads a run configuration from path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	defer f.Close()
	return LoadConfig(f)
}
