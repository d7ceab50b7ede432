// Package config loads data store, cipher and logging settings.
//
// Store settings start from the attribute map handed to the store and can be
// overridden from the environment with REPOSTORE_<STORE>_<KEY>, for example
// REPOSTORE_CONFIG_JDBCURL. Keys are case-insensitive. Per-engine placeholder
// overrides use a double underscore for the dot:
// REPOSTORE_CONFIG_UUID_TYPE__H2 sets "UUID_TYPE.H2".
package config

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/repostore/internal/cipher"
	"github.com/roach88/repostore/internal/logger"
)

// EnvPrefix prefixes every environment variable read by this package.
const EnvPrefix = "REPOSTORE_"

// DefaultMaximumPoolSize applies to remote engines when unset.
const DefaultMaximumPoolSize = 100

// Store holds the settings of one named data store.
type Store struct {
	Name string `koanf:"-"`

	JDBCURL           string `koanf:"jdbcurl" validate:"required"`
	Username          string `koanf:"username"`
	Password          string `koanf:"password"`
	Schema            string `koanf:"schema"`
	Advanced          string `koanf:"advanced"`
	MaximumPoolSize   int    `koanf:"maximumpoolsize" validate:"gte=0"`
	GenerateEntityIDs bool   `koanf:"generateentityids"`
	SensitiveFields   string `koanf:"sensitivefields"`
	TraceStatements   bool   `koanf:"tracestatements"`

	// Placeholders maps lowercased "<placeholder>.<engine>" keys to DDL types.
	Placeholders map[string]string `koanf:"-"`
}

// Placeholder returns a configured DDL type for placeholder on engine.
func (s *Store) Placeholder(placeholder, engine string) (string, bool) {
	v, ok := s.Placeholders[strings.ToLower(placeholder+"."+engine)]
	return v, ok
}

// AdvancedProperties parses the advanced block: one key=value or key: value
// pair per line. Blank lines and lines starting with # are skipped.
func (s *Store) AdvancedProperties() (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(s.Advanced))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		i := strings.IndexAny(text, "=:")
		if i <= 0 {
			return nil, fmt.Errorf("advanced line %d: expected key=value, got %q", line, text)
		}
		props[strings.TrimSpace(text[:i])] = strings.TrimSpace(text[i+1:])
	}
	return props, scanner.Err()
}

// LoadStore merges attrs with environment overrides and validates the result.
func LoadStore(name string, attrs map[string]string) (*Store, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"generateentityids": true,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load store defaults: %w", err)
	}

	flat := make(map[string]interface{}, len(attrs))
	for key, value := range attrs {
		flat[strings.ToLower(key)] = value
	}
	if err := k.Load(confmap.Provider(flat, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load store attributes: %w", err)
	}

	prefix := EnvPrefix + strings.ToUpper(name) + "_"
	err := k.Load(env.Provider(prefix, ".", func(s string) string {
		key := strings.TrimPrefix(s, prefix)
		return strings.ToLower(strings.ReplaceAll(key, "__", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load store environment: %w", err)
	}

	store := &Store{Name: name}
	if err := k.Unmarshal("", store); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store config: %w", err)
	}

	store.Placeholders = make(map[string]string)
	for _, key := range k.Keys() {
		if strings.Contains(key, ".") {
			store.Placeholders[key] = k.String(key)
		}
	}

	if err := validator.New().Struct(store); err != nil {
		return nil, fmt.Errorf("store %s: config validation failed: %w", name, err)
	}
	return store, nil
}

// Cipher holds cipher key material.
type Cipher struct {
	Password string `koanf:"password" validate:"required"`
	Salt     string `koanf:"salt" validate:"required"`
	IV       string `koanf:"iv" validate:"len=16"`
}

// Settings converts c for the cipher package.
func (c Cipher) Settings() cipher.Settings {
	return cipher.Settings{Password: c.Password, Salt: c.Salt, IV: c.IV}
}

// LoadCipher reads REPOSTORE_CIPHER_PASSWORD, _SALT and _IV, falling back to
// the non-production defaults.
func LoadCipher() (Cipher, error) {
	k := koanf.New(".")
	defaults := map[string]interface{}{
		"password": cipher.DefaultPassword,
		"salt":     cipher.DefaultSalt,
		"iv":       cipher.DefaultIV,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return Cipher{}, fmt.Errorf("failed to load cipher defaults: %w", err)
	}
	if err := k.Load(prefixedEnv(EnvPrefix+"CIPHER_"), nil); err != nil {
		return Cipher{}, fmt.Errorf("failed to load cipher environment: %w", err)
	}

	var c Cipher
	if err := k.Unmarshal("", &c); err != nil {
		return Cipher{}, fmt.Errorf("failed to unmarshal cipher config: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return Cipher{}, fmt.Errorf("cipher config validation failed: %w", err)
	}
	return c, nil
}

// LoadLogging reads REPOSTORE_LOG_LEVEL and REPOSTORE_LOG_FORMAT.
func LoadLogging() (logger.Settings, error) {
	k := koanf.New(".")
	if err := k.Load(prefixedEnv(EnvPrefix+"LOG_"), nil); err != nil {
		return logger.Settings{}, fmt.Errorf("failed to load logging environment: %w", err)
	}

	var s logger.Settings
	if err := k.Unmarshal("", &s); err != nil {
		return logger.Settings{}, fmt.Errorf("failed to unmarshal logging config: %w", err)
	}
	s.Level = strings.ToLower(s.Level)
	if err := validator.New().Struct(s); err != nil {
		return logger.Settings{}, fmt.Errorf("logging config validation failed: %w", err)
	}
	return s, nil
}

func prefixedEnv(prefix string) *env.Env {
	return env.Provider(prefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, prefix))
	})
}
