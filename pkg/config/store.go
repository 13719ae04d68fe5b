package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Layer names, highest priority first.
const (
	LayerRuntime = "runtime"
	LayerAccount = "account"
	LayerLocal   = "local"
	LayerDefault = "default"
)

// Options configures a Store.
type Options struct {
	// Dir is the forj data directory, usually ~/.forj.
	Dir    string `validate:"required"`
	Logger zerolog.Logger
}

// Store is the layered configuration: runtime, account, local file and
// application defaults. It implements lorj.Config.
type Store struct {
	mu sync.RWMutex

	dir      string
	logger   zerolog.Logger
	defaults *Defaults
	schemas  *SchemaRegistry

	boxMu sync.Mutex
	box   *SecretBox

	runtime map[string]any
	local   map[string]map[string]any

	accountName string
	account     map[string]map[string]any
}

// DefaultDir returns ~/.forj.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".forj"), nil
}

// ExpandPath replaces a leading "~/" by the home directory.
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Open loads the defaults and the local configuration file from opts.Dir.
// The local file is created when missing.
func Open(opts Options) (*Store, error) {
	if err := validator.New().Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid config options: %w", err)
	}
	defaults, err := LoadDefaults()
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:      opts.Dir,
		logger:   opts.Logger,
		defaults: defaults,
		schemas:  NewSchemaRegistry(),
		runtime:  make(map[string]any),
		local:    map[string]map[string]any{DefaultSection: {}},
	}

	if err := os.MkdirAll(filepath.Join(s.dir, "accounts"), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	raw, err := os.ReadFile(s.localPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info().Str("path", s.localPath()).Msg("Creating your default configuration file")
		if err := s.saveLocal(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", s.localPath(), err)
	default:
		doc := map[string]map[string]any{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", s.localPath(), err)
		}
		for section, values := range doc {
			if values == nil {
				doc[section] = map[string]any{}
			}
		}
		if err := s.schemas.ValidateAgainstSchema(context.Background(), "local", doc); err != nil {
			return nil, fmt.Errorf("%s: %w", s.localPath(), err)
		}
		for section, values := range doc {
			s.local[section] = values
		}
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// Defaults returns the application defaults.
func (s *Store) Defaults() *Defaults { return s.defaults }

func (s *Store) localPath() string { return filepath.Join(s.dir, "config.yaml") }

func (s *Store) accountPath(name string) string {
	return filepath.Join(s.dir, "accounts", name+".yaml")
}

// split resolves "section#key" or a bare key to its section and name.
func (s *Store) split(key string) (string, string) {
	if section, name, ok := strings.Cut(key, "#"); ok {
		return section, name
	}
	section, _ := s.defaults.Section(key)
	return section, key
}

// Get returns the value of key from the highest layer defining it. Sealed
// account values are returned decrypted.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, layer := s.lookup(key)
	if layer == "" {
		return nil, false
	}
	if layer == LayerAccount && IsSealed(v) {
		plain, err := s.open(v.(string))
		if err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("Unable to decrypt account value")
			return nil, false
		}
		return plain, true
	}
	return v, true
}

// GetString returns the value of key formatted as a string, or "".
func (s *Store) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

func (s *Store) lookup(key string) (any, string) {
	section, name := s.split(key)
	if v, ok := s.runtime[name]; ok {
		return v, LayerRuntime
	}
	if section != "" && s.account != nil {
		if v, ok := s.account[section][name]; ok && v != nil {
			return v, LayerAccount
		}
	}
	if v, ok := s.local[DefaultSection][name]; ok && v != nil {
		return v, LayerLocal
	}
	if section != "" {
		if v, ok := s.local[section][name]; ok && v != nil {
			return v, LayerLocal
		}
	}
	if v, ok := s.defaults.Value(name); ok {
		return v, LayerDefault
	}
	return nil, ""
}

// Set writes key in the runtime layer. A nil value removes it.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, name := s.split(key)
	if value == nil {
		delete(s.runtime, name)
		return
	}
	s.runtime[name] = value
}

// Exist reports whether any layer defines key.
func (s *Store) Exist(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, layer := s.lookup(key)
	return layer != ""
}

// Where lists the layers defining key, highest first.
func (s *Store) Where(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	section, name := s.split(key)
	var layers []string
	if _, ok := s.runtime[name]; ok {
		layers = append(layers, LayerRuntime)
	}
	if section != "" && s.account != nil {
		if v, ok := s.account[section][name]; ok && v != nil {
			layers = append(layers, LayerAccount)
		}
	}
	if v, ok := s.local[DefaultSection][name]; ok && v != nil {
		layers = append(layers, LayerLocal)
	} else if v, ok := s.local[section][name]; ok && section != "" && v != nil {
		layers = append(layers, LayerLocal)
	}
	if _, ok := s.defaults.Value(name); ok {
		layers = append(layers, LayerDefault)
	}
	return layers
}

// LocalSet writes a bare key in the local configuration file.
func (s *Store) LocalSet(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, name := s.split(key)
	s.local[DefaultSection][name] = value
	return s.saveLocal()
}

// LocalDel removes a bare key from the local configuration file.
func (s *Store) LocalDel(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, name := s.split(key)
	if _, ok := s.local[DefaultSection][name]; !ok {
		return fmt.Errorf("key '%s' is not set in %s", name, s.localPath())
	}
	delete(s.local[DefaultSection], name)
	return s.saveLocal()
}

func (s *Store) saveLocal() error {
	return writeYAML(s.localPath(), s.local, 0o644)
}

// AccountName returns the loaded account, or "".
func (s *Store) AccountName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountName
}

// Accounts lists the account files of the data directory.
func (s *Store) Accounts() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "accounts"))
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}

// LoadAccount reads and validates the account file of name.
func (s *Store) LoadAccount(name string) error {
	raw, err := os.ReadFile(s.accountPath(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("account '%s' does not exist, run 'forj setup %s' first", name, name)
		}
		return fmt.Errorf("failed to read account '%s': %w", name, err)
	}
	doc := map[string]map[string]any{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse account '%s': %w", name, err)
	}
	if err := s.schemas.ValidateAgainstSchema(context.Background(), "account", doc); err != nil {
		return fmt.Errorf("account '%s': %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountName = name
	s.account = doc
	s.logger.Debug().Str("account", name).Msg("Account loaded")
	return nil
}

// NewAccount starts an empty account bound to provider. Nothing is written
// until the first SetAccount or SaveAccount.
func (s *Store) NewAccount(name, provider string) error {
	doc := map[string]map[string]any{
		"account": {"name": name, "provider": provider},
	}
	if err := s.schemas.ValidateAgainstSchema(context.Background(), "account", doc); err != nil {
		return fmt.Errorf("account '%s': %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountName = name
	s.account = doc
	return nil
}

// SetAccount writes key in the account layer and saves the account file.
// Encrypted keys are sealed. A key without section goes to the runtime
// layer.
func (s *Store) SetAccount(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account == nil {
		return errors.New("no account loaded")
	}
	section, name := s.split(key)
	if section == "" {
		s.runtime[name] = value
		return nil
	}

	if m, ok := s.defaults.Meta(name); ok && m.Encrypted {
		if str, isStr := value.(string); isStr && str != "" && !IsSealed(str) {
			sealed, err := s.seal(str)
			if err != nil {
				return err
			}
			value = sealed
		}
	}

	if s.account[section] == nil {
		s.account[section] = map[string]any{}
	}
	s.account[section][name] = value
	return s.saveAccount()
}

// SaveAccount writes the loaded account file.
func (s *Store) SaveAccount() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return errors.New("no account loaded")
	}
	return s.saveAccount()
}

func (s *Store) saveAccount() error {
	if err := s.schemas.ValidateAgainstSchema(context.Background(), "account", s.account); err != nil {
		return fmt.Errorf("account '%s': %w", s.accountName, err)
	}
	return writeYAML(s.accountPath(s.accountName), s.account, 0o600)
}

// ExportAccount returns a copy of the loaded account with sealed values
// decrypted.
func (s *Store) ExportAccount() (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return nil, errors.New("no account loaded")
	}
	out := make(map[string]map[string]any, len(s.account))
	for section, keys := range s.account {
		out[section] = make(map[string]any, len(keys))
		for k, v := range keys {
			if IsSealed(v) {
				plain, err := s.open(v.(string))
				if err != nil {
					return nil, fmt.Errorf("failed to decrypt '%s#%s': %w", section, k, err)
				}
				v = plain
			}
			out[section][k] = v
		}
	}
	return out, nil
}

// DeleteAccount removes the account file of name.
func (s *Store) DeleteAccount(name string) error {
	if err := os.Remove(s.accountPath(name)); err != nil {
		return fmt.Errorf("failed to delete account '%s': %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountName == name {
		s.accountName = ""
		s.account = nil
	}
	return nil
}

func (s *Store) seal(plain string) (string, error) {
	if err := s.loadBox(); err != nil {
		return "", err
	}
	return s.box.Seal(plain)
}

func (s *Store) open(sealed string) (string, error) {
	if err := s.loadBox(); err != nil {
		return "", err
	}
	return s.box.Open(sealed)
}

func (s *Store) loadBox() error {
	s.boxMu.Lock()
	defer s.boxMu.Unlock()
	if s.box != nil {
		return nil
	}
	box, err := LoadOrCreateKey(filepath.Join(s.dir, ".key"))
	if err != nil {
		return err
	}
	s.box = box
	return nil
}

func writeYAML(path string, doc any, mode os.FileMode) error {
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, out, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
