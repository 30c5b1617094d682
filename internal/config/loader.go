package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"arcintegrity/internal/fsutil"
)

// reloadDebounce coalesces bursts of writes from editors.
const reloadDebounce = 100 * time.Millisecond

// Loader holds the current configuration for a file and, once Watch is
// called, swaps in each valid edit. An edit that fails to parse or
// validate is reported on Errors and the previous value stays current.
type Loader struct {
	path    string
	current atomic.Pointer[Config]
	errs    chan error

	mu        sync.Mutex
	callbacks []func(*Config)
	fsw       *fsnotify.Watcher
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewLoader returns a loader for path. Nothing is read until Load.
func NewLoader(path string) *Loader {
	return &Loader{
		path: path,
		errs: make(chan error, 1),
		stop: make(chan struct{}),
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.path }

// Load reads the file and makes the result current.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.current.Store(cfg)
	return cfg, nil
}

// Config returns the current configuration, or nil before Load.
func (l *Loader) Config() *Config {
	return l.current.Load()
}

// OnChange registers cb for every successful reload.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, cb)
	l.mu.Unlock()
}

// Errors carries reload and watch failures. It is buffered by one and
// drops errors nobody reads.
func (l *Loader) Errors() <-chan error {
	return l.errs
}

// Watch reloads the configuration whenever its file is written. The
// parent directory is watched so editors that replace the file are seen.
func (l *Loader) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(l.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	l.mu.Lock()
	l.fsw = fsw
	l.mu.Unlock()

	go l.loop(fsw)
	return nil
}

func (l *Loader) loop(fsw *fsnotify.Watcher) {
	name := filepath.Base(l.path)
	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-l.stop:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && ev.Has(fsnotify.Write|fsnotify.Create) {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			l.report(err)
		case <-timer.C:
			l.reload()
		}
	}
}

func (l *Loader) reload() {
	cfg, err := Load(l.path)
	if err != nil {
		l.report(fmt.Errorf("reload config: %w", err))
		return
	}
	l.current.Store(cfg)

	l.mu.Lock()
	callbacks := append([]func(*Config){}, l.callbacks...)
	l.mu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errs <- err:
	default:
	}
}

// Close stops watching. It is safe to call more than once.
func (l *Loader) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })

	l.mu.Lock()
	fsw := l.fsw
	l.fsw = nil
	l.mu.Unlock()
	if fsw != nil {
		return fsw.Close()
	}
	return nil
}

// codec reads and writes one config file format.
type codec struct {
	name   string
	decode func(data []byte, cfg *Config) error
	encode func(cfg *Config) ([]byte, error)
}

var (
	tomlCodec = codec{
		name: "TOML",
		decode: func(data []byte, cfg *Config) error {
			_, err := toml.Decode(string(data), cfg)
			return err
		},
		encode: func(cfg *Config) ([]byte, error) {
			var buf bytes.Buffer
			buf.WriteString("# arcintegrity configuration\n\n")
			if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	}
	jsonCodec = codec{
		name: "JSON",
		decode: func(data []byte, cfg *Config) error {
			return json.Unmarshal(data, cfg)
		},
		encode: func(cfg *Config) ([]byte, error) {
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return nil, err
			}
			return append(data, '\n'), nil
		},
	}
	yamlCodec = codec{
		name: "YAML",
		decode: func(data []byte, cfg *Config) error {
			return yaml.Unmarshal(data, cfg)
		},
		encode: func(cfg *Config) ([]byte, error) {
			return yaml.Marshal(cfg)
		},
	}
)

// codecFor maps a file extension to its codec.
func codecFor(ext string) (codec, bool) {
	switch ext {
	case ".toml":
		return tomlCodec, true
	case ".json":
		return jsonCodec, true
	case ".yaml", ".yml":
		return yamlCodec, true
	}
	return codec{}, false
}

// loadConfigFromFile layers the file at path over the defaults. A missing
// file yields the defaults unchanged.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if c, ok := codecFor(filepath.Ext(path)); ok {
		cfg := DefaultConfig()
		if err := c.decode(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.name, err)
		}
		return cfg, nil
	}
	return sniff(data)
}

// sniff tries each codec in turn on a file with no recognised extension.
func sniff(data []byte) (*Config, error) {
	for _, c := range []codec{tomlCodec, jsonCodec, yamlCodec} {
		cfg := DefaultConfig()
		if c.decode(data, cfg) == nil {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("parse config: not TOML, JSON or YAML")
}

// LoadOrCreate loads path, first writing the defaults there if the file
// does not exist. The bool reports whether the file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		return cfg, true, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// Encode serializes cfg in the format named by ext (".toml", ".json",
// ".yaml" or ".yml"); anything else is TOML.
func Encode(cfg *Config, ext string) ([]byte, error) {
	c, ok := codecFor(ext)
	if !ok {
		c = tomlCodec
	}
	return c.encode(cfg)
}

// SaveConfig writes cfg to path atomically, in the format its extension
// names.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := fsutil.WriteFile(path, data, fsutil.PermPrivateFile); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
