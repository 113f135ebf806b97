package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	mapstructure "github.com/go-viper/mapstructure/v2"
)

// BackendType selects where the config document lives.
type BackendType string

const (
	BackendFile      BackendType = "file"
	BackendConsul    BackendType = "consul"
	BackendEtcd      BackendType = "etcd"
	BackendZookeeper BackendType = "zookeeper"
)

// envOverridePrefix is the prefix for flat env overrides: e.g.
// GATEWAY__SERVER__PORT=9000 sets server.port.
const envOverridePrefix = "GATEWAY__"

// LoaderOptions configure a Loader.
type LoaderOptions struct {
	Type BackendType

	// Path is the file path (file backend) or key (remote backends).
	Path string

	// Endpoints for the remote backends; defaults per backend.
	Endpoints []string

	// Watch enables reactive reload. OnChange receives each
	// successfully re-decoded Config.
	Watch    bool
	OnChange func(*Config) error
}

// Loader reads, expands, and decodes the config document from its
// backend, optionally watching for changes.
type Loader struct {
	koanf    *koanf.Koanf
	options  LoaderOptions
	parser   *yaml.YAML
	stopChan chan struct{}
}

// NewLoader validates options and builds a Loader.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Type == "" {
		opts.Type = BackendFile
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	if len(opts.Endpoints) == 0 {
		switch opts.Type {
		case BackendConsul:
			opts.Endpoints = []string{"localhost:8500"}
		case BackendEtcd:
			opts.Endpoints = []string{"localhost:2379"}
		case BackendZookeeper:
			opts.Endpoints = []string{"localhost:2181"}
		}
	}

	return &Loader{
		koanf:    koanf.New("."),
		options:  opts,
		parser:   yaml.Parser(),
		stopChan: make(chan struct{}),
	}, nil
}

// watchable is implemented by the remote providers; the file provider
// has its own Watch with the same shape.
type watchable interface {
	Watch(cb func(event any, err error)) error
}

func (l *Loader) provider() (koanf.Provider, error) {
	switch l.options.Type {
	case BackendFile:
		return file.Provider(l.options.Path), nil
	case BackendConsul:
		return NewConsulProvider(l.options.Endpoints[0], l.options.Path)
	case BackendEtcd:
		return NewEtcdProvider(l.options.Endpoints, l.options.Path)
	case BackendZookeeper:
		return NewZookeeperProvider(l.options.Endpoints, l.options.Path)
	default:
		return nil, fmt.Errorf("unsupported config backend: %s", l.options.Type)
	}
}

// Load reads the document, expands env vars, overlays GATEWAY__ env
// overrides, and decodes into a defaulted, validated Config.
func (l *Loader) Load() (*Config, error) {
	provider, err := l.provider()
	if err != nil {
		return nil, err
	}

	if err := l.koanf.Load(provider, l.parser); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", l.options.Type, err)
	}
	if err := l.expandEnvVarsInKoanf(); err != nil {
		return nil, err
	}
	if err := l.overlayEnv(); err != nil {
		return nil, err
	}

	cfg, err := l.unmarshal()
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		go l.watch(provider)
	}

	return cfg, nil
}

func (l *Loader) watch(provider koanf.Provider) {
	w, ok := provider.(watchable)
	if !ok {
		slog.Warn("config: backend does not support watching", "type", string(l.options.Type))
		return
	}

	err := w.Watch(func(_ any, err error) {
		select {
		case <-l.stopChan:
			return
		default:
		}
		if err != nil {
			slog.Warn("config: watch error", "error", err)
			return
		}

		fresh := koanf.New(".")
		if err := fresh.Load(provider, l.parser); err != nil {
			slog.Warn("config: reload failed", "error", err)
			return
		}
		l.koanf = fresh
		if err := l.expandEnvVarsInKoanf(); err != nil {
			slog.Warn("config: reload env expansion failed", "error", err)
			return
		}
		if err := l.overlayEnv(); err != nil {
			slog.Warn("config: reload env overlay failed", "error", err)
			return
		}

		cfg, err := l.unmarshal()
		if err != nil {
			slog.Warn("config: reloaded document rejected", "error", err)
			return
		}
		if l.options.OnChange != nil {
			if err := l.options.OnChange(cfg); err != nil {
				slog.Warn("config: change callback failed", "error", err)
			} else {
				slog.Info("config: reloaded", "type", string(l.options.Type))
			}
		}
	})
	if err != nil {
		slog.Warn("config: watch stopped", "error", err)
	}
}

// overlayEnv applies GATEWAY__SECTION__FIELD env overrides on top of
// the document.
func (l *Loader) overlayEnv() error {
	p := env.Provider(envOverridePrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envOverridePrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := l.koanf.Load(p, nil); err != nil {
		return fmt.Errorf("apply env overrides: %w", err)
	}
	return nil
}

func (l *Loader) expandEnvVarsInKoanf() error {
	expanded, ok := ExpandEnvVarsInData(l.koanf.Raw()).(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected shape after env var expansion")
	}
	fresh := koanf.New(".")
	if err := fresh.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return fmt.Errorf("reload expanded config: %w", err)
	}
	l.koanf = fresh
	return nil
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	dc := &mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml", DecoderConfig: dc}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Stop ends a watching loader's reload loop.
func (l *Loader) Stop() {
	close(l.stopChan)
}

// LoadTimeout bounds remote backend dials.
const LoadTimeout = 5 * time.Second
