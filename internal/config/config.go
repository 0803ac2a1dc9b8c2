package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"private_feed/internal/utils/log"
)

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendBadger = "badger"
)

type (
	Config struct {
		Server      Server      `yaml:"server"`
		Store       Store       `yaml:"store"`
		Mongo       Mongo       `yaml:"mongo"`
		Badger      Badger      `yaml:"badger"`
		Redis       Redis       `yaml:"redis"`
		StatusCache StatusCache `yaml:"statusCache"`
		Chain       Chain       `yaml:"chain"`
		Log         log.Options `yaml:"log"`
		Client      Client      `yaml:"client"`
	}

	Server struct {
		Listen string `yaml:"listen"`
	}

	Store struct {
		Backend string `yaml:"backend"`
	}

	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	Badger struct {
		Dir string `yaml:"dir"`
	}

	// Redis is optional; an empty Addr keeps the status cache in memory.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	StatusCache struct {
		TTL time.Duration `yaml:"ttl"`
	}

	Chain struct {
		MaxEpoch uint64 `yaml:"maxEpoch"`
	}

	Client struct {
		ServerURL string `yaml:"serverURL"`
		KeyFile   string `yaml:"keyFile"`
	}
)

func Default() Config {
	return Config{
		Server:      Server{Listen: "localhost:9090"},
		Store:       Store{Backend: BackendMemory},
		Mongo:       Mongo{URI: "mongodb://localhost:27017", Database: "private_feed"},
		Badger:      Badger{Dir: "data/badger"},
		StatusCache: StatusCache{TTL: 5 * time.Minute},
		Chain:       Chain{MaxEpoch: 1023},
		Log:         log.Options{Level: "info"},
		Client:      Client{ServerURL: "http://localhost:9090", KeyFile: "feed.key"},
	}
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && optional {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendMongo, BackendBadger:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Chain.MaxEpoch == 0 {
		return errors.New("chain.maxEpoch must be positive")
	}
	return nil
}
