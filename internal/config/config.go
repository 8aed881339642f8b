package config

import (
	"os"
	"time"

	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"
)

type NodeConfig struct {
	Name string `yaml:"name"`
}

type SourceConfig struct {
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"`
}

type CheckpointConfig struct {
	Type string `yaml:"type"` // file or pebble
	Dir  string `yaml:"dir"`
}

type ArbiterConfig struct {
	Type       string   `yaml:"type"` // local or etcd
	Endpoints  []string `yaml:"endpoints"`
	Prefix     string   `yaml:"prefix"`
	TTLSeconds int      `yaml:"ttl_seconds"`
}

type HeartbeatConfig struct {
	Listen         string `yaml:"listen"`
	Peer           string `yaml:"peer"`
	ReaderIdleMs   int    `yaml:"reader_idle_ms"`
	WriterIdleMs   int    `yaml:"writer_idle_ms"`
	StartupGraceMs int    `yaml:"startup_grace_ms"`
}

func (h HeartbeatConfig) ReaderIdle() time.Duration {
	return time.Duration(h.ReaderIdleMs) * time.Millisecond
}

func (h HeartbeatConfig) WriterIdle() time.Duration {
	return time.Duration(h.WriterIdleMs) * time.Millisecond
}

func (h HeartbeatConfig) StartupGrace() time.Duration {
	return time.Duration(h.StartupGraceMs) * time.Millisecond
}

// Table describes the columns of interest for one table. Either Ordinals is
// given directly or Columns is resolved against information_schema.
type Table struct {
	Name     string         `yaml:"name"`
	Database string         `yaml:"database"`
	Columns  []string       `yaml:"columns"`
	Ordinals map[int]string `yaml:"ordinals"`
}

type SchemaConfig struct {
	DSN    string  `yaml:"dsn"`
	Tables []Table `yaml:"tables"`
}

type Subscriber struct {
	Database string   `yaml:"database"`
	Table    string   `yaml:"table"`
	Type     string   `yaml:"type"` // kafka or nats
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	URL      string   `yaml:"url"`
	Subject  string   `yaml:"subject"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Node        NodeConfig       `yaml:"node"`
	Source      SourceConfig     `yaml:"source"`
	Checkpoint  CheckpointConfig `yaml:"checkpoint"`
	Arbiter     ArbiterConfig    `yaml:"arbiter"`
	Heartbeat   HeartbeatConfig  `yaml:"heartbeat"`
	Schema      SchemaConfig     `yaml:"schema"`
	Subscribers []Subscriber     `yaml:"subscribers"`
	HTTP        HTTPConfig       `yaml:"http"`
}

func LoadFromEnv() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return Config{}, errors.New("CONFIG_PATH is not set")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, errors.Annotate(err, "parse config")
	}

	// Apply defaults
	if c.Node.Name == "" {
		c.Node.Name, _ = os.Hostname()
	}
	if c.Source.Port == 0 {
		c.Source.Port = 3306
	}
	if c.Source.Flavor == "" {
		c.Source.Flavor = "mysql"
	}
	if c.Source.ServerID == 0 {
		c.Source.ServerID = 1001
	}
	if c.Checkpoint.Type == "" {
		c.Checkpoint.Type = "file"
	}
	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "./data"
	}
	if c.Arbiter.Type == "" {
		c.Arbiter.Type = "local"
	}
	if c.Arbiter.Prefix == "" {
		c.Arbiter.Prefix = "/binlogha"
	}
	if c.Arbiter.TTLSeconds <= 0 {
		c.Arbiter.TTLSeconds = 5
	}
	if c.Heartbeat.Listen == "" {
		c.Heartbeat.Listen = ":9600"
	}
	if c.Heartbeat.ReaderIdleMs <= 0 {
		c.Heartbeat.ReaderIdleMs = 10000
	}
	if c.Heartbeat.WriterIdleMs <= 0 {
		c.Heartbeat.WriterIdleMs = 3000
	}
	if c.Heartbeat.StartupGraceMs <= 0 {
		c.Heartbeat.StartupGraceMs = c.Heartbeat.ReaderIdleMs
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Checkpoint.Type {
	case "file", "pebble":
	default:
		return errors.Errorf("unknown checkpoint type %q", c.Checkpoint.Type)
	}
	switch c.Arbiter.Type {
	case "local":
	case "etcd":
		if len(c.Arbiter.Endpoints) == 0 {
			return errors.New("etcd arbiter requires endpoints")
		}
	default:
		return errors.Errorf("unknown arbiter type %q", c.Arbiter.Type)
	}
	if c.Heartbeat.WriterIdleMs >= c.Heartbeat.ReaderIdleMs {
		return errors.Errorf("writer_idle_ms (%d) must be below reader_idle_ms (%d)",
			c.Heartbeat.WriterIdleMs, c.Heartbeat.ReaderIdleMs)
	}
	for _, t := range c.Schema.Tables {
		if t.Name == "" {
			return errors.New("schema table without name")
		}
		if len(t.Ordinals) == 0 && len(t.Columns) == 0 {
			return errors.Errorf("table %s needs columns or ordinals", t.Name)
		}
		if len(t.Ordinals) == 0 && c.Schema.DSN == "" {
			return errors.Errorf("table %s lists columns but schema.dsn is empty", t.Name)
		}
	}
	for _, s := range c.Subscribers {
		if s.Database == "" || s.Table == "" {
			return errors.New("subscriber requires database and table")
		}
		switch s.Type {
		case "kafka":
			if len(s.Brokers) == 0 || s.Topic == "" {
				return errors.Errorf("kafka subscriber for %s.%s requires brokers and topic", s.Database, s.Table)
			}
		case "nats":
			if s.URL == "" || s.Subject == "" {
				return errors.Errorf("nats subscriber for %s.%s requires url and subject", s.Database, s.Table)
			}
		default:
			return errors.Errorf("unknown subscriber type %q", s.Type)
		}
	}
	return nil
}
