package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/logging"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/types"
)

type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Cluster ClusterConfig `yaml:"cluster"`
	Raft    RaftConfig    `yaml:"raft"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

type NodeConfig struct {
	// ID defaults to the listen port when left at zero.
	ID     int    `yaml:"id"`
	Listen string `yaml:"listen"`
	// HTTP is the admin API address. Empty disables it.
	HTTP string `yaml:"http"`
}

type ClusterConfig struct {
	Peers []string `yaml:"peers"`
}

type RaftConfig struct {
	ElectionTimeoutMin time.Duration `yaml:"election_timeout_min"`
	ElectionTimeoutMax time.Duration `yaml:"election_timeout_max"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	ApplyInterval      time.Duration `yaml:"apply_interval"`
	RPCTimeout         time.Duration `yaml:"rpc_timeout"`
	CommitPolicy       string        `yaml:"commit_policy"`
}

type ServerConfig struct {
	MaxConnections int64         `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Node: NodeConfig{Listen: ":5000"},
		Raft: RaftConfig{
			ElectionTimeoutMin: 150 * time.Millisecond,
			ElectionTimeoutMax: 300 * time.Millisecond,
			HeartbeatInterval:  100 * time.Millisecond,
			ApplyInterval:      20 * time.Millisecond,
			RPCTimeout:         time.Second,
			CommitPolicy:       string(types.CommitImmediate),
		},
		Server: ServerConfig{
			MaxConnections: 256,
			IdleTimeout:    60 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults. The result is not validated so
// that command-line overrides can still be applied.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Normalize fills derived fields. The node id falls back to the listen port.
func (c *Config) Normalize() {
	if c.Node.ID != 0 {
		return
	}
	if _, port, err := net.SplitHostPort(c.Node.Listen); err == nil {
		if p, err := strconv.Atoi(port); err == nil {
			c.Node.ID = p
		}
	}
}

func (c *Config) Validate() error {
	if c.Node.Listen == "" {
		return errors.New("node.listen is required")
	}
	if _, _, err := net.SplitHostPort(c.Node.Listen); err != nil {
		return fmt.Errorf("node.listen: %w", err)
	}
	if c.Node.ID <= 0 {
		return fmt.Errorf("node.id must be greater than 0, got %d", c.Node.ID)
	}
	if c.Node.HTTP != "" {
		if _, _, err := net.SplitHostPort(c.Node.HTTP); err != nil {
			return fmt.Errorf("node.http: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Cluster.Peers))
	for _, p := range c.Cluster.Peers {
		if _, _, err := net.SplitHostPort(p); err != nil {
			return fmt.Errorf("cluster.peers: %q is not host:port", p)
		}
		if seen[p] {
			return fmt.Errorf("cluster.peers: duplicate peer %q", p)
		}
		seen[p] = true
	}

	r := c.Raft
	if r.ElectionTimeoutMin <= 0 || r.ElectionTimeoutMax <= 0 {
		return errors.New("raft election timeouts must be positive")
	}
	if r.ElectionTimeoutMin > r.ElectionTimeoutMax {
		return fmt.Errorf("raft.election_timeout_min (%s) exceeds raft.election_timeout_max (%s)",
			r.ElectionTimeoutMin, r.ElectionTimeoutMax)
	}
	if r.HeartbeatInterval <= 0 || r.HeartbeatInterval >= r.ElectionTimeoutMin {
		return fmt.Errorf("raft.heartbeat_interval (%s) must be positive and below raft.election_timeout_min (%s)",
			r.HeartbeatInterval, r.ElectionTimeoutMin)
	}
	if !types.CommitPolicy(r.CommitPolicy).Valid() {
		return fmt.Errorf("raft.commit_policy: unknown policy %q", r.CommitPolicy)
	}

	if c.Server.MaxConnections <= 0 {
		return errors.New("server.max_connections must be greater than 0")
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	if !logging.ValidFormat(c.Log.Format) {
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}
