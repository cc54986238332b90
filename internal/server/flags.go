package server

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/config"
)

// ParseFlags builds the node configuration from the command line. Values
// from -config are loaded first and explicit flags override them.
func ParseFlags(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("sensord", flag.ContinueOnError)
	fs.SetOutput(stderr)

	path := fs.String("config", "", "Path to a YAML config file")
	id := fs.Int("id", 0, "Node ID (defaults to the listen port)")
	port := fs.Int("port", 0, "TCP listen port, shorthand for -listen :<port>")
	listen := fs.String("listen", "", "TCP listen address (host:port)")
	peers := fs.String("peers", "", "Comma-separated list of peer host:port addresses")
	httpAddr := fs.String("http", "", "Admin HTTP listen address (empty disables)")
	level := fs.String("log-level", "", "Log level: debug, info, warn, error")
	format := fs.String("log-format", "", "Log format: text or json")
	policy := fs.String("commit-policy", "", "Commit policy: immediate or majority")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			return config.Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "id":
			cfg.Node.ID = *id
		case "port":
			cfg.Node.Listen = fmt.Sprintf(":%d", *port)
		case "listen":
			cfg.Node.Listen = *listen
		case "peers":
			cfg.Cluster.Peers = splitPeers(*peers)
		case "http":
			cfg.Node.HTTP = *httpAddr
		case "log-level":
			cfg.Log.Level = *level
		case "log-format":
			cfg.Log.Format = *format
		case "commit-policy":
			cfg.Raft.CommitPolicy = *policy
		}
	})
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitPeers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
