package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/client"
	"github.com/isparth/Distributed-Systems/sensor-raft/internal/logging"
)

func main() {
	nodeID := flag.Int("node", 1, "Sensor node ID")
	servers := flag.String("servers", "127.0.0.1:5000", "Comma-separated list of server host:port addresses")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	var addrs []string
	for _, s := range strings.Split(*servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			addrs = append(addrs, s)
		}
	}

	sim, err := client.NewSimulator(client.SimulatorConfig{
		NodeID:  *nodeID,
		Servers: addrs,
		Logger:  logging.New(os.Stderr, *level, "text"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := sim.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
