package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/isparth/Distributed-Systems/sensor-raft/internal/client"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -addr host:port stats|status|node <id>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "Server address")
	flag.Usage = usage
	flag.Parse()

	var q string
	switch flag.Arg(0) {
	case "stats":
		q = client.StatsQuery()
	case "status":
		q = client.StatusQuery()
	case "node":
		id, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			usage()
			os.Exit(2)
		}
		q = client.NodeQuery(id)
	default:
		usage()
		os.Exit(2)
	}

	out, err := client.Query(context.Background(), *addr, q)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(out)
}
