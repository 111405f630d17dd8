package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = "usage: sensorproxy <daemon|status> [-config path]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	cfgFlag := fs.String("config", "", "config file (default $SENSORPROXY_CONFIG or "+defaultConfigPath+")")
	fs.Parse(os.Args[2:])

	cfg, err := loadConfig(configPath(*cfgFlag))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		err = runDaemon(cfg)
	case "status":
		err = runStatus(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n%s\n", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
