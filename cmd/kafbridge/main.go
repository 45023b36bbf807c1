// Command kafbridge builds cube segments from Kafka offset ranges.
//
// Usage:
//
//	kafbridge [-config path] build [-table name] [-segment id]
//	kafbridge [-config path] merge [-table name] -segments a,b[,c...] [-segment id]
//	kafbridge [-config path] step -name seek|materialize|finalize -segment id -job id [-table name] [-type BUILD|MERGE]
//	kafbridge [-config path] show -segment id | -table name
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jittakal/kafbridge/internal/config"
	"github.com/jittakal/kafbridge/internal/config/dto"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("kafbridge", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: kafbridge [-config path] build|merge|step|show [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	command, commandArgs := fs.Arg(0), fs.Args()[1:]

	cfg, err := loadConfig(resolveConfigPath(*configPath))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	switch command {
	case "build":
		return app.buildCommand(ctx, commandArgs, stdout)
	case "merge":
		return app.mergeCommand(ctx, commandArgs, stdout)
	case "step":
		return app.stepCommand(ctx, commandArgs, stdout)
	case "show":
		return app.showCommand(ctx, commandArgs, stdout)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// resolveConfigPath applies the priority CLI flag > CONFIG_PATH env var >
// default path.
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return "config/application.yaml"
}

func loadConfig(path string) (*dto.ApplicationConfig, error) {
	cfg, err := config.NewLoader().Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
