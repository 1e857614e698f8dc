package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rasyidrafi/localkv/internal/config"
	"github.com/rasyidrafi/localkv/internal/db"
	"github.com/rasyidrafi/localkv/internal/kv"
)

const usage = `Usage: kvctl [flags] <command> [args]

Commands:
  get <key>          Print the value stored under key
  put <key> <value>  Store value under key (honors -ttl)
  delete <key>       Remove key
  list               Print all live keys (honors -prefix)

Flags must come before the command.
`

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	ttl := flag.Duration("ttl", 0, "Time-to-live for put (0 = no expiry)")
	prefix := flag.String("prefix", "", "Key prefix filter for list")
	format := flag.String("format", "text", "Output format for get: text, json or bytes")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.Log.GetLevel(), cfg.Log.JSON, cfg.Log.Colors)

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ns, err := openNamespace(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("Failed to open namespace")
	}
	defer ns.Close()

	if err := run(ns, args, *ttl, *prefix, *format); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("Command failed")
	}
}

// openNamespace constructs the configured backend.
func openNamespace(cfg *config.Config) (kv.Namespace, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile:
		return kv.NewFile(cfg.Storage.File.Path), nil
	case config.BackendSQLite:
		database, err := db.Open(cfg.Storage.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return kv.NewSQLite(database.DB), nil
	case config.BackendBolt:
		return kv.OpenBolt(cfg.Storage.Bolt.Path)
	case config.BackendRemote:
		return kv.NewRemote(kv.RemoteConfig{
			BaseURL:     cfg.Storage.Remote.BaseURL,
			AccountID:   cfg.Storage.Remote.AccountID,
			NamespaceID: cfg.Storage.Remote.NamespaceID,
			Token:       cfg.Storage.Remote.Token,
			Timeout:     cfg.Storage.Remote.Timeout.Duration(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func run(ns kv.Namespace, args []string, ttl time.Duration, prefix, format string) error {
	switch args[0] {
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("get expects exactly one key")
		}
		return runGet(ns, args[1], format)

	case "put":
		if len(args) != 3 {
			return fmt.Errorf("put expects a key and a value")
		}
		var opts *kv.PutOptions
		if ttl > 0 {
			opts = &kv.PutOptions{TTL: ttl}
		}
		return ns.Put(args[1], args[2], opts)

	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("delete expects exactly one key")
		}
		return ns.Delete(args[1])

	case "list":
		keys, err := ns.List(&kv.ListOptions{Prefix: prefix})
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key.Name)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runGet(ns kv.Namespace, key, format string) error {
	switch format {
	case "text":
		value, ok, err := ns.Get(key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", key)
		}
		fmt.Println(value)
		return nil

	case "json":
		var value any
		ok, err := ns.GetJSON(key, &value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", key)
		}
		pretty, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(pretty))
		return nil

	case "bytes":
		value, ok, err := ns.GetBytes(key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %q not found", key)
		}
		_, err = os.Stdout.Write(value)
		return err

	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		// JSON output for production
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		// Text output (with optional colors)
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
