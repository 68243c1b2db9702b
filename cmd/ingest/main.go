package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"property-intel/internal/config"
	"property-intel/internal/database"
	"property-intel/internal/ingest"
	"property-intel/internal/pipeline"
	"property-intel/internal/scheduler"
	"property-intel/internal/vector"
)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "propintel",
		Usage: "Listing ingestion pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				Value:   "config/config.yaml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Process a single source file through the pipeline",
				ArgsUsage: "<file>",
				Action:    runCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Source format (csv, json, xlsx); detected from extension when omitted",
					},
				},
			},
			{
				Name:      "batch",
				Usage:     "Process every matching file in a directory",
				ArgsUsage: "<directory>",
				Action:    batchCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "format",
						Usage: "Source formats to include",
						Value: cli.NewStringSlice("csv", "json", "xlsx"),
					},
				},
			},
			{
				Name:   "drain",
				Usage:  "Drain the vector index queue once and exit",
				Action: drainCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one source file argument")
	}
	source := c.Args().First()

	cfg, store, err := openStore(c.String("config"))
	if err != nil {
		return err
	}
	defer store.Close()

	format := ingest.Format(c.String("format"))
	if format == "" {
		detected, ok := ingest.DetectFormat(source)
		if !ok {
			return fmt.Errorf("cannot detect format of %s, pass --format", source)
		}
		format = detected
	}

	p := pipeline.New(cfg, store, nil)
	result := p.Process(c.Context, source, format)
	printJSON(result)
	if !result.Success {
		return cli.Exit("run finished with failures", 1)
	}
	return nil
}

func batchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one directory argument")
	}
	dir := c.Args().First()

	cfg, store, err := openStore(c.String("config"))
	if err != nil {
		return err
	}
	defer store.Close()

	formats := make([]ingest.Format, 0)
	for _, f := range c.StringSlice("format") {
		formats = append(formats, ingest.Format(f))
	}

	p := pipeline.New(cfg, store, nil)
	result, err := p.RunBatch(c.Context, dir, formats)
	if err != nil {
		return err
	}
	printJSON(result)
	if !result.Success {
		return cli.Exit("batch finished with failures", 1)
	}
	return nil
}

func drainCommand(c *cli.Context) error {
	cfg, store, err := openStore(c.String("config"))
	if err != nil {
		return err
	}
	defer store.Close()

	var embedder vector.Embedder
	if cfg.Vector.EmbeddingHost != "" {
		embedder, err = vector.NewOpenAIEmbedder(
			cfg.Vector.EmbeddingHost, os.Getenv("EMBEDDING_TOKEN"),
			cfg.Vector.EmbeddingModel, cfg.Vector.Dimensions)
		if err != nil {
			return err
		}
	} else {
		embedder = vector.NewHashEmbedder(cfg.Vector.Dimensions)
	}

	vectors, err := vector.New(cfg.Vector.Addr, cfg.Vector.Collection, embedder)
	if err != nil {
		return err
	}
	defer vectors.Close()

	if err := vectors.EnsureCollection(c.Context, embedder.Dimensions()); err != nil {
		return err
	}

	worker := scheduler.NewQueueWorker(store, vectors, cfg.Vector.GetTimeout(), cfg.Vector.MaxAttempts)
	processed, err := worker.Drain(c.Context)
	log.Printf("Drained %d queue items", processed)
	return err
}

// openStore loads configuration and connects the configured structured store.
func openStore(configPath string) (*config.Config, database.Store, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	var store database.Store
	switch cfg.Database.Type {
	case "mysql":
		store, err = database.NewGormDB(
			cfg.Database.MySQL.Host,
			fmt.Sprintf("%d", cfg.Database.MySQL.Port),
			cfg.Database.MySQL.User,
			cfg.Database.MySQL.Password,
			cfg.Database.MySQL.Database,
		)
	default:
		store, err = database.NewDB(
			cfg.Database.Postgres.Host,
			fmt.Sprintf("%d", cfg.Database.Postgres.Port),
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Password,
			cfg.Database.Postgres.Database,
			cfg.Database.Postgres.SSLMode,
		)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := store.InitSchema(); err != nil {
		store.Close()
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.GetStoreTimeout())
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		store.Close()
		return nil, nil, err
	}

	return cfg, store, nil
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("Failed to render result: %v", err)
		return
	}
	fmt.Println(string(data))
}
