package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/chrissnell/occuscale/internal/app"
	"github.com/chrissnell/occuscale/internal/log"
	"github.com/chrissnell/occuscale/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "occuscale.yaml", "Path to configuration source:\n\t\t\t  YAML: occuscale.yaml\n\t\t\t  SQLite: occuscale.db\n\t\t\t  Use 'config-convert' tool to convert YAML→SQLite")
	cfgBackend := flag.String("config-backend", "yaml", "Configuration backend type: 'yaml' for YAML files, 'sqlite' for SQLite databases")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("occuscale %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(app.ExitError)
	}

	os.Exit(run(*cfgFile, *cfgBackend))
}

func run(cfgFile, cfgBackend string) int {
	defer log.Sync()

	cfgData, err := loadConfig(cfgFile, cfgBackend)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		return app.ExitCode(err)
	}

	summary, err := app.New(cfgData, log.GetSugaredLogger()).Run(context.Background())
	if err != nil {
		log.Errorf("Analysis failed: %v", err)
		return app.ExitCode(err)
	}

	log.Infof("results for run %s written to %s", summary.RunID, summary.Directory)
	return app.ExitOK
}

func loadConfig(cfgFile, cfgBackend string) (*config.ConfigData, error) {
	filename, _ := filepath.Abs(cfgFile)

	var provider config.ConfigProvider
	var err error

	switch cfgBackend {
	case "yaml":
		provider = config.NewYAMLProvider(filename)
	case "sqlite":
		provider, err = config.NewSQLiteProvider(filename)
		if err != nil {
			return nil, fmt.Errorf("error creating SQLite provider: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported configuration backend: %s. Use 'yaml' or 'sqlite'", cfgBackend)
	}
	defer provider.Close()

	cfgData, err := provider.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %w", err)
	}

	return cfgData, nil
}
