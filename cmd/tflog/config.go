package main

import (
	"github.com/spf13/cobra"

	"github.com/kapiw0n/terraform-log-viewer/tflog"
	"github.com/kapiw0n/terraform-log-viewer/viewer"
)

// configFlags are the flags that may override the YAML config. A flag wins only when it
// was set on the command line.
type configFlags struct {
	path       string
	listen     string
	db         string
	storageDir string
	debug      bool
}

func (f *configFlags) register(cmd *cobra.Command, withListen bool) {
	fs := cmd.Flags()
	fs.StringVarP(&f.path, "config", "c", "", "YAML config file path.")
	fs.StringVar(&f.db, "db", "tflog.db", "SQLite database path.")
	fs.StringVar(&f.storageDir, "storage-dir", "log_storage", "Directory for uploaded log files.")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logs.")
	if withListen {
		fs.StringVar(&f.listen, "listen", ":8000", "HTTP listen address.")
	}
}

func (f *configFlags) resolve(cmd *cobra.Command) (*viewer.Config, error) {
	cfg := viewer.DefaultConfig()
	if f.path != "" {
		loaded, err := viewer.LoadConfig(f.path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs := cmd.Flags()
	if fs.Changed("listen") {
		cfg.Listen = f.listen
	}
	if fs.Changed("db") {
		cfg.Database.Path = f.db
	}
	if fs.Changed("storage-dir") {
		cfg.Storage.Dir = f.storageDir
	}
	if fs.Changed("debug") {
		cfg.Debug = f.debug
	}
	setupLogging(cfg.Debug)
	return cfg, nil
}

// openService wires the store, upload directory and parser described by cfg.
func openService(cfg *viewer.Config) (*viewer.Service, func(), error) {
	store, err := viewer.OpenStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	files, err := viewer.NewFileStore(cfg.Storage.Dir, cfg.MaxUploadBytes)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	svc, err := viewer.NewService(store, files, tflog.NewParser(cfg.ParserOptions()), viewer.ServiceOptions{
		MaxPageSize:  cfg.MaxPageSize,
		CacheEntries: cfg.CacheEntries,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, func() { _ = store.Close() }, nil
}
