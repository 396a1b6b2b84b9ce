package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-highlight/internal/log"
	"github.com/teslashibe/go-highlight/pkg/artifacts"
	"github.com/teslashibe/go-highlight/pkg/extract"
	"github.com/teslashibe/go-highlight/pkg/web"
)

var seedFlag uint64

var extractCmd = &cobra.Command{
	Use:   "extract [input video] [output path]",
	Short: "Extract one highlight segment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ecfg := cfg.ExtractConfig()
		if seedFlag != 0 {
			ecfg.Seed = seedFlag
		}

		x, err := buildExtractor(cmd.Context(), ecfg)
		if err != nil {
			return err
		}
		defer x.Close()

		res, err := x.Extract(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("%s: %w", extract.KindOf(err), err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Download model files into the local cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := modelCache()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.FetchTimeout())
		defer cancel()

		paths, err := cache.Warm(ctx, extract.ModelFiles...)
		if err != nil {
			return err
		}
		for _, p := range paths {
			log.Info("model ready", "path", p)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve extraction over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := buildExtractor(cmd.Context(), cfg.ExtractConfig())
		if err != nil {
			return err
		}
		defer x.Close()

		srv := web.NewServer(cfg.ServerConfig(), x, log.L())

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
			log.Info("shutting down")
			return srv.Shutdown(10 * time.Second)
		}
	},
}

// buildExtractor loads models through the artifact cache.
func buildExtractor(ctx context.Context, ecfg extract.Config) (*extract.Extractor, error) {
	cache, err := modelCache()
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout())
	defer cancel()

	return extract.NewDefault(wctx, ecfg, cache, log.L())
}

// modelCache returns a cache over ModelDir. The object store is only used
// when a bucket is configured.
func modelCache() (*artifacts.Cache, error) {
	cache := &artifacts.Cache{
		Dir:    cfg.ModelDir,
		Prefix: cfg.ModelPrefix,
		Logger: log.Component("artifacts"),
	}
	if cfg.S3Bucket == "" {
		return cache, nil
	}

	fetcher, err := artifacts.NewMinioFetcher(cfg.MinioConfig())
	if err != nil {
		return nil, errors.Join(extract.ErrModelLoad, err)
	}
	cache.Fetcher = fetcher
	return cache, nil
}
