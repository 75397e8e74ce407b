// Command cdcworker replicates one MySQL table into an Iceberg-style
// lakehouse table, in either backfill or live mode, selected via
// CDC_MODE. One process handles one (schema, table); an external
// scheduler re-invokes it to advance the live window.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"mysql-iceberg-cdc/internal/config"
	"mysql-iceberg-cdc/internal/logging"
	"mysql-iceberg-cdc/internal/objectstore"
	"mysql-iceberg-cdc/internal/orchestrator"
	"mysql-iceberg-cdc/internal/sink"
	"mysql-iceberg-cdc/internal/source"
	"mysql-iceberg-cdc/internal/watermark"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("cdcworker: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", cfg.MySQLUser, cfg.MySQLPasswd, cfg.MySQLHost, cfg.MySQLPort)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("cdcworker: open source connection: %w", err)
	}
	defer db.Close()

	store, err := objectstore.NewS3Store(ctx, cfg.AWSRegion, cfg.S3Bucket, logger)
	if err != nil {
		return err
	}

	sk := sink.New(store, cfg.ConnectionName, cfg.Schema, cfg.Table, logger)
	wm := watermark.New(store, cfg.ConnectionName, cfg.ServerID, logger)

	if orphans, err := sk.OrphanDataFiles(ctx); err != nil {
		logger.Warn("could not check for orphaned data files", zap.Error(err))
	} else if len(orphans) > 0 {
		logger.Warn("found orphaned data files from a prior interrupted commit",
			zap.Strings("keys", orphans))
	}
	conn := source.ConnParams{Host: cfg.MySQLHost, Port: cfg.MySQLPort, User: cfg.MySQLUser, Passwd: cfg.MySQLPasswd}
	orch := orchestrator.New(conn, cfg.ServerID, cfg.Schema, cfg.Table, cfg.BatchSize, sk, wm, logger)

	logger.Info("cdcworker starting",
		zap.String("connection", cfg.ConnectionName),
		zap.String("schema", cfg.Schema),
		zap.String("table", cfg.Table),
		zap.String("mode", string(cfg.Mode)))

	switch cfg.Mode {
	case config.ModeBackfill:
		err = orch.RunBackfill(ctx, db)
	case config.ModeCDC:
		err = orch.RunLive(ctx, db)
	default:
		err = fmt.Errorf("cdcworker: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("run stopped by shutdown signal")
			return nil
		}
		return err
	}

	logger.Info("run complete")
	return nil
}
