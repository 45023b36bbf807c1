package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/kafbridge/internal/config/dto"
	apperrors "github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/internal/job"
	"github.com/jittakal/kafbridge/internal/kafka"
	"github.com/jittakal/kafbridge/internal/materialize"
	"github.com/jittakal/kafbridge/internal/metastore"
	"github.com/jittakal/kafbridge/internal/observability"
	"github.com/jittakal/kafbridge/internal/offsets"
	"github.com/jittakal/kafbridge/internal/parser"
	"github.com/jittakal/kafbridge/internal/server"
	"github.com/jittakal/kafbridge/internal/storage"
	"github.com/jittakal/kafbridge/internal/timerange"
	pkgencoder "github.com/jittakal/kafbridge/pkg/encoder"
	"github.com/jittakal/kafbridge/pkg/flattable"
	pkgmetastore "github.com/jittakal/kafbridge/pkg/metastore"
	pkgparser "github.com/jittakal/kafbridge/pkg/parser"
	"github.com/jittakal/kafbridge/pkg/segment"
	pkgstorage "github.com/jittakal/kafbridge/pkg/storage"
)

// app holds the components shared by every command.
type app struct {
	cfg      *dto.ApplicationConfig
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	store    pkgmetastore.Store
	checker  *server.Checker
	runner   *job.Runner

	cleanupFuncs []func() error
}

func newApp(ctx context.Context, cfg *dto.ApplicationConfig) (*app, error) {
	logCfg := observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	}
	logger := observability.NewLogger(logCfg)
	logger.Info("starting kafbridge",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
	)

	registry := prometheus.NewRegistry()
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		checker:  server.NewChecker(),
	}

	store, err := newStore(cfg, logCfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.addCleanup("metastore", store.Close)

	probeCube := cfg.Tables[0].CubeName()
	a.checker.AddProbe("metastore", func(ctx context.Context) error {
		_, err := store.ListSegments(ctx, probeCube)
		return err
	})

	if cfg.Observability.Metrics.Enabled {
		if err := a.startServer(); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.runner = job.NewRunner(store, retryConfig(cfg.Retry), logger, a.metrics)
	return a, nil
}

func (a *app) addCleanup(name string, fn func() error) {
	a.cleanupFuncs = append(a.cleanupFuncs, fn)
	a.logger.Debug("registered cleanup", "component", name)
}

// Close releases components in reverse creation order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		if err := a.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.cleanupFuncs = nil
	return errors.Join(errs...)
}

func (a *app) startServer() error {
	obs := a.cfg.Observability
	httpServer := server.NewServer(server.Config{
		HealthPort:    obs.Health.Port,
		MetricsPort:   obs.Metrics.Port,
		LivenessPath:  obs.Health.LivenessPath,
		ReadinessPath: obs.Health.ReadinessPath,
		MetricsPath:   obs.Metrics.Path,
	}, a.checker, a.registry, a.logger)

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	a.addCleanup("http-server", func() error {
		a.checker.SetAlive(false)
		grace := time.Duration(a.cfg.Shutdown.GracePeriodSeconds) * time.Second
		if grace <= 0 {
			grace = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})
	return nil
}

func newStore(cfg *dto.ApplicationConfig, logCfg observability.LoggingConfig, logger *slog.Logger) (pkgmetastore.Store, error) {
	switch cfg.Metastore.Backend {
	case "memory":
		return metastore.NewMemoryStore(), nil
	case "file":
		return metastore.NewFileStore(cfg.Metastore.File.Dir, logger)
	case "etcd":
		zapLogger, err := observability.NewZapLogger(logCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd logger: %w", err)
		}
		etcd := cfg.Metastore.Etcd
		return metastore.NewEtcdStore(metastore.EtcdConfig{
			Endpoints:       etcd.Endpoints,
			Prefix:          etcd.Prefix,
			Username:        etcd.Username,
			Password:        etcd.Password,
			DialTimeout:     time.Duration(etcd.DialTimeoutSeconds) * time.Second,
			LeaseTTLSeconds: etcd.LeaseTTLSeconds,
		}, logger, zapLogger)
	default:
		return nil, fmt.Errorf("unsupported metastore backend: %s (supported: memory, file, etcd)", cfg.Metastore.Backend)
	}
}

func retryConfig(cfg dto.RetryConfig) job.RetryConfig {
	if !cfg.Enabled {
		return job.RetryConfig{MaxAttempts: 1}
	}
	return job.RetryConfig{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		Multiplier:     cfg.BackoffMultiplier,
		Jitter:         cfg.Jitter,
	}
}

// table returns the named table, or the first configured one.
func (a *app) table(name string) (*dto.TableConfig, error) {
	if name == "" {
		return &a.cfg.Tables[0], nil
	}
	return a.cfg.Table(name)
}

// ensureSegment returns the segment with id, creating it when missing.
func (a *app) ensureSegment(ctx context.Context, table *dto.TableConfig, id string, mergedFrom []string) (*segment.Segment, error) {
	seg, err := a.store.GetSegment(ctx, id)
	if err == nil {
		return seg, nil
	}
	if !apperrors.Is(err, apperrors.ErrSegmentNotFound) {
		return nil, err
	}
	seg = &segment.Segment{
		ID:         id,
		Cube:       table.CubeName(),
		Table:      table.Name,
		MergedFrom: mergedFrom,
	}
	if err := a.store.PutSegment(ctx, seg); err != nil {
		return nil, fmt.Errorf("failed to create segment %s: %w", id, err)
	}
	a.logger.Info("segment created", "segment_id", id, "cube", seg.Cube)
	return seg, nil
}

// pipeline is the wiring of one table's build steps.
type pipeline struct {
	table    *dto.TableConfig
	router   *storage.DefaultRouter
	seek     *job.SeekStep
	mat      *job.MaterializeStep
	finalize *job.FinalizeStep
}

func (p *pipeline) buildSteps() []job.Step {
	return []job.Step{p.seek, p.mat, p.finalize}
}

func (p *pipeline) mergeSteps() []job.Step {
	return []job.Step{p.seek, p.finalize}
}

// mergePipeline wires the steps of a merge build. Merges combine committed
// metadata only, so no source or staging storage is opened.
func (a *app) mergePipeline(table *dto.TableConfig) *pipeline {
	resolver := offsets.NewResolver(nil, offsets.NewMerger(a.logger))
	return &pipeline{
		table:    table,
		seek:     job.NewSeekStep(a.store, resolver, table.Topic, offsets.SeekOptions{}, a.logger),
		finalize: job.NewFinalizeStep(a.store, timerange.New(a.store, nil, a.logger)),
	}
}

// buildPipeline wires source, staging storage and parser for table.
func (a *app) buildPipeline(ctx context.Context, table *dto.TableConfig) (*pipeline, error) {
	clientCfg := a.clientConfig()

	src, err := kafka.NewSource(a.cfg.Kafka.Client, clientCfg, a.logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create source client: %w", err)
	}
	a.addCleanup("source", src.Close)
	a.checker.AddProbe("source", func(ctx context.Context) error {
		_, err := src.ListPartitions(ctx, table.Topic)
		return err
	})

	writer, err := a.newWriter(ctx)
	if err != nil {
		return nil, err
	}
	a.addCleanup("storage-writer", writer.Close)

	dlq, err := kafka.NewDLQPublisher(clientCfg, kafka.DLQConfig{
		Enabled:     a.cfg.Kafka.DLQ.Enabled,
		TopicSuffix: a.cfg.Kafka.DLQ.TopicSuffix,
		MaxRetries:  a.cfg.Kafka.DLQ.MaxRetries,
	}, a.logger, a.metrics, a.cfg.Application.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ publisher: %w", err)
	}
	a.addCleanup("dlq-publisher", dlq.Close)

	schema := table.Schema()
	p, err := parser.DefaultRegistry().New(table.Parser.Name, schema, pkgparser.Properties(table.Parser.Properties))
	if err != nil {
		return nil, err
	}
	input, err := flattable.New(schema, p, a.cfg.Storage.Delimiter)
	if err != nil {
		return nil, err
	}

	materializer := materialize.New(src, writer, input, dlq, materialize.Config{
		Table:             table.Name,
		Topic:             table.Topic,
		Format:            a.cfg.Storage.Format,
		MaxRecordsPerFile: a.cfg.FileRotation.MaxRecordsPerFile,
		MaxChunkBytes:     int64(a.cfg.Processing.BufferSizeMB) * 1024 * 1024,
		WorkerPoolSize:    a.cfg.Processing.WorkerPoolSize,
		MaxRejectionRatio: a.cfg.Materialize.MaxRejectionRatio,
	}, a.logger, a.metrics)

	seeker := offsets.NewSeeker(src, offsets.SeekerConfig{
		PartitionChangePolicy:   offsets.PartitionChangePolicy(a.cfg.Offsets.PartitionChangePolicy),
		AllowEmptySegments:      a.cfg.Offsets.AllowEmptySegments,
		SkipExpired:             a.cfg.Offsets.SkipExpired,
		MaxMessagesPerPartition: a.cfg.Offsets.MaxMessagesPerPartition,
	}, a.logger, a.metrics)
	resolver := offsets.NewResolver(seeker, offsets.NewMerger(a.logger))

	return &pipeline{
		table:    table,
		router:   storage.NewRouter(storage.Protocol(a.cfg.Storage.Backend), storageBucket(a.cfg), storageBasePath(a.cfg)),
		seek:     job.NewSeekStep(a.store, resolver, table.Topic, offsets.SeekOptions{}, a.logger),
		mat:      job.NewMaterializeStep(a.store, materializer, a.logger),
		finalize: job.NewFinalizeStep(a.store, timerange.New(a.store, writer, a.logger)),
	}, nil
}

func (a *app) clientConfig() kafka.ClientConfig {
	k := a.cfg.Kafka
	return kafka.ClientConfig{
		BootstrapServers: k.BootstrapServers,
		ClientID:         k.ClientID,
		ReadTimeout:      a.cfg.Materialize.ReadTimeout(),
		Security: kafka.SecurityConfig{
			SecurityProtocol:   k.SecurityProtocol,
			SASLMechanism:      k.SASLMechanism,
			SASLUsername:       k.SASLUsername,
			SASLPassword:       k.SASLPassword,
			AWSRegion:          k.AWSRegion,
			CAFile:             k.TLS.CAFile,
			InsecureSkipVerify: k.TLS.InsecureSkipVerify,
		},
	}
}

// newWriter creates the staging writer of the configured backend.
func (a *app) newWriter(ctx context.Context) (pkgstorage.Writer, error) {
	sc := a.cfg.Storage
	encoding := storage.EncoderConfig{
		Format:      pkgencoder.FileFormat(sc.Format),
		Compression: sc.Compression,
		Delimiter:   sc.Delimiter,
	}
	if encoding.Compression == "" && encoding.Format == pkgencoder.FormatParquet {
		encoding.Compression = a.cfg.Parquet.Compression
	}

	switch sc.Backend {
	case "file":
		writer, err := storage.NewFileWriter(storage.FileConfig{BasePath: sc.File.BasePath}, encoding, a.logger, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem writer: %w", err)
		}
		return writer, nil
	case "s3":
		writer, err := storage.NewS3Writer(ctx, storage.S3Config{
			Bucket:       sc.S3.Bucket,
			Region:       sc.S3.Region,
			Endpoint:     sc.S3.Endpoint,
			UsePathStyle: sc.S3.UsePathStyle,
			SSEEnabled:   sc.S3.SSEEnabled,
			SSEKMSKeyID:  sc.S3.SSEKMSKeyID,
		}, encoding, a.logger, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		return writer, nil
	case "azure":
		writer, err := storage.NewAzureWriter(storage.AzureConfig{
			AccountName:   sc.Azure.AccountName,
			AccountKey:    os.Getenv("AZURE_STORAGE_ACCOUNT_KEY"),
			ContainerName: sc.Azure.Container,
		}, encoding, a.logger, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob writer: %w", err)
		}
		return writer, nil
	case "gcs":
		credentialsJSON := sc.GCS.CredentialsJSON
		if credentialsJSON == "" {
			credentialsJSON = os.Getenv("GCP_CREDENTIALS_JSON")
		}
		writer, err := storage.NewGCSWriter(ctx, storage.GCSConfig{
			Bucket:               sc.GCS.Bucket,
			ProjectID:            sc.GCS.ProjectID,
			CredentialsFile:      sc.GCS.CredentialsFile,
			CredentialsJSON:      credentialsJSON,
			UseDefaultCredential: sc.GCS.UseDefaultCredential,
		}, encoding, a.logger, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS writer: %w", err)
		}
		return writer, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", sc.Backend)
	}
}

func storageBucket(cfg *dto.ApplicationConfig) string {
	switch cfg.Storage.Backend {
	case "s3":
		return cfg.Storage.S3.Bucket
	case "azure":
		return cfg.Storage.Azure.Container
	case "gcs":
		return cfg.Storage.GCS.Bucket
	default:
		// the file writer roots paths at its base path
		return ""
	}
}

func storageBasePath(cfg *dto.ApplicationConfig) string {
	switch cfg.Storage.Backend {
	case "s3":
		return cfg.Storage.S3.BasePath
	case "gcs":
		return cfg.Storage.GCS.BasePath
	case "azure":
		return cfg.Storage.Azure.BasePath
	default:
		return ""
	}
}
