package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	eventprocessor "github.com/kestrelstream/eventprocessor"
	"github.com/kestrelstream/eventprocessor/store/blobstore"
	azeventhubstransport "github.com/kestrelstream/eventprocessor/transport/azeventhubs"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("eventprocd %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := loadConfig()
	log := newLogger(cfg.LogLevel)

	if err := run(ctx, cfg, log); err != nil {
		log.Error(err, "eventprocd exited with error")
		os.Exit(1)
	}
}

func newLogger(level int) logr.Logger {
	zc := zap.NewProductionConfig()
	if level > 0 {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zl, err := zc.Build()
	if err != nil {
		zl = zap.NewNop()
	}
	return zapr.NewLogger(zl)
}

func run(ctx context.Context, cfg config, log logr.Logger) error {
	if cfg.Namespace == "" || cfg.EventHub == "" {
		return fmt.Errorf("EVENTHUB_NAMESPACE and EVENTHUB_NAME are required")
	}

	client, err := newConsumerClient(cfg)
	if err != nil {
		return fmt.Errorf("creating event hub consumer client: %w", err)
	}
	defer client.Close(context.Background())

	store, err := newStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("creating checkpoint store: %w", err)
	}

	transport := azeventhubstransport.New(client)

	processor := eventprocessor.NewProcessor(cfg.Namespace, cfg.EventHub, cfg.ConsumerGroup, store, transport,
		eventprocessor.ProcessorOptions{
			LoadBalanceUpdate:   cfg.LoadBalanceUpdate,
			OwnershipExpiration: cfg.OwnershipExpiration,
			MaximumWaitTime:     cfg.MaximumWaitTime,
		}, log)

	if err := processor.SetOnEvent(onEvent(log)); err != nil {
		return err
	}
	if err := processor.SetOnError(onError(log)); err != nil {
		return err
	}

	go serveMetrics(cfg.MetricsBindAddress, log)

	if err := processor.Start(ctx); err != nil {
		return fmt.Errorf("starting processor: %w", err)
	}

	<-ctx.Done()
	log.Info("shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.OwnershipExpiration)
	defer stopCancel()
	return processor.Stop(stopCtx)
}

func newConsumerClient(cfg config) (*azeventhubs.ConsumerClient, error) {
	if cfg.ConnectionStr != "" {
		return azeventhubs.NewConsumerClientFromConnectionString(cfg.ConnectionStr, cfg.EventHub, cfg.ConsumerGroup, nil)
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}
	return azeventhubs.NewConsumerClient(cfg.Namespace, cfg.EventHub, cfg.ConsumerGroup, cred, nil)
}

func newStore(ctx context.Context, cfg config, log logr.Logger) (eventprocessor.Store, error) {
	if cfg.StorageAccountURL == "" {
		return nil, fmt.Errorf("CHECKPOINT_STORAGE_ACCOUNT_URL is required")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure credential: %w", err)
	}
	serviceClient, err := azblob.NewClient(cfg.StorageAccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob service client: %w", err)
	}
	containerClient := serviceClient.ServiceClient().NewContainerClient(cfg.StorageContainerName)
	return blobstore.New(containerClient, log), nil
}

func onEvent(log logr.Logger) eventprocessor.OnEventFunc {
	return func(partitionCtx eventprocessor.PartitionContext, event eventprocessor.Event, checkpoint eventprocessor.CheckpointFunc) error {
		log.V(1).Info("received event", "partition", partitionCtx.PartitionID, "offset", event.Offset, "sequenceNumber", event.SequenceNumber)
		return checkpoint()
	}
}

func onError(log logr.Logger) eventprocessor.OnErrorFunc {
	return func(partitionCtx *eventprocessor.PartitionContext, operation string, err error) {
		if partitionCtx != nil {
			log.Error(err, "processor error", "operation", operation, "partition", partitionCtx.PartitionID)
			return
		}
		log.Error(err, "processor error", "operation", operation)
	}
}

func serveMetrics(addr string, log logr.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error(err, "metrics server exited")
	}
}
