// main package for reflection-ctl, the operator command-line client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/reflection-service/internal/config"
	"github.com/book-expert/reflection-service/internal/core"
	"github.com/book-expert/reflection-service/internal/directory"
	"github.com/book-expert/reflection-service/internal/dispatch"
	"github.com/book-expert/reflection-service/internal/history"
	"github.com/book-expert/reflection-service/internal/queue"
)

// Flag names and descriptions.
const (
	flagDispatch      = "dispatch"
	flagEmail         = "email"
	flagFeeling       = "feel"
	flagSubscribe     = "subscribe"
	flagVerify        = "verify"
	flagDispatchDesc  = "Enqueue one work item per active subscriber"
	flagEmailDesc     = "Subscriber email address"
	flagFeelingDesc   = "Record this feeling for --email"
	flagSubscribeDesc = "Add --email as a new unverified subscriber"
	flagVerifyDesc    = "Mark --email as verified"
)

const commandTimeout = 30 * time.Second

var (
	errNoAction     = errors.New("exactly one of --dispatch, --feel, --subscribe, or --verify is required")
	errEmailMissing = errors.New("--email is required for this action")
)

type appFlags struct {
	dispatch  bool
	email     string
	feeling   string
	subscribe bool
	verify    bool
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() appFlags {
	var flags appFlags

	flag.BoolVar(&flags.dispatch, flagDispatch, false, flagDispatchDesc)
	flag.StringVar(&flags.email, flagEmail, "", flagEmailDesc)
	flag.StringVar(&flags.feeling, flagFeeling, "", flagFeelingDesc)
	flag.BoolVar(&flags.subscribe, flagSubscribe, false, flagSubscribeDesc)
	flag.BoolVar(&flags.verify, flagVerify, false, flagVerifyDesc)
	flag.Parse()

	return flags
}

func run() error {
	flags := parseFlags()

	log, err := logger.New(os.TempDir(), "reflection-ctl.log")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	defer func() {
		_ = log.Close()
	}()

	cfg, err := config.Load(log)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at '%s': %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	return execute(ctx, flags, cfg, jetstreamContext, log)
}

func execute(
	ctx context.Context,
	flags appFlags,
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
	log *logger.Logger,
) error {
	switch {
	case flags.dispatch:
		return runDispatch(ctx, cfg, jetstreamContext, log)
	case flags.feeling != "":
		return recordFeeling(ctx, flags, cfg, jetstreamContext)
	case flags.subscribe:
		return addSubscriber(ctx, flags, cfg, jetstreamContext)
	case flags.verify:
		return verifySubscriber(ctx, flags, cfg, jetstreamContext)
	default:
		return errNoAction
	}
}

func runDispatch(
	ctx context.Context,
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
	log *logger.Logger,
) error {
	subscriberDirectory, err := directory.New(jetstreamContext, cfg.NATS.SubscribersBucket)
	if err != nil {
		return fmt.Errorf("failed to open subscriber directory: %w", err)
	}

	workQueue, err := queue.New(
		jetstreamContext,
		cfg.NATS.ReflectionStreamName,
		cfg.NATS.ReflectionRequestedSubject,
		cfg.NATS.ReflectionConsumerName,
		cfg.Pipeline.MaxDeliver,
		time.Duration(cfg.Pipeline.ItemTimeoutSeconds)*time.Second+time.Minute,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to open work queue: %w", err)
	}

	count, err := dispatch.New(subscriberDirectory, workQueue, log).Dispatch(ctx)
	if err != nil {
		return fmt.Errorf("dispatch failed: %w", err)
	}

	fmt.Printf("Dispatched %d work item(s)\n", count)

	return nil
}

func recordFeeling(
	ctx context.Context,
	flags appFlags,
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
) error {
	if flags.email == "" {
		return errEmailMissing
	}

	historyStore, err := history.New(jetstreamContext, cfg.NATS.FeelingsBucket)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	err = historyStore.Append(ctx, core.FeelingEntry{
		Subscriber: flags.email,
		Timestamp:  time.Now().UTC(),
		Feeling:    flags.feeling,
	})
	if err != nil {
		return fmt.Errorf("failed to record feeling: %w", err)
	}

	fmt.Printf("Recorded feeling for %s\n", flags.email)

	return nil
}

func addSubscriber(
	ctx context.Context,
	flags appFlags,
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
) error {
	if flags.email == "" {
		return errEmailMissing
	}

	subscriberDirectory, err := directory.New(jetstreamContext, cfg.NATS.SubscribersBucket)
	if err != nil {
		return fmt.Errorf("failed to open subscriber directory: %w", err)
	}

	err = subscriberDirectory.Put(ctx, core.Subscriber{
		Email:        flags.email,
		Active:       true,
		Verified:     false,
		SubscribedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to add subscriber: %w", err)
	}

	fmt.Printf("Added subscriber %s (unverified)\n", flags.email)

	return nil
}

func verifySubscriber(
	ctx context.Context,
	flags appFlags,
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
) error {
	if flags.email == "" {
		return errEmailMissing
	}

	subscriberDirectory, err := directory.New(jetstreamContext, cfg.NATS.SubscribersBucket)
	if err != nil {
		return fmt.Errorf("failed to open subscriber directory: %w", err)
	}

	err = subscriberDirectory.Verify(ctx, flags.email)
	if err != nil {
		return fmt.Errorf("failed to verify subscriber: %w", err)
	}

	fmt.Printf("Verified subscriber %s\n", flags.email)

	return nil
}
