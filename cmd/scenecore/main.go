// Copyright (C) 2025 PlanVR Labs (dev@planvr.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command scenecore runs the VR scene assistant core from the command
// line: route utterances, ingest documents, query the hybrid retriever,
// and validate proposed control actions.
//
// Usage:
//
//	scenecore route "turn on handles"
//	scenecore route --session demo "4 x 11.5"
//	scenecore chat --config-dir ./conf
//	scenecore ingest --file notes.txt
//	scenecore retrieve "implant safety margins"
//	scenecore validate --target brightness --value 150
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	scene "github.com/planvr/scenecore/services/scene"
	"github.com/planvr/scenecore/services/scene/config"
	"github.com/planvr/scenecore/services/scene/control"
	"github.com/planvr/scenecore/services/scene/llm"
	"github.com/planvr/scenecore/services/scene/rag"
	"github.com/planvr/scenecore/services/scene/routing"
	badgerstore "github.com/planvr/scenecore/services/scene/storage/badger"
)

var (
	flagConfigDir string
	flagDataDir   string
	flagVerbose   bool
	flagTrace     bool
	flagNoOracle  bool
)

func main() {
	root := &cobra.Command{
		Use:           "scenecore",
		Short:         "VR scene assistant core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory with catalog override YAML files")
	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "BadgerDB directory for vector persistence (empty = in-memory)")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")
	root.PersistentFlags().BoolVar(&flagTrace, "trace", false, "emit OTel spans to stdout")
	root.PersistentFlags().BoolVar(&flagNoOracle, "no-oracle", false, "disable the chat oracle (tie-break and narration)")

	root.AddCommand(newRouteCmd(), newChatCmd(), newIngestCmd(), newRetrieveCmd(), newValidateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// Runtime Wiring
// =============================================================================

// runtime holds the wired service graph for one command invocation.
type runtime struct {
	cfg       *config.Config
	assistant *scene.Assistant
	retriever *rag.HybridRetriever
	ingestor  *rag.Ingestor
	validator *control.Validator
	db        *badgerstore.DB
	shutdown  func(context.Context)
}

// base holds the graph pieces that survive a configuration reload: the
// logger, tracing, persistence, and the external backends.
type base struct {
	logger   *slog.Logger
	db       *badgerstore.DB
	store    *rag.FlatStore
	embedder *llm.OllamaEmbedder
	oracle   routing.Oracle
	shutdown func(context.Context)
}

// setupBase wires everything that does not depend on configuration.
// Degradable pieces (embedding backend, chat oracle, persistence) never
// abort startup.
func setupBase(ctx context.Context) (*base, error) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	shutdown := func(context.Context) {}
	if flagTrace {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
		shutdown = func(ctx context.Context) { _ = provider.Shutdown(ctx) }
	}

	var db *badgerstore.DB
	var err error
	if flagDataDir != "" {
		db, err = badgerstore.Open(flagDataDir, logger)
		if err != nil {
			return nil, err
		}
	}

	store, err := rag.NewFlatStore(db, logger)
	if err != nil {
		return nil, err
	}

	embedder := llm.NewOllamaEmbedder("", "", logger)

	var oracle routing.Oracle
	if !flagNoOracle {
		chat, err := llm.NewOllamaChat("", "")
		if err != nil {
			logger.Warn("chat oracle unavailable, continuing without it",
				slog.String("error", err.Error()),
			)
		} else {
			oracle = chat
		}
	}

	return &base{
		logger:   logger,
		db:       db,
		store:    store,
		embedder: embedder,
		oracle:   oracle,
		shutdown: shutdown,
	}, nil
}

// buildGraph wires the config-dependent layers on top of a base.
func buildGraph(ctx context.Context, cfg *config.Config, b *base) *runtime {
	resolver := routing.NewEntityResolver(&cfg.Catalog, b.embedder, b.logger)
	if err := resolver.Warm(ctx); err != nil {
		b.logger.Warn("entity warm-up aborted", slog.String("error", err.Error()))
	}

	classifier := routing.NewIntentClassifier(&cfg.Intent, &cfg.Catalog, b.oracle, b.logger)
	parser := routing.NewValueParser(&cfg.Ranges)
	clarifier := routing.NewClarifier(&cfg.Catalog, &cfg.Ranges)
	knowledge := routing.NewKnowledge(&cfg.Catalog)
	router := routing.NewDecisionRouter(cfg, classifier, resolver, parser, clarifier, knowledge, b.logger)

	validator := control.NewValidator(&cfg.Catalog, &cfg.Ranges)
	retriever := rag.NewHybridRetriever(b.store, b.embedder, cfg.Retrieval, b.logger)
	ingestor := rag.NewIngestor(b.store, b.embedder, b.logger)
	assistant := scene.NewAssistant(router, validator, retriever, b.oracle, b.logger)

	return &runtime{
		cfg:       cfg,
		assistant: assistant,
		retriever: retriever,
		ingestor:  ingestor,
		validator: validator,
		db:        b.db,
		shutdown:  b.shutdown,
	}
}

// setup loads configuration and wires the full graph for a one-shot
// command.
func setup(ctx context.Context) (*runtime, error) {
	b, err := setupBase(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ctx, flagConfigDir)
	if err != nil {
		return nil, err
	}
	return buildGraph(ctx, cfg, b), nil
}

func (r *runtime) close(ctx context.Context) {
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			slog.Warn("closing store", slog.String("error", err.Error()))
		}
	}
	r.shutdown(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Commands
// =============================================================================

func newRouteCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "route <utterance>",
		Short: "Route one utterance to a decision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			decision := rt.assistant.Chat(cmd.Context(), session, strings.Join(args, " "))
			return printJSON(decision)
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id for history-sensitive rules")
	return cmd
}

func newChatCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive utterance loop with live config reload",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			b, err := setupBase(ctx)
			if err != nil {
				return err
			}

			store, err := config.NewStore(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			if flagConfigDir != "" {
				go func() {
					if err := config.Watch(ctx, store); err != nil {
						b.logger.Warn("config watcher stopped",
							slog.String("error", err.Error()),
						)
					}
				}()
			}

			rt := buildGraph(ctx, store.Get(), b)
			defer rt.close(ctx)

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Fprintln(os.Stderr, "scenecore chat; one utterance per line, Ctrl-D to exit")
			for scanner.Scan() {
				if ctx.Err() != nil {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}

				// A hot reload swapped the config pointer; rebuild the
				// routing layers on top of the shared base.
				if cfg := store.Get(); cfg != rt.cfg {
					rt = buildGraph(ctx, cfg, b)
				}

				decision := rt.assistant.Chat(ctx, session, line)
				if err := printJSON(decision); err != nil {
					return err
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&session, "session", "repl", "session id for history-sensitive rules")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var file, docID string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a document into the knowledge store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}

			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			id, chunks, err := rt.ingestor.Ingest(cmd.Context(), docID, string(data), map[string]string{"source": file})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"document_id": id, "chunks": chunks})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path of the document to ingest")
	cmd.Flags().StringVar(&docID, "id", "", "document id (default: new UUID)")
	return cmd
}

func newRetrieveCmd() *cobra.Command {
	var k int
	var withContext bool
	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Run hybrid retrieval against the knowledge store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			query := strings.Join(args, " ")
			results, err := rt.retriever.Retrieve(cmd.Context(), query, k)
			if err != nil {
				return err
			}

			out := map[string]any{"results": results}
			if withContext {
				out["context"] = rt.retriever.BuildContext(results, 0)
			}
			return printJSON(out)
		},
	}
	cmd.Flags().IntVar(&k, "k", 0, "result count (default: configured final top-k)")
	cmd.Flags().BoolVar(&withContext, "context", false, "also print the assembled context")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var hand, target, operation, value string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a proposed control action",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(cmd.Context())

			proposed := control.Args{Hand: hand, Target: target, Operation: operation}
			if value != "" {
				proposed.Value = parseValueFlag(value)
			}

			normalized, err := rt.validator.Validate(proposed)
			if err != nil {
				return printJSON(map[string]any{"valid": false, "error": err.Error()})
			}
			return printJSON(map[string]any{"valid": true, "arguments": normalized})
		},
	}
	cmd.Flags().StringVar(&hand, "hand", "right", "hand: left, right, none")
	cmd.Flags().StringVar(&target, "target", "", "canonical target name")
	cmd.Flags().StringVar(&operation, "operation", "set", "operation: set, toggle")
	cmd.Flags().StringVar(&value, "value", "", "value: on/off, a number, or h=X,l=Y dimensions")
	return cmd
}

// parseValueFlag decodes the --value flag: "on"/"off", a bare number, or
// a comma-separated dimension list like "height_y_mm=4,length_z_mm=11.5".
func parseValueFlag(raw string) any {
	if strings.Contains(raw, "=") {
		dims := make(map[string]any)
		for _, pair := range strings.Split(raw, ",") {
			key, val, found := strings.Cut(pair, "=")
			if !found {
				continue
			}
			dims[strings.TrimSpace(key)] = strings.TrimSpace(val)
		}
		return dims
	}
	return raw
}
