package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"citescout/internal/citation"
	"citescout/internal/compile"
	"citescout/internal/config"
	"citescout/internal/httpclient"
	"citescout/internal/logging"
	"citescout/internal/orchestrator"
	"citescout/internal/planner"
	"citescout/internal/pressure"
	"citescout/internal/quality"
	"citescout/internal/sources"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "citeScout - concurrent citation research and compilation",
	Long: `citeScout researches citations for a draft topic across scholarly
catalogs, grounded web search, and SERP fallback, deduplicates and
quality-filters the results into a typed citation database, and compiles
{cite_NNN} placeholders in drafts into formatted citations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return logging.Configure(logging.Options{
			Enabled:    true,
			Level:      level,
			Dir:        cfg.Logging.Dir,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// researchCmd runs a full research pass for a topic
var researchCmd = &cobra.Command{
	Use:   "research [topic]",
	Short: "Research citations for a topic into a citation database",
	Long: `Plans research queries for the topic, fans them out across the
configured source adapters under backpressure control, then deduplicates,
enriches, and quality-filters the results.

Example:
  scout research "edge computing in manufacturing" --target 50 --out citations.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

var (
	targetMin  int
	scope      string
	seeds      []string
	style      string
	language   string
	outPath    string
	reportPath string
)

// compileCmd resolves citation placeholders in a draft
var compileCmd = &cobra.Command{
	Use:   "compile [draft.md]",
	Short: "Resolve {cite_NNN} placeholders and render the reference list",
	Long: `Replaces {cite_NNN} placeholders with in-text citations in the
database's citation style, researches {cite_MISSING:topic} placeholders,
and writes the reference list. The draft is rewritten in place unless
--out is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

var (
	dbPath          string
	compileOut      string
	researchMissing bool
)

// validateCmd checks an existing database against the quality filter
var validateCmd = &cobra.Command{
	Use:   "validate [citations.json]",
	Short: "Run quality checks against an existing citation database",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var (
	applyRemovals bool
	checkDOI      bool
	checkURL      bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "scout.yaml", "configuration file")

	researchCmd.Flags().IntVar(&targetMin, "target", 50, "minimum citations to collect")
	researchCmd.Flags().StringVar(&scope, "scope", "", "scope hint for the planner")
	researchCmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed references (repeatable)")
	researchCmd.Flags().StringVar(&style, "style", "APA7", "citation style (APA7, IEEE, Chicago, MLA)")
	researchCmd.Flags().StringVar(&language, "language", "en", "draft language")
	researchCmd.Flags().StringVar(&outPath, "out", "citations.json", "citation database output path")
	researchCmd.Flags().StringVar(&reportPath, "report", "", "also write a markdown research report")

	compileCmd.Flags().StringVar(&dbPath, "db", "citations.json", "citation database path")
	compileCmd.Flags().StringVar(&compileOut, "out", "", "output path (default: rewrite in place)")
	compileCmd.Flags().BoolVar(&researchMissing, "research", true, "research {cite_MISSING:...} placeholders")

	validateCmd.Flags().BoolVar(&applyRemovals, "apply", false, "write the filtered database back")
	validateCmd.Flags().BoolVar(&checkDOI, "check-doi", false, "probe DOI liveness")
	validateCmd.Flags().BoolVar(&checkURL, "check-url", false, "probe URL liveness")

	rootCmd.AddCommand(researchCmd, compileCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildStack wires the shared client, adapters, planner, and orchestrator.
func buildStack(ctx context.Context) (*orchestrator.Orchestrator, error) {
	press := pressure.NewManager(cfg.Pressure, nil)
	client := httpclient.New(cfg.HTTP, press)

	adapters := []sources.Adapter{
		sources.NewCrossref(client, cfg.Sources.CrossrefRPS),
		sources.NewSERP(client, cfg.Sources),
	}
	if cfg.Sources.EnableSemantic {
		adapters = append(adapters, sources.NewSemanticScholar(client, cfg.Sources.SemanticScholarRPS))
	}

	var llm planner.LLMPlanner
	if cfg.Planner.APIKey != "" {
		grounded, err := sources.NewGeminiGrounded(ctx, cfg.Planner.APIKey, cfg.Planner.Model)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, sources.NewGroundedWeb(grounded, cfg.Sources.GroundedWebRPS))

		gp, err := planner.NewGeminiPlanner(ctx, cfg.Planner)
		if err != nil {
			return nil, err
		}
		llm = gp
	} else {
		logger.Warn("GEMINI_API_KEY not set; grounded web search disabled, using fallback planner")
	}

	reg := sources.NewRegistry(adapters...)
	builder := planner.NewBuilder(cfg.Planner, llm)
	return orchestrator.New(*cfg, reg, press, client, builder), nil
}

func runResearch(cmd *cobra.Command, args []string) error {
	topic := strings.Join(args, " ")
	runID := uuid.NewString()
	logger.Info("Starting research run",
		zap.String("run_id", runID),
		zap.String("topic", topic),
		zap.Int("target", targetMin))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	orch, err := buildStack(ctx)
	if err != nil {
		return err
	}

	res, err := orch.Research(ctx, orchestrator.Request{
		Topic:     topic,
		Scope:     scope,
		Seeds:     seeds,
		TargetMin: targetMin,
		Style:     citation.CitationStyle(style),
		Language:  language,
	})
	if res != nil && res.DB.Len() > 0 {
		// Partial results are written even when the gate fails.
		if saveErr := res.DB.Save(outPath); saveErr != nil {
			logger.Error("Failed to save database", zap.Error(saveErr))
		}
	}
	if err != nil {
		if res != nil {
			printFailedQueries(res)
		}
		return err
	}

	fmt.Printf("Collected %d citations (gate: %s) -> %s\n", res.DB.Len(), res.Gate, outPath)
	for _, name := range sortedKeys(res.SourcesBreakdown) {
		fmt.Printf("  %-16s %d\n", name, res.SourcesBreakdown[name])
	}
	if len(res.FailedQueries) > 0 {
		fmt.Printf("  %d queries failed\n", len(res.FailedQueries))
	}

	if reportPath != "" {
		if err := os.WriteFile(reportPath, []byte(res.Report(topic)), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report written to %s\n", reportPath)
	}
	return nil
}

func printFailedQueries(res *orchestrator.Result) {
	fmt.Fprintf(os.Stderr, "Run ended at %d citations (gate: %s). Failed queries:\n",
		res.DB.Len(), res.Gate)
	for _, fq := range res.FailedQueries {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", fq.Query, fq.Reason)
	}
}

func runCompile(cmd *cobra.Command, args []string) error {
	draftPath := args[0]
	draft, err := os.ReadFile(draftPath)
	if err != nil {
		return fmt.Errorf("failed to read draft: %w", err)
	}

	db, err := citation.Load(dbPath)
	if err != nil {
		return fmt.Errorf("failed to load citation database: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var researcher compile.Researcher
	if researchMissing {
		orch, err := buildStack(ctx)
		if err != nil {
			return err
		}
		researcher = orch
	}

	res, err := compile.New(db, researcher).Compile(ctx, string(draft))
	if err != nil {
		return err
	}

	out := compileOut
	if out == "" {
		out = draftPath
	}
	if err := os.WriteFile(out, []byte(res.Text), 0o644); err != nil {
		return fmt.Errorf("failed to write compiled draft: %w", err)
	}
	if len(res.ResearchedTopics) > 0 {
		// Newly researched records must survive for the next compile.
		if err := db.Save(dbPath); err != nil {
			return fmt.Errorf("failed to save database: %w", err)
		}
	}

	fmt.Printf("Compiled %s -> %s\n", draftPath, out)
	if len(res.ResearchedTopics) > 0 {
		fmt.Printf("  researched: %s\n", strings.Join(res.ResearchedTopics, "; "))
	}
	for _, id := range res.MissingIDs {
		fmt.Printf("  missing: %s\n", id)
	}
	for _, topic := range res.FailedTopics {
		fmt.Printf("  unresolved: %s\n", topic)
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	db, err := citation.Load(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	qcfg := cfg.Quality
	qcfg.CheckDOILive = checkDOI
	qcfg.CheckURLLive = checkURL
	var client *httpclient.Client
	if checkDOI || checkURL {
		client = httpclient.New(cfg.HTTP, nil)
	}

	f := quality.NewFilter(qcfg, client)
	issues, removed := f.FilterAll(ctx, db)

	for _, is := range issues {
		fmt.Printf("%-8s %s %s: %s\n", is.Severity, is.CitationID, is.Type, is.Message)
	}
	fmt.Printf("%d citations checked, %d issues, %d failing\n",
		db.Len()+len(removed), len(issues), len(removed))

	if applyRemovals && len(removed) > 0 {
		if err := db.Save(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s and saved %s\n", strings.Join(removed, ", "), args[0])
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
