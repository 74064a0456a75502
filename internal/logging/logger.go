// Package logging provides categorized file-based logging for citeScout.
// Logs are written to .scout/logs/ with a separate file per category.
// Logging is off until Configure is called with Enabled=true, so library
// consumers that never configure it pay nothing.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and configuration
	CategoryHTTP         Category = "http"         // Rate-limited HTTP client
	CategorySources      Category = "sources"      // Source adapters
	CategoryPressure     Category = "pressure"     // Backpressure manager
	CategoryRouter       Category = "router"       // Query classification
	CategoryPlanner      Category = "planner"      // LLM research planning
	CategoryOrchestrator Category = "orchestrator" // Query fan-out and collection
	CategoryDedup        Category = "dedup"        // Deduplication
	CategoryEnrich       Category = "enrich"       // Metadata enrichment
	CategoryQuality      Category = "quality"      // Quality filter / validator
	CategoryStore        Category = "store"        // Citation database
	CategoryCompiler     Category = "compiler"     // Placeholder compilation
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Options controls logging behavior. Zero value disables all output.
type Options struct {
	Enabled    bool
	Level      string          // debug, info, warn, error
	Dir        string          // log directory; default .scout/logs
	Categories map[string]bool // nil = all categories enabled
}

// Logger writes to one category's file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	mu       sync.RWMutex
	opts     Options
	logLevel = LevelInfo
	loggers  = make(map[Category]*Logger)
)

// Configure sets global logging options. Call once at startup after the
// configuration is loaded. Safe to call again (e.g. in tests).
func Configure(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	if !o.Enabled {
		return nil
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Join(".scout", "logs")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// Enabled reports whether a category would produce output.
func Enabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabledLocked(category)
}

func enabledLocked(category Category) bool {
	if !opts.Enabled {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	on, found := opts.Categories[string(category)]
	return !found || on
}

// Get returns (or creates) the logger for a category. Disabled categories
// get a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if !enabledLocked(category) {
		mu.RUnlock()
		return &Logger{category: category}
	}
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// CloseAll closes all open log files. Call at shutdown.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error. Always written when the category is enabled.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without getting a logger first.
// No-ops when the category is disabled.
// =============================================================================

func Boot(format string, args ...interface{})  { Get(CategoryBoot).Info(format, args...) }
func HTTP(format string, args ...interface{})  { Get(CategoryHTTP).Info(format, args...) }
func HTTPDebug(format string, args ...interface{}) {
	Get(CategoryHTTP).Debug(format, args...)
}
func Sources(format string, args ...interface{}) { Get(CategorySources).Info(format, args...) }
func SourcesDebug(format string, args ...interface{}) {
	Get(CategorySources).Debug(format, args...)
}
func SourcesWarn(format string, args ...interface{}) {
	Get(CategorySources).Warn(format, args...)
}
func Pressure(format string, args ...interface{}) { Get(CategoryPressure).Info(format, args...) }
func PressureDebug(format string, args ...interface{}) {
	Get(CategoryPressure).Debug(format, args...)
}
func Router(format string, args ...interface{}) { Get(CategoryRouter).Debug(format, args...) }
func Planner(format string, args ...interface{}) {
	Get(CategoryPlanner).Info(format, args...)
}
func PlannerWarn(format string, args ...interface{}) {
	Get(CategoryPlanner).Warn(format, args...)
}
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}
func OrchestratorWarn(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Warn(format, args...)
}
func Dedup(format string, args ...interface{})  { Get(CategoryDedup).Info(format, args...) }
func Enrich(format string, args ...interface{}) { Get(CategoryEnrich).Info(format, args...) }
func EnrichWarn(format string, args ...interface{}) {
	Get(CategoryEnrich).Warn(format, args...)
}
func Quality(format string, args ...interface{}) { Get(CategoryQuality).Info(format, args...) }
func Store(format string, args ...interface{})   { Get(CategoryStore).Info(format, args...) }
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}
func Compiler(format string, args ...interface{}) { Get(CategoryCompiler).Info(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures an operation's duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
