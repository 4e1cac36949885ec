package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	gethlog "github.com/ethereum/go-ethereum/log"
)

const (
	VM         = "vm"         // instruction execution
	Journal    = "journal"    // delta journal
	Checkpoint = "checkpoint" // checkpoint index
	TimeTravel = "timetravel" // controller navigation
	Debugger   = "debugger"   // breakpoints, console, remote sessions
	Storage    = "storage"    // leveldb archive
	Tracing    = "trace"      // jsonl step traces
	CLI        = "cli"
)

var root atomic.Value

func init() {
	root.Store(NewLogger(gethlog.DiscardHandler()))
}

func ParseLevel(lvl string) (slog.Level, error) {
	switch strings.ToUpper(lvl) {
	case "MAX", "MAXVERBOSITY":
		return levelMaxVerbosity, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRIT", "CRITICAL":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid level: %s", lvl)
	}
}

// InitLogger installs a terminal logger on stderr as the root logger.
func InitLogger(logLevel string) {
	if err := InitLoggerTo(os.Stderr, logLevel, false); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
}

// InitLoggerTo installs a root logger writing to w, as JSON lines when asJSON
// is set and as colourless terminal output otherwise.
func InitLoggerTo(w io.Writer, logLevel string, asJSON bool) error {
	logLvl, err := ParseLevel(logLevel)
	if err != nil {
		return err
	}
	if asJSON {
		SetDefault(NewLogger(gethlog.JSONHandlerWithLevel(w, logLvl)))
	} else {
		SetDefault(NewLogger(gethlog.NewTerminalHandlerWithLevel(w, logLvl, w == os.Stderr)))
	}
	return nil
}

// SetDefault sets the default global logger
func SetDefault(l Logger) {
	root.Store(l)
}

// Root returns the root logger
func Root() Logger {
	return root.Load().(Logger)
}

var defaultKnownModules = []string{VM, Journal, Checkpoint, TimeTravel, Debugger, Storage, Tracing, CLI}

// per-step execution logging is noisy; vm starts disabled
var defaultModuleEnabled = []string{Journal, Checkpoint, TimeTravel, Debugger, Storage, Tracing, CLI}

// --- Module management ---
var (
	moduleMu      sync.RWMutex
	moduleEnabled = initModules(defaultKnownModules, defaultModuleEnabled)
)

func initModules(moduleList []string, enabled []string) map[string]bool {
	moduleMap := make(map[string]bool, len(moduleList))
	for _, module := range moduleList {
		moduleMap[module] = false
	}
	for _, module := range enabled {
		moduleMap[module] = true
	}
	return moduleMap
}

// EnableModule enables trace and debug logging for the specified module.
func EnableModule(module string) {
	moduleMu.Lock()
	defer moduleMu.Unlock()
	moduleEnabled[module] = true
}

// DisableModule disables trace and debug logging for the specified module.
func DisableModule(module string) {
	moduleMu.Lock()
	defer moduleMu.Unlock()
	moduleEnabled[module] = false
}

// EnableModules parses a comma separated module list; "all" enables every known module.
func EnableModules(list string) {
	for _, m := range strings.Split(list, ",") {
		m = strings.TrimSpace(m)
		switch m {
		case "":
		case "all":
			for _, known := range defaultKnownModules {
				EnableModule(known)
			}
		default:
			EnableModule(m)
		}
	}
}

func isModuleEnabled(module string) bool {
	moduleMu.RLock()
	defer moduleMu.RUnlock()
	enabled, ok := moduleEnabled[module]
	return ok && enabled
}

// Trace logs a message at the trace level for a specific module.
func Trace(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(LevelTrace, module, msg, ctx...)
}

// Debug logs a message at the debug level for a specific module.
func Debug(module string, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Write(slog.LevelDebug, module, msg, ctx...)
}

// The rest of the logging functions (Info, Warn, Error, Crit) dont filter on module
func Info(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelInfo, module, msg, ctx...)
}

func Warn(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelWarn, module, msg, ctx...)
}

func Error(module string, msg string, ctx ...interface{}) {
	Root().Write(slog.LevelError, module, msg, ctx...)
}

func Crit(module string, msg string, ctx ...interface{}) {
	Root().Write(LevelCrit, module, msg, ctx...)
	os.Exit(1)
}

func New(ctx ...interface{}) Logger {
	return Root().With(ctx...)
}
