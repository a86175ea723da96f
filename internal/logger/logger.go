package logger

import (
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "flipbook"

// Options defines logger initialization parameters.
type Options struct {
    Level  string
    Pretty bool
    File   FileOptions
    Axiom  AxiomOptions

    // Out overrides stdout; used by tests.
    Out io.Writer
}

// FileOptions enables a rotating JSON log file when Path is set.
type FileOptions struct {
    Path       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool
}

// AxiomOptions forwards events at or above MinLevel to an Axiom dataset.
type AxiomOptions struct {
    Enabled  bool
    Token    string
    OrgID    string
    Dataset  string
    Flush    time.Duration
    MinLevel zerolog.Level
}

var (
    mu      sync.Mutex
    closers []io.Closer
)

// Init builds the global logger. Every event carries the service name; console output is
// used when Pretty is set, JSON otherwise.
func Init(opts Options) error {
    Close()

    var writers []io.Writer
    if opts.File.Path != "" {
        if err := os.MkdirAll(filepath.Dir(opts.File.Path), 0o755); err != nil {
            return fmt.Errorf("create logs dir: %w", err)
        }
        f := &lumberjack.Logger{
            Filename:   opts.File.Path,
            MaxSize:    opts.File.MaxSizeMB,
            MaxBackups: opts.File.MaxBackups,
            MaxAge:     opts.File.MaxAgeDays,
            Compress:   opts.File.Compress,
        }
        writers = append(writers, f)
        track(f)
    }

    out := opts.Out
    if out == nil { out = os.Stdout }
    if opts.Pretty {
        out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, FieldsExclude: []string{"service"}}
    }
    writers = append(writers, out)

    if opts.Axiom.Enabled && opts.Axiom.Token != "" {
        sink, err := newAxiomSink(opts.Axiom)
        if err != nil {
            fmt.Fprintf(os.Stderr, "axiom forwarding disabled: %v\n", err)
        } else {
            writers = append(writers, sink)
            track(sink)
        }
    }

    zerolog.TimeFieldFormat = time.RFC3339Nano
    lvl, err := zerolog.ParseLevel(opts.Level)
    if err != nil || opts.Level == "" { lvl = zerolog.InfoLevel }

    log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
        Level(lvl).
        With().Timestamp().Str("service", serviceName).
        Logger()
    return nil
}

func track(c io.Closer) {
    mu.Lock()
    closers = append(closers, c)
    mu.Unlock()
}

// Close flushes forwarders and closes the log file. Safe to call more than once.
func Close() {
    mu.Lock()
    cs := closers
    closers = nil
    mu.Unlock()
    for i := len(cs) - 1; i >= 0; i-- {
        _ = cs[i].Close()
    }
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
    return log.Logger.With().Str("component", name).Logger()
}

// Session narrows a component logger to one load session.
func Session(l zerolog.Logger, documentID string, generation uint64) zerolog.Logger {
    return l.With().Str("session_id", documentID).Uint64("generation", generation).Logger()
}
