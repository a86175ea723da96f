package statuscheck

import (
    "context"
    "errors"
    "os/exec"
    "time"
)

// Pinger models the minimal capability we need from a remote dependency.
type Pinger interface {
    Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker aggregates health checks for external dependencies used by the viewer.
type Checker struct {
    redis         Pinger
    s3            Pinger
    s3Bucket      string
    libreOffice   string
    officeEnabled bool
    speech        string
    renderEngine  string
    lookPath      func(string) (string, error)
}

// Options configures the Checker. Nil pingers report the dependency as not configured.
type Options struct {
    Redis         Pinger
    S3            Pinger
    S3Bucket      string
    LibreOffice   string
    OfficeEnabled bool
    Speech        string
    RenderEngine  string
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Redis       Status `json:"redis"`
    S3          Status `json:"s3"`
    LibreOffice Status `json:"libreoffice"`
    Speech      Status `json:"speech"`
    MuPDF       Status `json:"mupdf"`
}

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    return &Checker{
        redis:         opts.Redis,
        s3:            opts.S3,
        s3Bucket:      opts.S3Bucket,
        libreOffice:   opts.LibreOffice,
        officeEnabled: opts.OfficeEnabled,
        speech:        opts.Speech,
        renderEngine:  opts.RenderEngine,
        lookPath:      exec.LookPath,
    }
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    return Summary{
        Redis:       c.checkRedis(ctx),
        S3:          c.checkS3(ctx),
        LibreOffice: c.checkLibreOffice(),
        Speech:      c.checkSpeech(),
        MuPDF:       c.checkMuPDF(),
    }
}

func (c *Checker) checkRedis(ctx context.Context) Status {
    if c.redis == nil {
        return Status{OK: false, Message: "Not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.redis.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
    if c.s3 == nil || c.s3Bucket == "" {
        return Status{OK: false, Message: "Bucket not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := c.s3.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkLibreOffice() Status {
    if !c.officeEnabled {
        return Status{OK: false, Message: "Office intake disabled"}
    }
    if _, err := c.lookPath(c.libreOffice); err != nil {
        return Status{OK: false, Message: "Binary not found"}
    }
    return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkSpeech() Status {
    if _, err := c.lookPath(c.speech); err != nil {
        return Status{OK: false, Message: "Binary not found"}
    }
    return Status{OK: true, Message: "Available"}
}

// MuPDF is linked in through go-fitz, so only the engine wiring is checked.
func (c *Checker) checkMuPDF() Status {
    if c.renderEngine == "" {
        return Status{OK: false, Message: "Render engine missing"}
    }
    return Status{OK: true, Message: "Embedded (" + c.renderEngine + ")"}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
