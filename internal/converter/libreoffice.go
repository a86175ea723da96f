package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrProtected  = errors.New("document is password protected")
	ErrTimeout    = errors.New("conversion timed out")
	ErrConversion = errors.New("conversion failed")
)

// LibreOffice converts office documents to PDF with a headless soffice per job.
type LibreOffice struct {
	binary    string
	timeout   time.Duration
	semaphore chan struct{}
}

// NewLibreOffice creates a converter that runs at most maxWorkers conversions at once.
func NewLibreOffice(binary string, maxWorkers int, timeout time.Duration) *LibreOffice {
	if binary == "" {
		binary = "libreoffice"
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &LibreOffice{binary: binary, timeout: timeout, semaphore: make(chan struct{}, maxWorkers)}
}

func (l *LibreOffice) Binary() string { return l.binary }

// Version runs --version; it doubles as the installation check.
func (l *LibreOffice) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, l.binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("LibreOffice not found in PATH: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Convert turns an office document into PDF bytes.
func (l *LibreOffice) Convert(ctx context.Context, name string, data []byte) ([]byte, error) {
	start := time.Now()
	select {
	case l.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.semaphore }()

	// Unique work and profile dirs so parallel soffice instances never share state
	workDir, err := os.MkdirTemp("", "flipbook_convert_")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)
	profileDir := filepath.Join(workDir, "profile_"+uuid.New().String())
	outDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	base := sanitize(name)
	input := filepath.Join(workDir, base)
	if err := os.WriteFile(input, data, 0o644); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, l.binary,
		fmt.Sprintf("-env:UserInstallation=file://%s", profileDir),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		input,
	)
	cmd.WaitDelay = 5 * time.Second
	log.Debug().Str("cmd", strings.Join(cmd.Args, " ")).Msg("LibreOffice command")

	output, err := cmd.CombinedOutput()
	if cctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %v", ErrTimeout, l.timeout)
	}
	if err != nil {
		if isProtected(output) {
			return nil, ErrProtected
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrConversion, err, trim(output))
	}

	pdfPath := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".pdf")
	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		if isProtected(output) {
			return nil, ErrProtected
		}
		return nil, fmt.Errorf("%w: output file not created: %v", ErrConversion, err)
	}
	log.Info().Str("input", name).Int("bytes", len(pdf)).Dur("duration", time.Since(start)).Msg("conversion successful")
	return pdf, nil
}

func isProtected(output []byte) bool {
	s := strings.ToLower(string(output))
	return strings.Contains(s, "password") || strings.Contains(s, "encrypted") || strings.Contains(s, "protected")
}

func trim(output []byte) string {
	s := string(bytes.TrimSpace(output))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// sanitize keeps the extension soffice needs for format detection and drops any path.
func sanitize(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if ext == "" {
		ext = ".bin"
	}
	return "input" + ext
}

// SupportedExtensions returns a list of file extensions supported for conversion
func SupportedExtensions() []string {
	return []string{
		"doc", "docx", "rtf", "odt", // Word processing
		"xls", "xlsx", "ods", // Spreadsheets
		"ppt", "pptx", "odp", // Presentations
	}
}

// IsSupported checks if a file extension is supported for conversion
func IsSupported(extension string) bool {
	ext := strings.ToLower(strings.TrimPrefix(extension, "."))
	for _, s := range SupportedExtensions() {
		if ext == s {
			return true
		}
	}
	return false
}
