package orchestrator

import (
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/rs/zerolog/log"
)

// CleanupTemps removes files created by this service older than maxAge: upload copies in
// uploadDir and conversion work dirs left in the system temp dir by killed processes.
func CleanupTemps(uploadDir string, maxAge time.Duration) int {
    now := time.Now()
    removed := 0
    if entries, err := os.ReadDir(uploadDir); err == nil {
        for _, e := range entries {
            if e.IsDir() || !strings.HasPrefix(e.Name(), uploadPrefix) { continue }
            info, err := e.Info()
            if err != nil || now.Sub(info.ModTime()) < maxAge { continue }
            if os.Remove(filepath.Join(uploadDir, e.Name())) == nil { removed++ }
        }
    }
    if entries, err := os.ReadDir(os.TempDir()); err == nil {
        for _, e := range entries {
            if !e.IsDir() || !strings.HasPrefix(e.Name(), "flipbook_convert_") { continue }
            info, err := e.Info()
            if err != nil || now.Sub(info.ModTime()) < maxAge { continue }
            if os.RemoveAll(filepath.Join(os.TempDir(), e.Name())) == nil { removed++ }
        }
    }
    if removed > 0 { log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("temp cleanup") }
    return removed
}
