package orchestrator

import (
    "fmt"
    "io"
    "os"
    "path/filepath"

    "github.com/oklog/ulid/v2"
)

// uploadPrefix marks files written by saveUpload; CleanupTemps only touches those.
const uploadPrefix = "upload_"

// saveUpload keeps a copy of an accepted upload under dir and returns its path.
func saveUpload(dir, name string, data []byte) (string, error) {
    if err := os.MkdirAll(dir, 0o755); err != nil { return "", err }
    p := filepath.Join(dir, fmt.Sprintf("%s%s_%s", uploadPrefix, ulid.Make().String(), filepath.Base(name)))
    if err := os.WriteFile(p, data, 0o644); err != nil { return "", err }
    return p, nil
}

// readUpload runs r through intake and keeps a copy of accepted data.
func (o *Orchestrator) readUpload(name string, r io.Reader) (string, []byte, error) {
    if name == "" { name = "upload.pdf" }
    data, _, err := o.deps.Intake.Read(r, name)
    if err != nil { return name, nil, err }
    if _, err := saveUpload(o.deps.UploadDir, name, data); err != nil {
        o.log.Warn().Err(err).Str("name", name).Msg("could not keep upload copy")
    }
    return name, data, nil
}
