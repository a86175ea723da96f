// Package intake validates uploaded documents before any rendering is attempted.
package intake

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/flipbook/internal/document"
	"github.com/local/flipbook/internal/metrics"
)

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("intake rejected")

type Reason string

const (
	ReasonEmpty       Reason = "empty"
	ReasonTooLarge    Reason = "too_large"
	ReasonUnsupported Reason = "unsupported_type"
	ReasonCorrupt     Reason = "corrupt"
	ReasonBadSource   Reason = "bad_source"
)

// RejectedError carries a message suitable for showing to the user.
type RejectedError struct {
	Reason  Reason
	Message string
}

func (e *RejectedError) Error() string        { return e.Message }
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

type Kind string

const (
	KindPDF    Kind = "pdf"
	KindOffice Kind = "office"
)

// FileInfo describes an accepted upload.
type FileInfo struct {
	Name        string
	MIMEType    string
	Extension   string
	Description string
	Kind        Kind
	Size        int64
	Pages       int // known for PDFs only
}

// Checker enforces the size limit and accepted types.
type Checker struct {
	maxBytes    int64
	allowOffice bool
	// CountPages performs the structural check on PDFs.
	CountPages func([]byte) (int, error)
}

func New(maxBytes int64, allowOffice bool) *Checker {
	return &Checker{maxBytes: maxBytes, allowOffice: allowOffice, CountPages: document.CountPages}
}

func (c *Checker) MaxBytes() int64 { return c.maxBytes }

func (c *Checker) reject(name string, reason Reason, msg string) error {
	metrics.IncIntakeRejected(string(reason))
	log.Info().Str("file", name).Str("reason", string(reason)).Msg("upload rejected")
	return &RejectedError{Reason: reason, Message: msg}
}

// Read consumes r up to the size limit and checks the result.
func (c *Checker) Read(r io.Reader, name string) ([]byte, *FileInfo, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read upload: %w", err)
	}
	info, err := c.Check(name, data)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// Check validates an upload held in memory.
func (c *Checker) Check(name string, data []byte) (*FileInfo, error) {
	if len(data) == 0 {
		return nil, c.reject(name, ReasonEmpty, "The file is empty.")
	}
	if int64(len(data)) > c.maxBytes {
		return nil, c.reject(name, ReasonTooLarge, fmt.Sprintf("The file is larger than %d MB.", c.maxBytes>>20))
	}

	info := detect(name, data)
	switch {
	case info.MIMEType == "application/pdf":
		info.Kind = KindPDF
		n, err := c.CountPages(data)
		if err != nil {
			log.Debug().Err(err).Str("file", name).Msg("pdf structural check failed")
			return nil, c.reject(name, ReasonCorrupt, "The PDF could not be read.")
		}
		info.Pages = n
	case info.Description != "" && c.allowOffice:
		info.Kind = KindOffice
	default:
		return nil, c.reject(name, ReasonUnsupported, fmt.Sprintf("Unsupported file type: %s. Please choose a PDF.", info.MIMEType))
	}
	log.Debug().Str("file", name).Str("mime", info.MIMEType).Str("kind", string(info.Kind)).Int64("size", info.Size).Msg("upload accepted")
	return info, nil
}

// officeTypes maps convertible office MIME types to descriptions.
var officeTypes = map[string]string{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "Microsoft Word document",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "Microsoft PowerPoint presentation",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "Microsoft Excel spreadsheet",
	"application/msword":                                                        "Microsoft Word document (legacy)",
	"application/vnd.ms-powerpoint":                                             "Microsoft PowerPoint presentation (legacy)",
	"application/vnd.ms-excel":                                                  "Microsoft Excel spreadsheet (legacy)",
	"application/vnd.oasis.opendocument.text":                                   "OpenDocument text",
	"application/vnd.oasis.opendocument.presentation":                           "OpenDocument presentation",
	"application/vnd.oasis.opendocument.spreadsheet":                            "OpenDocument spreadsheet",
	"application/rtf":                                                           "Rich Text Format",
}

// zipByExt and oleByExt resolve container formats that magic bytes alone cannot tell apart.
var zipByExt = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
}

var oleByExt = map[string]string{
	".doc": "application/msword",
	".xls": "application/vnd.ms-excel",
	".ppt": "application/vnd.ms-powerpoint",
}

// detect uses magic bytes, falling back to the extension only for zip and OLE containers.
func detect(name string, data []byte) *FileInfo {
	mtype := mimetype.Detect(data)
	mimeType := mtype.String()
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	ext := strings.ToLower(filepath.Ext(name))

	switch mimeType {
	case "application/zip", "application/x-zip-compressed":
		if m, ok := zipByExt[ext]; ok {
			mimeType = m
		}
	case "application/x-ole-storage", "application/x-cfb":
		if m, ok := oleByExt[ext]; ok {
			mimeType = m
		}
	}
	if mimeType != mtype.String() {
		log.Debug().Str("original", mtype.String()).Str("override", mimeType).Msg("container type resolved by extension")
	}

	info := &FileInfo{Name: name, MIMEType: mimeType, Extension: mtype.Extension(), Size: int64(len(data))}
	if mimeType == "application/pdf" {
		info.Description = "PDF document"
		info.Extension = ".pdf"
	} else if d, ok := officeTypes[mimeType]; ok {
		info.Description = d
		if ext != "" {
			info.Extension = ext
		}
	}
	return info
}
