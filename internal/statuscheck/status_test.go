package statuscheck

import (
    "context"
    "errors"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestSummary(t *testing.T) {
    c := New(Options{
        Redis:         PingFunc(func(context.Context) error { return nil }),
        S3:            PingFunc(func(context.Context) error { return errors.New("403 Forbidden") }),
        S3Bucket:      "books",
        LibreOffice:   "soffice",
        OfficeEnabled: true,
        Speech:        "espeak-ng",
        RenderEngine:  "mupdf",
    })
    c.lookPath = func(name string) (string, error) {
        if name == "espeak-ng" {
            return "/usr/bin/espeak-ng", nil
        }
        return "", errors.New("not found")
    }

    s := c.Summary(context.Background())
    assert.Equal(t, Status{OK: true, Message: "Connected"}, s.Redis)
    assert.Equal(t, Status{OK: false, Message: "403 Forbidden"}, s.S3)
    assert.Equal(t, Status{OK: false, Message: "Binary not found"}, s.LibreOffice)
    assert.True(t, s.Speech.OK)
    assert.Equal(t, "Embedded (mupdf)", s.MuPDF.Message)
}

func TestSummaryUnconfigured(t *testing.T) {
    s := New(Options{}).Summary(context.Background())
    assert.Equal(t, "Not configured", s.Redis.Message)
    assert.Equal(t, "Bucket not configured", s.S3.Message)
    assert.Equal(t, "Office intake disabled", s.LibreOffice.Message)
    assert.False(t, s.MuPDF.OK)
}

func TestTrimError(t *testing.T) {
    assert.Equal(t, "timeout", trimError(timeoutErr{}))
    assert.Len(t, trimError(errors.New(strings.Repeat("x", 300))), 120)
    assert.Empty(t, trimError(nil))
}
