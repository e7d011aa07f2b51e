package reporting

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"rpreport/internal/rp"
)

// LogRecord is one log entry. ItemUUID empty means a launch-level log.
type LogRecord struct {
	Time       time.Time
	Message    string
	Level      rp.LogLevel
	ItemUUID   string
	Attachment *Attachment
}

// Attachment is a named binary payload carried by a log record. Its bytes
// are held in memory so a retried flush sends the same content.
type Attachment struct {
	Name string
	Data []byte
	MIME string
}

// BytesAttachment copies data into an attachment.
func BytesAttachment(name string, data []byte, mimeType string) *Attachment {
	return &Attachment{Name: name, Data: append([]byte(nil), data...), MIME: mimeType}
}

// ReaderAttachment drains r once into an attachment.
func ReaderAttachment(name string, r io.Reader, mimeType string) (*Attachment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read attachment %q: %w", name, err)
	}
	return &Attachment{Name: name, Data: data, MIME: mimeType}, nil
}

// TextAttachment wraps inline content under a random name with the
// default MIME type.
func TextAttachment(content string) *Attachment {
	return &Attachment{Name: uuid.NewString(), Data: []byte(content), MIME: rp.DefaultAttachmentMIME}
}

// FileAttachment reads the file at path. The MIME type comes from the
// extension, falling back to content sniffing.
func FileAttachment(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &Attachment{Name: filepath.Base(path), Data: data, MIME: mimeType}, nil
}

// settled returns a copy with a name and MIME type filled in.
func (a *Attachment) settled() *Attachment {
	out := *a
	if out.Name == "" {
		out.Name = uuid.NewString()
	}
	if out.MIME == "" {
		out.MIME = rp.DefaultAttachmentMIME
	}
	return &out
}
