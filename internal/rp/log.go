package rp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// Multipart field names expected by the batch log endpoint.
const (
	JSONPartName = "json_request_part"
	FilePartName = "file"
)

// DefaultAttachmentMIME is used for attachments without a content type.
const DefaultAttachmentMIME = "application/octet-stream"

// LogScope provides operations on log entries within a project.
type LogScope struct {
	project *ProjectScope
}

// Save sends a single log entry without attachment and returns its uuid.
// Uses POST /api/v2/{project}/log.
func (s *LogScope) Save(ctx context.Context, rq SaveLogRQ) (string, error) {
	var rs EntryCreatedRS
	if err := s.project.client.doJSON(ctx, "POST", s.project.v2("log"), "save log", rq, &rs); err != nil {
		return "", err
	}
	if rs.ID == "" {
		return "", &EntryCreatedError{Operation: "save log", Body: "missing id"}
	}
	return rs.ID, nil
}

// SaveBatch sends entries as one multipart request: a JSON array part plus
// one file part per attachment. A malformed or incomplete acknowledgement is
// returned as *OperationCompletionError.
// Uses POST /api/v2/{project}/log (multipart/form-data).
func (s *LogScope) SaveBatch(ctx context.Context, entries []SaveLogRQ, files []FilePart) (*BatchSaveOperatingRS, error) {
	const op = "save log batch"

	contentType, body, err := encodeBatch(entries, files)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var rs BatchSaveOperatingRS
	err = s.project.client.do(ctx, "POST", s.project.v2("log"), op, contentType, bytes.NewReader(body), &rs)
	if err != nil {
		var respErr *ResponseError
		if errors.As(err, &respErr) && respErr.Malformed() {
			return nil, &OperationCompletionError{Operation: op, Err: err}
		}
		return nil, err
	}
	if rs.Responses == nil || len(rs.Responses) != len(entries) {
		return nil, &OperationCompletionError{
			Operation: op,
			Body:      fmt.Sprintf("%d responses for %d entries", len(rs.Responses), len(entries)),
		}
	}
	return &rs, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeBatch(entries []SaveLogRQ, files []FilePart) (string, []byte, error) {
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", nil, fmt.Errorf("marshal entries: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, JSONPartName))
	h.Set("Content-Type", "application/json")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return "", nil, fmt.Errorf("create json part: %w", err)
	}
	if _, err := pw.Write(payload); err != nil {
		return "", nil, fmt.Errorf("write json part: %w", err)
	}

	for _, f := range files {
		mime := f.MIME
		if mime == "" {
			mime = DefaultAttachmentMIME
		}
		fh := textproto.MIMEHeader{}
		fh.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, FilePartName, quoteEscaper.Replace(f.Name)))
		fh.Set("Content-Type", mime)
		fw, err := mw.CreatePart(fh)
		if err != nil {
			return "", nil, fmt.Errorf("create file part %q: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Content); err != nil {
			return "", nil, fmt.Errorf("write file part %q: %w", f.Name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", nil, fmt.Errorf("close multipart: %w", err)
	}
	return mw.FormDataContentType(), buf.Bytes(), nil
}
