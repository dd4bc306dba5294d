package core

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"gwi.com/neura-chat/internal/store"
)

var ErrAttachmentTooLarge = errors.New("attachment exceeds the size limit")

// EncodeAttachment reads a picked file into its base64 form. The declared type
// wins unless it is missing or generic, in which case the content is sniffed.
func EncodeAttachment(name, declaredType string, r io.Reader, maxBytes int64) (store.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return store.Attachment{}, fmt.Errorf("failed to read attachment %q: %w", name, err)
	}
	if int64(len(data)) > maxBytes {
		return store.Attachment{}, fmt.Errorf("%q: %w", name, ErrAttachmentTooLarge)
	}

	return store.Attachment{
		MIMEType: attachmentType(declaredType, data),
		Data:     base64.StdEncoding.EncodeToString(data),
		Name:     name,
	}, nil
}

// EncodeFileHeaders encodes every uploaded file in order. One failure rejects
// the whole batch.
func EncodeFileHeaders(files []*multipart.FileHeader, maxBytes int64) ([]store.Attachment, error) {
	out := make([]store.Attachment, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open attachment %q: %w", fh.Filename, err)
		}
		a, err := EncodeAttachment(fh.Filename, fh.Header.Get("Content-Type"), f, maxBytes)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func DecodeAttachment(a store.Attachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("attachment %q is not valid base64: %w", a.Name, err)
	}
	return data, nil
}

// DataURL is the inline form used to display an attachment.
func DataURL(a store.Attachment) string {
	return "data:" + a.MIMEType + ";base64," + a.Data
}

func IsImage(a store.Attachment) bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

func attachmentType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(mimetype.Detect(data).String())
	if mt == "" {
		return "application/octet-stream"
	}
	return mt
}
