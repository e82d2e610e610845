// Package upload checks candidate image files before they are accepted into
// a job.
package upload

import (
	"fmt"
	"mime"
	"mime/multipart"
	"strings"
)

// MaxFileSize is the default per-file ceiling in bytes.
const MaxFileSize int64 = 50 << 20

// AllowedTypes is the media type allow-list. image/jpg is not registered but
// some browsers send it.
var AllowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/tiff": {},
}

// Rejection explains why a single file was refused.
type Rejection struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// Validator applies the type and size rules. The zero value uses MaxFileSize.
type Validator struct {
	MaxFileBytes int64
}

func (v Validator) limit() int64 {
	if v.MaxFileBytes <= 0 {
		return MaxFileSize
	}
	return v.MaxFileBytes
}

// Check returns an error describing why the file is unacceptable, or nil.
func (v Validator) Check(filename, contentType string, size int64) error {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if _, ok := AllowedTypes[mediaType]; !ok {
		return fmt.Errorf("%s is not a supported image format", filename)
	}
	if size > v.limit() {
		return fmt.Errorf("%s exceeds %s size limit", filename, formatSize(v.limit()))
	}
	return nil
}

func formatSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%dB", n)
}

// Partition splits files into those that pass Check and those that do not.
// Both results keep input order.
func (v Validator) Partition(files []*multipart.FileHeader) ([]*multipart.FileHeader, []Rejection) {
	accepted := make([]*multipart.FileHeader, 0, len(files))
	var rejected []Rejection
	for _, fh := range files {
		if err := v.Check(fh.Filename, fh.Header.Get("Content-Type"), fh.Size); err != nil {
			rejected = append(rejected, Rejection{Filename: fh.Filename, Reason: err.Error()})
			continue
		}
		accepted = append(accepted, fh)
	}
	return accepted, rejected
}

// Reasons joins rejection reasons for a single error message.
func Reasons(rejected []Rejection) string {
	parts := make([]string, len(rejected))
	for i, r := range rejected {
		parts[i] = r.Reason
	}
	return strings.Join(parts, "; ")
}
