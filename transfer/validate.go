package transfer

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/samber/lo"
)

// Default validation limits.
const (
	DefaultMaxFileSize       = 10 * units.MiB
	DefaultMaxDocumentSize   = 25 * units.MiB
	DefaultMaxFileNameLength = 255
)

// ViolationCode identifies which check a Violation comes from.
type ViolationCode string

// Violation codes, in the order Validate reports them.
const (
	ViolationSize            ViolationCode = "size"
	ViolationUnsupportedType ViolationCode = "unsupported_type"
	ViolationNameTooLong     ViolationCode = "name_too_long"
	ViolationEmpty           ViolationCode = "empty"
)

// Violation is a human readable reason why a file can't be uploaded.
type Violation struct {
	Code    ViolationCode
	Message string
}

func (v Violation) String() string {
	return v.Message
}

// Limits configures Validate.
type Limits struct {
	// MaxFileSize applies to every file that is not a document format.
	MaxFileSize int64
	// MaxDocumentSize applies to PDF and Word documents.
	MaxDocumentSize   int64
	MaxFileNameLength int

	MediaTypes         []string
	Extensions         []string
	DocumentMediaTypes []string
	DocumentExtensions []string
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:       DefaultMaxFileSize,
		MaxDocumentSize:   DefaultMaxDocumentSize,
		MaxFileNameLength: DefaultMaxFileNameLength,
		MediaTypes: []string{
			"text/plain",
			"text/markdown",
			"text/csv",
			"text/html",
			"text/xml",
			"application/json",
			"application/xml",
			"application/x-yaml",
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"image/png",
			"image/jpeg",
			"image/gif",
			"image/webp",
		},
		Extensions: []string{
			".txt", ".md", ".csv", ".json", ".xml", ".yaml", ".yml", ".html", ".log",
			".py", ".go", ".js", ".ts", ".java", ".c", ".cpp", ".sql", ".sh",
			".pdf", ".doc", ".docx",
			".png", ".jpg", ".jpeg", ".gif", ".webp",
		},
		DocumentMediaTypes: []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		},
		DocumentExtensions: []string{".pdf", ".doc", ".docx"},
	}
}

// IsDocument reports whether src is subject to the document size limit.
func (l Limits) IsDocument(src Source) bool {
	return lo.Contains(l.DocumentMediaTypes, src.MediaType) || lo.Contains(l.DocumentExtensions, src.Extension())
}

// SizeLimit returns the maximum accepted size for src.
func (l Limits) SizeLimit(src Source) int64 {
	if l.IsDocument(src) {
		return l.MaxDocumentSize
	}
	return l.MaxFileSize
}

// Validate checks src against limits and returns every violation found.
// An empty result means the file can be uploaded.
func Validate(src Source, limits Limits) []Violation {
	var violations []Violation

	if limit := limits.SizeLimit(src); src.Size > limit {
		violations = append(violations, Violation{
			Code: ViolationSize,
			Message: fmt.Sprintf("%s is %s, the maximum allowed size is %s",
				src.Name, units.BytesSize(float64(src.Size)), units.BytesSize(float64(limit))),
		})
	}

	if !isSupported(src, limits) {
		kind := src.Extension()
		if kind == "" {
			kind = src.MediaType
		}
		if kind == "" {
			kind = "unknown"
		}
		violations = append(violations, Violation{
			Code:    ViolationUnsupportedType,
			Message: fmt.Sprintf("%s has an unsupported file type (%s)", src.Name, kind),
		})
	}

	if n := len([]rune(src.Name)); n > limits.MaxFileNameLength {
		violations = append(violations, Violation{
			Code:    ViolationNameTooLong,
			Message: fmt.Sprintf("file name is %d characters long, the maximum is %d", n, limits.MaxFileNameLength),
		})
	}

	if src.Size == 0 {
		violations = append(violations, Violation{
			Code:    ViolationEmpty,
			Message: fmt.Sprintf("%s is empty", src.Name),
		})
	}

	return violations
}

func isSupported(src Source, limits Limits) bool {
	if src.MediaType != "" && lo.Contains(limits.MediaTypes, src.MediaType) {
		return true
	}
	ext := src.Extension()
	return ext != "" && lo.ContainsBy(limits.Extensions, func(e string) bool {
		return strings.EqualFold(e, ext)
	})
}
