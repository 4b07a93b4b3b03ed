// Package validate checks staged attachment metadata against configured
// constraints before persistence is allowed. Failures accumulate as field
// errors; nothing here blocks the lifecycle directly.
package validate

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/attachkit/attachkit/internal/model"
)

// FieldError names one constraint violation on one attachment field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// Errors is the accumulated validation result. A nil or empty Errors means
// the attachment may be committed.
type Errors []FieldError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether any error was recorded for field.
func (e Errors) Has(field string) bool {
	for _, fe := range e {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Rules holds the configured constraints for one record type.
type Rules struct {
	// MinSize/MaxSize bound the staged byte length. MaxSize of zero means
	// unbounded.
	MinSize int64
	MaxSize int64

	// ContentTypes is the allow-list. Empty allows all types. The single
	// entry ":image" expands to the built-in recognized image MIME set.
	ContentTypes []string
}

// AllowsType reports whether contentType passes the allow-list.
func (r Rules) AllowsType(contentType string) bool {
	if len(r.ContentTypes) == 0 {
		return true
	}
	for _, allowed := range r.ContentTypes {
		if allowed == ":image" {
			if model.ImageTypes[contentType] {
				return true
			}
			continue
		}
		if allowed == contentType {
			return true
		}
	}
	return false
}

// Attachment validates the required fields, size range and content type of
// a staged attachment. Size must already be computed from the current
// staged source.
func Attachment(a *model.Attachment, r Rules) Errors {
	var errs Errors
	if a.Filename == "" {
		errs = append(errs, FieldError{Field: "filename", Message: "cannot be empty"})
	}
	if a.ContentType == "" {
		errs = append(errs, FieldError{Field: "content_type", Message: "cannot be empty"})
	}
	if a.Size <= 0 {
		errs = append(errs, FieldError{Field: "size", Message: "cannot be empty"})
	} else {
		if a.Size < r.MinSize {
			errs = append(errs, FieldError{
				Field:   "size",
				Message: fmt.Sprintf("is below the minimum of %d bytes", r.MinSize),
			})
		}
		if r.MaxSize > 0 && a.Size > r.MaxSize {
			errs = append(errs, FieldError{
				Field:   "size",
				Message: fmt.Sprintf("exceeds the maximum of %d bytes", r.MaxSize),
			})
		}
	}
	if a.ContentType != "" && !r.AllowsType(a.ContentType) {
		errs = append(errs, FieldError{
			Field:   "content_type",
			Message: fmt.Sprintf("%s is not allowed", a.ContentType),
		})
	}
	return errs
}

// SniffContentType resolves a usable MIME type for an upload. The declared
// type wins unless it is missing or the generic octet-stream, in which case
// the leading bytes are sniffed.
func SniffContentType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(data).String()
}
