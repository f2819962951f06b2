// Package mimemap maps office document extensions to the MIME types used
// when uploading to Google Drive: the source type declared on the media
// part and the native Google type Drive converts the upload into. It is a
// leaf package imported by both convert/ and drive/ consumers.
package mimemap

import (
	"path/filepath"
	"strings"
)

// Google-native document MIME types. A file uploaded with one of these as
// its target type is reinterpreted by Drive as an editable cloud document,
// which is what makes the PDF export possible.
const (
	GoogleDocument     = "application/vnd.google-apps.document"
	GoogleSpreadsheet  = "application/vnd.google-apps.spreadsheet"
	GooglePresentation = "application/vnd.google-apps.presentation"
)

// ExportPDF is the MIME type requested from the Drive export endpoint.
const ExportPDF = "application/pdf"

// Format describes how one source extension is uploaded: the MIME type of
// the local file and the Google-native type to convert it into.
type Format struct {
	SourceMIME string
	TargetMIME string
}

// byExtension holds the supported office formats keyed by lowercase
// extension (including the leading dot).
var byExtension = map[string]Format{
	".doc": {
		SourceMIME: "application/msword",
		TargetMIME: GoogleDocument,
	},
	".docx": {
		SourceMIME: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		TargetMIME: GoogleDocument,
	},
	".ppt": {
		SourceMIME: "application/vnd.ms-powerpoint",
		TargetMIME: GooglePresentation,
	},
	".pptx": {
		SourceMIME: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		TargetMIME: GooglePresentation,
	},
	".xls": {
		SourceMIME: "application/vnd.ms-excel",
		TargetMIME: GoogleSpreadsheet,
	},
	".xlsx": {
		SourceMIME: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		TargetMIME: GoogleSpreadsheet,
	},
}

// Lookup returns the upload format for the given file path, matched by
// extension (case-insensitive). The second return value reports whether
// the extension is supported.
func Lookup(path string) (Format, bool) {
	base := filepath.Base(path)

	ext := filepath.Ext(base)
	if ext == base {
		// Dotfiles like ".docx" have no stem and are not documents.
		return Format{}, false
	}

	f, ok := byExtension[strings.ToLower(ext)]

	return f, ok
}

// Supported reports whether the file's extension maps to a convertible
// office format.
func Supported(path string) bool {
	_, ok := Lookup(path)
	return ok
}

// Extensions returns the supported extensions in no particular order.
// Used for help text and the status command.
func Extensions() []string {
	exts := make([]string, 0, len(byExtension))
	for ext := range byExtension {
		exts = append(exts, ext)
	}

	return exts
}
