package mimemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantSource string
		wantTarget string
		wantOK     bool
	}{
		{
			name:       "docx maps to google document",
			path:       "report.docx",
			wantSource: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			wantTarget: GoogleDocument,
			wantOK:     true,
		},
		{
			name:       "legacy doc maps to google document",
			path:       "memo.doc",
			wantSource: "application/msword",
			wantTarget: GoogleDocument,
			wantOK:     true,
		},
		{
			name:       "xlsx maps to google spreadsheet",
			path:       "budget.xlsx",
			wantSource: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			wantTarget: GoogleSpreadsheet,
			wantOK:     true,
		},
		{
			name:       "ppt maps to google presentation",
			path:       "deck.ppt",
			wantSource: "application/vnd.ms-powerpoint",
			wantTarget: GooglePresentation,
			wantOK:     true,
		},
		{
			name:   "extension match is case-insensitive",
			path:   "REPORT.DOCX",
			wantOK: true,
		},
		{
			name:   "full path is accepted",
			path:   "/srv/input/q3/slides.pptx",
			wantOK: true,
		},
		{
			name:   "pdf is not convertible",
			path:   "already.pdf",
			wantOK: false,
		},
		{
			name:   "no extension",
			path:   "README",
			wantOK: false,
		},
		{
			name:   "dotfile with no real extension",
			path:   ".docx",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := Lookup(tt.path)
			require.Equal(t, tt.wantOK, ok)

			if tt.wantSource != "" {
				assert.Equal(t, tt.wantSource, f.SourceMIME)
			}

			if tt.wantTarget != "" {
				assert.Equal(t, tt.wantTarget, f.TargetMIME)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.xls"))
	assert.False(t, Supported("a.txt"))
}

func TestExtensionsCoversAllFormats(t *testing.T) {
	exts := Extensions()
	assert.Len(t, exts, 6)
	assert.Contains(t, exts, ".docx")
	assert.Contains(t, exts, ".xlsx")
	assert.Contains(t, exts, ".pptx")
}
