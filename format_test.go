package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes), "bytes=%d", tt.bytes)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m3s", formatDuration(2*time.Minute+3*time.Second))
}

func TestFormatTimeZero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-", formatTime(time.Time{}))
}

func TestPrintTable(t *testing.T) {
	t.Parallel()

	var sb strings.Builder

	printTable(&sb, []string{"NAME", "STATUS"}, [][]string{
		{"report.docx", "success"},
		{"x.xls", "failed"},
	})

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	assert.Len(t, lines, 3)

	// Columns align on the widest cell.
	assert.Equal(t, "NAME         STATUS", strings.TrimRight(lines[0], " "))
	assert.Equal(t, "report.docx  success", strings.TrimRight(lines[1], " "))
	assert.Equal(t, "x.xls        failed", strings.TrimRight(lines[2], " "))
}

func TestFirstLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "top", firstLine("top\nrest\nmore"))
	assert.Equal(t, "single", firstLine("single"))
}
