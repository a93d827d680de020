package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTest(mode OutputMode, tty bool) (*Renderer, *bytes.Buffer, *bytes.Buffer) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return NewRendererWithTTY(out, errOut, tty, mode), out, errOut
}

func TestMode(t *testing.T) {
	tests := []struct {
		in   string
		want OutputMode
	}{
		{"", ModeAuto},
		{"auto", ModeAuto},
		{"TEXT", ModeText},
		{" markdown ", ModeMarkdown},
		{"json", ModeJSON},
		{"yaml", ModeAuto},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Mode(tt.in))
		})
	}
}

func TestEffectiveMode(t *testing.T) {
	r, _, _ := newTest(ModeAuto, true)
	assert.Equal(t, ModeText, r.EffectiveMode())

	r, _, _ = newTest(ModeAuto, false)
	assert.Equal(t, ModeMarkdown, r.EffectiveMode())

	r, _, _ = newTest(ModeJSON, true)
	assert.Equal(t, ModeJSON, r.EffectiveMode())
}

func TestMarkdownOutput(t *testing.T) {
	r, out, errOut := newTest(ModeMarkdown, false)

	r.Header(1, "Variants")
	r.KeyValue("Status", "ACTIVE")
	r.Success("done")
	r.Warning("careful")

	assert.Contains(t, out.String(), "# Variants\n")
	assert.Contains(t, out.String(), "- **Status:** ACTIVE")
	assert.Contains(t, out.String(), "**OK:** done")
	assert.Contains(t, errOut.String(), "**Warning:** careful")
	assert.Equal(t, "`DSCR-A`", r.ID("DSCR-A"))
}

func TestTextOutputWithoutColor(t *testing.T) {
	r, out, _ := newTest(ModeText, false)
	r.Success("saved")
	assert.Contains(t, out.String(), "✓ saved")
	assert.NotContains(t, out.String(), "\x1b[")
}

func TestTable(t *testing.T) {
	t.Run("markdown", func(t *testing.T) {
		r, out, _ := newTest(ModeMarkdown, false)
		r.Table([]string{"Key", "Value"}, [][]string{{"F1", "1.2"}})
		assert.Contains(t, out.String(), "| Key | Value |")
		assert.Contains(t, out.String(), "| F1 | 1.2 |")
	})

	t.Run("text", func(t *testing.T) {
		r, out, _ := newTest(ModeText, true)
		r.Table([]string{"Key", "Value"}, [][]string{{"F1", "1.2"}})
		assert.Contains(t, out.String(), "┌")
		assert.Contains(t, out.String(), "F1")
	})
}

func TestJSON(t *testing.T) {
	r, out, _ := newTest(ModeJSON, false)
	require.NoError(t, r.JSON(map[string]int{"count": 2}))
	assert.Equal(t, "{\n  \"count\": 2\n}\n", out.String())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "## Lineage", FormatHeader(2, "Lineage"))
	assert.Equal(t, "# X", FormatHeader(0, "X"))
	assert.Equal(t, "- **Unit:** ratio", FormatKeyValue("Unit", "ratio"))
	assert.Equal(t, "- a\n- b\n", FormatList([]string{"a", "b"}))
	assert.Equal(t, "Weighted Average", Title("WEIGHTED_AVERAGE"))
	assert.True(t, strings.HasPrefix(Title("sum"), "S"))
}
