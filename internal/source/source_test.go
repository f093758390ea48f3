package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-content-pipeline/internal/model"
)

const enrichedSample = `[
  {
    "id": "math-6-ratios-01",
    "type": "lesson",
    "subject": "math",
    "grade_band": "6-8",
    "topic_path": ["ratios", "unit-rates"],
    "title": "Unit Rates",
    "summary": "Rates per one unit.",
    "full_text": "## Intro\nA unit rate compares a quantity to one unit.",
    "source_file": "math/ratios/unit-rates.md",
    "learning_objectives": ["compute unit rates"]
  },
  {
    "id": "broken",
    "subject": "math"
  }
]`

func TestDecode_IgnoresUnknownFieldsAndKeepsInvalidUnits(t *testing.T) {
	units, err := Decode(strings.NewReader(enrichedSample))
	require.NoError(t, err)
	require.Len(t, units, 2)

	u := units[0]
	assert.Equal(t, "math-6-ratios-01", u.ID)
	assert.Equal(t, []string{"ratios", "unit-rates"}, u.TopicPath)
	assert.Equal(t, "lesson", u.Type)
	assert.Equal(t, "math/ratios/unit-rates.md", u.SourceFile)
	assert.NoError(t, u.Validate())

	var ve *model.InputValidationError
	assert.ErrorAs(t, units[1].Validate(), &ve)
}

func TestDecode_RejectsNonArray(t *testing.T) {
	_, err := DecodeBytes([]byte(`{"id":"x"}`))
	assert.Error(t, err)

	_, err = DecodeBytes([]byte(`not json`))
	assert.Error(t, err)
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enriched_content.json")
	require.NoError(t, os.WriteFile(path, []byte(enrichedSample), 0o644))

	units, err := FileLoader{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, units, 2)

	_, err = FileLoader{Path: filepath.Join(t.TempDir(), "missing.json")}.Load(context.Background())
	assert.Error(t, err)
}

func TestStaticLoader(t *testing.T) {
	in := StaticLoader{{ID: "a"}}
	units, err := in.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.ContentUnit{{ID: "a"}}, units)
}
