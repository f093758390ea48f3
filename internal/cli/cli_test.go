package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ta-content-pipeline/internal/service"
	"ta-content-pipeline/pkg/token"
)

const testConfig = `
log:
  level: error
chunking:
  max_chunk_tokens: 6
  overlap_tokens: 2
  min_chunk_tokens: 1
jwt:
  secret: cli-test-secret
  token_expire_hours: 1
`

const testUnits = `[
  {"id": "u1", "subject": "math", "grade_band": "3-5", "title": "Fractions",
   "topic_path": ["number", "fractions"], "full_text": "## Halves\na half is one of two equal parts"},
  {"id": "u2", "subject": "math", "grade_band": "3-5", "full_text": "missing title"}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "preview", "publish", "token"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestPreviewCmd_ListsChunks(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfig)
	input := writeFile(t, "units.json", testUnits)

	out, err := execute(t, "preview", "-c", cfgPath, input)
	require.NoError(t, err)
	assert.Contains(t, out, "chunking: max=6 overlap=2 min=1")
	assert.Contains(t, out, "u1#0")
	assert.Contains(t, out, "number/fractions")
	assert.Contains(t, out, "skipped #1")
	assert.Contains(t, out, "2 units")
}

func TestPreviewCmd_JSON(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfig)
	input := writeFile(t, "units.json", testUnits)
	defer func() { previewJSON = false }()

	out, err := execute(t, "preview", "-c", cfgPath, "--json", input)
	require.NoError(t, err)

	var result service.PreviewResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result.Chunks)
	for i, c := range result.Chunks {
		assert.Equal(t, "u1", c.ContentUnitID)
		assert.Equal(t, i, c.ChunkIndex)
		assert.LessOrEqual(t, c.Words, 6)
	}
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, 6, result.Config.MaxChunkTokens)
}

func TestPreviewCmd_MissingInput(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfig)

	_, err := execute(t, "preview", "-c", cfgPath, filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestTokenCmd_MintsVerifiableToken(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", testConfig)
	defer func() {
		tokenService = "cli"
		tokenScopes = []string{token.ScopeIngest, token.ScopeRunRead}
	}()

	out, err := execute(t, "token", "-c", cfgPath, "--service", "extractor", "--scope", token.ScopeIngest)
	require.NoError(t, err)

	claims, err := token.NewJWTManager("cli-test-secret", 1).VerifyToken(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, "extractor", claims.Service)
	assert.True(t, claims.HasScope(token.ScopeIngest))
	assert.False(t, claims.HasScope(token.ScopeRunRead))
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", "log:\n  level: error\n")

	_, err := execute(t, "token", "-c", cfgPath)
	assert.Error(t, err)
}
