package cmd

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allanpk716/docmerge/internal/config"
	"github.com/allanpk716/docmerge/internal/processor"
	"github.com/allanpk716/docmerge/pkg/docx"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// writeDocx 写入只含一个段落的最小文档
func writeDocx(t *testing.T, path, text string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	parts := []struct{ name, content string }{
		{"[Content_Types].xml", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/></Types>`},
		{"_rels/.rels", `<?xml version="1.0" encoding="UTF-8" standalone="yes"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`},
		{docx.DocumentPart, `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p></w:body></w:document>`},
		{"word/_rels/document.xml.rels", `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`},
	}
	for _, p := range parts {
		f, err := w.Create(p.name)
		require.NoError(t, err)
		_, err = f.Write([]byte(p.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func readDocumentText(t *testing.T, path string) string {
	t.Helper()
	reader, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()
	for _, f := range reader.File {
		if f.Name == docx.DocumentPart {
			rc, err := f.Open()
			require.NoError(t, err)
			defer rc.Close()
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			text, err := docx.DOMParser{}.Text(string(data))
			require.NoError(t, err)
			return text
		}
	}
	t.Fatalf("%s 中缺少 %s", path, docx.DocumentPart)
	return ""
}

func newTestProcessor(t *testing.T) *processor.Processor {
	t.Helper()
	cfg := config.Default()
	opts, err := BuildProcessorOptions(&cfg, NewLogger(io.Discard, cfg.Processing, &CommandLineArgs{}))
	require.NoError(t, err)
	p, err := processor.NewProcessor(opts)
	require.NoError(t, err)
	return p
}

func TestProcessSingleFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "offer.docx")
	output := filepath.Join(dir, "out", "offer_merged.docx")
	writeDocx(t, input, "Hello {{name}}")

	var out bytes.Buffer
	err := ProcessSingleFile(context.Background(), newTestProcessor(t), input, output, map[string]string{"name": "Ana"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "Hello Ana", readDocumentText(t, output))
	assert.Contains(t, out.String(), "✓")
}

func TestProcessSingleFile_LegacyDocument(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "old.doc")
	require.NoError(t, os.WriteFile(input, append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...), 0644))

	var out bytes.Buffer
	err := ProcessSingleFile(context.Background(), newTestProcessor(t), input, filepath.Join(dir, "x.docx"), nil, &out)
	assert.True(t, errors.Is(err, errLegacyDocument))
	assert.NoFileExists(t, filepath.Join(dir, "x.docx"))
}

func TestProcessBatchFiles(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	outDir := filepath.Join(dir, "out")
	writeDocx(t, filepath.Join(in, "a.docx"), "A {{name}}")
	writeDocx(t, filepath.Join(in, "sub", "b.docx"), "B {{name}}")
	require.NoError(t, os.WriteFile(filepath.Join(in, "~$a.docx"), []byte("lock"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("x"), 0644))

	var out bytes.Buffer
	err := ProcessBatchFiles(context.Background(), newTestProcessor(t), in, outDir, map[string]string{"name": "Ana"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "A Ana", readDocumentText(t, filepath.Join(outDir, "a.docx")))
	assert.Equal(t, "B Ana", readDocumentText(t, filepath.Join(outDir, "sub", "b.docx")))
	assert.Contains(t, out.String(), "[2/2]")
}

func TestProcessBatchFiles_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	outDir := filepath.Join(dir, "out")
	writeDocx(t, filepath.Join(in, "good.docx"), "{{name}}")
	require.NoError(t, os.WriteFile(filepath.Join(in, "broken.docx"), []byte("not a zip"), 0644))

	var out bytes.Buffer
	err := ProcessBatchFiles(context.Background(), newTestProcessor(t), in, outDir, map[string]string{"name": "Ana"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1/2")

	assert.Equal(t, "Ana", readDocumentText(t, filepath.Join(outDir, "good.docx")))
	assert.NoFileExists(t, filepath.Join(outDir, "broken.docx"))
	assert.Contains(t, out.String(), "broken.docx")
}

func TestProcessBatchFiles_EmptyDir(t *testing.T) {
	err := ProcessBatchFiles(context.Background(), newTestProcessor(t), t.TempDir(), t.TempDir(), nil, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFindDocxFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.docx", "a.DOCX", "~$a.docx", "old.doc", "x.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	docs, legacy, err := FindDocxFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.DOCX"), filepath.Join(dir, "b.docx")}, docs)
	assert.Equal(t, []string{filepath.Join(dir, "old.doc")}, legacy)
}

func TestInspectFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.docx")
	b := filepath.Join(dir, "b.docx")
	writeDocx(t, a, "{{client}} {{client}} {{only_a}}")
	writeDocx(t, b, "{{client}}")

	var out bytes.Buffer
	require.NoError(t, InspectFiles(context.Background(), newTestProcessor(t), []string{a, b}, &out))

	text := out.String()
	assert.Contains(t, text, "{{client}}")
	assert.Contains(t, text, "placeholder")
	assert.Contains(t, text, "共享")
	assert.Contains(t, text, "only_a")
}

func TestInitConfigFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "offer.docx")
	writeDocx(t, input, "{{name}} {{amount}}")
	configPath := filepath.Join(dir, "offer.toml")

	manager := config.NewConfigManager()
	require.NoError(t, InitConfigFile(context.Background(), newTestProcessor(t), manager, input, configPath, &bytes.Buffer{}))

	cfg, err := manager.LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "offer", cfg.ProjectName)
	require.Len(t, cfg.Fields, 2)
	assert.Equal(t, "name", cfg.Fields[0].Key)
	assert.Equal(t, "offer.docx", cfg.Fields[0].SourceFile)
}

func TestMergeValues(t *testing.T) {
	values := MergeValues(map[string]string{"name": "file", " city ": "x"}, map[string]string{"name": "flag"})
	assert.Equal(t, map[string]string{"name": "flag", "city": "x"}, values)
}

func TestLoadConfiguration(t *testing.T) {
	manager := config.NewConfigManager()

	cfg, err := LoadConfiguration(manager, &CommandLineArgs{ConfigFile: filepath.Join(t.TempDir(), "missing.json")})
	require.NoError(t, err)
	assert.Equal(t, config.Default().Processing.OutputSuffix, cfg.Processing.OutputSuffix)

	_, err = LoadConfiguration(manager, &CommandLineArgs{ConfigFile: filepath.Join(t.TempDir(), "missing.json"), ConfigExplicit: true})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	pc := config.Default().Processing

	logger := NewLogger(&buf, pc, &CommandLineArgs{LogFormat: "json"})
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	NewLogger(&buf, pc, &CommandLineArgs{Verbose: true}).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
