package docx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParser(t *testing.T) {
	p, err := NewParser("")
	require.NoError(t, err)
	assert.Equal(t, ParserDOM, p.Mode())

	p, err = NewParser(ParserScan)
	require.NoError(t, err)
	assert.Equal(t, ParserScan, p.Mode())

	_, err = NewParser("sax")
	assert.Error(t, err)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "name", NormalizeName("  name\t"))
	// e + 组合重音 与 预组合 é 相同
	assert.Equal(t, "caf\u00e9", NormalizeName("cafe\u0301"))
}

func TestParser_Placeholders(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name:     "完整占位符",
			body:     para(run("Hello {{name}}, total: {{amount}}")),
			expected: []string{"name", "amount"},
		},
		{
			name:     "重复与空白",
			body:     para(run("{{ name }} and {{name}}")) + para(run("{{amount}} {{  amount}}")),
			expected: []string{"name", "amount"},
		},
		{
			name:     "跨运行拆分",
			body:     para(run("Hello {{na"), boldRun("me}}!")),
			expected: []string{"name"},
		},
		{
			name:     "转义字符",
			body:     para(run("{{A &amp; B}}")),
			expected: []string{"A & B"},
		},
		{
			name:     "区段标签",
			body:     para(run("{{#items}}")) + para(run("{{item}}")) + para(run("{{/items}}")),
			expected: []string{"items", "item"},
		},
		{
			name:     "忽略非文本标记",
			body:     para(`<w:r><w:instrText>{{notText}}</w:instrText></w:r>`, run("{{real}}")),
			expected: []string{"real"},
		},
		{
			name:     "没有占位符",
			body:     para(run("plain { text } here")),
			expected: nil,
		},
	}

	for _, tt := range tests {
		for _, parser := range []PartParser{DOMParser{}, ScanParser{}} {
			t.Run(tt.name+"/"+string(parser.Mode()), func(t *testing.T) {
				names, err := parser.Placeholders(wordDocument(tt.body))
				require.NoError(t, err)
				assert.Equal(t, tt.expected, names)
			})
		}
	}
}

func TestParser_DOMAndScanAgree(t *testing.T) {
	fixtures := []string{
		wordDocument(para(run("{{a}}"), boldRun("{{b}} {{c"), run("}}"))),
		wordDocument(para(`<w:r><w:t xml:space="preserve"> {{ spaced }} </w:t></w:r>`)),
		wordHeader(para(run("{{header}}")) + para(run("&lt;{{x}}&gt;"))),
		wordDocument(`<w:tbl><w:tr><w:tc>` + para(run("{{cell}}")) + `</w:tc></w:tr></w:tbl>`),
	}

	for _, xml := range fixtures {
		dom, err := DOMParser{}.Placeholders(xml)
		require.NoError(t, err)
		scan, err := ScanParser{}.Placeholders(xml)
		require.NoError(t, err)
		assert.Equal(t, dom, scan)

		domText, err := DOMParser{}.Text(xml)
		require.NoError(t, err)
		scanText, err := ScanParser{}.Text(xml)
		require.NoError(t, err)
		assert.Equal(t, domText, scanText)
	}
}

func TestParser_Text(t *testing.T) {
	xml := wordDocument(para(run("Hello {{na"), boldRun("me}}")) + para(run("A &amp; B")))
	for _, parser := range []PartParser{DOMParser{}, ScanParser{}} {
		text, err := parser.Text(xml)
		require.NoError(t, err)
		assert.Equal(t, "Hello {{name}}A & B", text)
	}
}

func TestDOMParser_MalformedXML(t *testing.T) {
	_, err := DOMParser{}.Placeholders("<w:document><w:body>")
	assert.Error(t, err)
}

func TestExtractPlaceholders(t *testing.T) {
	buf := simpleDocx(t, para(run("Hello {{name}}")),
		testPart{name: "word/header1.xml", content: wordHeader(para(run("{{company}} {{name}}")))},
		testPart{name: "word/footer1.xml", content: wordFooter(para(run("Page {{page}}")))},
	)
	archive, err := Open(buf)
	require.NoError(t, err)

	names, err := ExtractPlaceholders(archive, DOMParser{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "company", "page"}, names)
	assert.False(t, archive.IsModified(DocumentPart), "提取是只读的")
}

func TestExtractPlaceholders_MissingDocumentPart(t *testing.T) {
	buf := buildDocx(t, testPart{name: "[Content_Types].xml", content: testContentTypes})
	archive, err := Open(buf)
	require.NoError(t, err)

	_, err = ExtractPlaceholders(archive, ScanParser{})
	var missing *MissingDocumentPartError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, DocumentPart, missing.Part)
	assert.True(t, errors.Is(err, ErrMissingDocumentPart))
}
