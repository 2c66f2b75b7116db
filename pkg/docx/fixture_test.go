package docx

import (
	"archive/zip"
	"bytes"
	"html"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/><Default Extension="xml" ContentType="application/xml"/><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`

	testPackageRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/></Relationships>`

	testDocumentRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"><Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/></Relationships>`
)

// testPart 测试文档中的一个条目
type testPart struct {
	name    string
	content string
}

// buildDocx 在内存中构造docx，条目按给定顺序写入
func buildDocx(t *testing.T, parts ...testPart) []byte {
	t.Helper()

	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	for _, p := range parts {
		writer, err := zipWriter.Create(p.name)
		require.NoError(t, err)
		_, err = writer.Write([]byte(p.content))
		require.NoError(t, err)
	}
	require.NoError(t, zipWriter.Close())
	return buf.Bytes()
}

// simpleDocx 带内容类型与包关系的最小文档
func simpleDocx(t *testing.T, body string, extra ...testPart) []byte {
	t.Helper()
	parts := []testPart{
		{name: "[Content_Types].xml", content: testContentTypes},
		{name: "_rels/.rels", content: testPackageRels},
		{name: DocumentPart, content: wordDocument(body)},
		{name: "word/_rels/document.xml.rels", content: testDocumentRels},
	}
	return buildDocx(t, append(parts, extra...)...)
}

// wordDocument 把段落包装成 document.xml
func wordDocument(body string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body + `</w:body></w:document>`
}

// wordHeader 页眉部件
func wordHeader(body string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:hdr xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` + body + `</w:hdr>`
}

// wordFooter 页脚部件
func wordFooter(body string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<w:ftr xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` + body + `</w:ftr>`
}

// para 由若干运行组成的段落
func para(runs ...string) string {
	return `<w:p>` + strings.Join(runs, "") + `</w:p>`
}

// run 普通文本运行
func run(text string) string {
	return `<w:r><w:t>` + text + `</w:t></w:r>`
}

// boldRun 带格式的运行
func boldRun(text string) string {
	return `<w:r w:rsidR="00A1"><w:rPr><w:b/><w:sz w:val="24"/></w:rPr><w:t xml:space="preserve">` + text + `</w:t></w:r>`
}

// customPropsXML 构造 docProps/custom.xml
func customPropsXML(props ...string) string {
	return `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n" +
		`<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/custom-properties" xmlns:vt="http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes">` +
		strings.Join(props, "") + `</Properties>`
}

// stringProp 字符串类型属性
func stringProp(pid int, name, value string) string {
	return `<property fmtid="{D5CDD505-2E9C-101B-9397-08002B2CF9AE}" pid="` + strconv.Itoa(pid) + `" name="` + name + `"><vt:lpwstr>` + value + `</vt:lpwstr></property>`
}

var visibleTextPattern = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)

// visibleText 按阅读顺序拼接部件中的文本
func visibleText(xmlContent string) string {
	var b strings.Builder
	for _, m := range visibleTextPattern.FindAllStringSubmatch(xmlContent, -1) {
		b.WriteString(html.UnescapeString(m[1]))
	}
	return b.String()
}

// readPart 从输出缓冲区读取条目
func readPart(t *testing.T, buf []byte, name string) string {
	t.Helper()
	archive, err := Open(buf)
	require.NoError(t, err)
	content, err := archive.ReadText(name)
	require.NoError(t, err)
	return content
}
