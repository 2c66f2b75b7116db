package docx

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

// escapeXML 转义XML特殊字符
func escapeXML(text string) string {
	return xmlEscaper.Replace(text)
}

// validateXMLText 检查文本能否原样写入XML 1.0
func validateXMLText(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("包含无效的UTF-8序列")
	}
	for i, r := range text {
		if !isXMLChar(r) {
			return fmt.Errorf("位置 %d 包含XML不允许的字符 %U", i, r)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}
