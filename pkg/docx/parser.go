package docx

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/unicode/norm"
)

// ParserMode 选择XML解析实现
type ParserMode string

const (
	// ParserDOM 基于DOM的结构化解析
	ParserDOM ParserMode = "dom"
	// ParserScan 不依赖DOM的正则扫描
	ParserScan ParserMode = "scan"
)

// PartParser 从部件XML中提取占位符与自定义属性。
// 两种实现对格式正确的输入必须给出相同结果。
type PartParser interface {
	Mode() ParserMode
	// Text 按文档顺序拼接所有 w:t 的文本
	Text(xmlContent string) (string, error)
	// Placeholders 返回部件中去重后的占位符名称，按首次出现顺序
	Placeholders(xmlContent string) ([]string, error)
	// CustomProperties 解析 docProps/custom.xml
	CustomProperties(xmlContent string) (PropertyList, error)
}

// NewParser 按模式创建解析器，空模式默认DOM
func NewParser(mode ParserMode) (PartParser, error) {
	switch mode {
	case ParserDOM, "":
		return DOMParser{}, nil
	case ParserScan:
		return ScanParser{}, nil
	default:
		return nil, fmt.Errorf("未知的解析模式: %s", mode)
	}
}

// placeholderPattern 在重建后的文本上匹配 {{name}}
var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// NormalizeName 规范化字段名：去掉首尾空白并转为NFC
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// collectPlaceholders 从重建文本中收集占位符名称
func collectPlaceholders(text string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		name := NormalizeName(m[1])
		if name != "" && strings.ContainsAny(name[:1], "#^/") {
			name = NormalizeName(name[1:])
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// valueTypePriority 属性值类型的尝试顺序
var valueTypePriority = []ValueType{VTString, VTInt32, VTDouble, VTBool}

// DOMParser 使用 etree 做结构化解析
type DOMParser struct{}

// Mode 实现 PartParser
func (DOMParser) Mode() ParserMode { return ParserDOM }

// Text 实现 PartParser
func (DOMParser) Text(xmlContent string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlContent); err != nil {
		return "", fmt.Errorf("解析部件XML失败: %w", err)
	}

	var text strings.Builder
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if e.Space == "w" && e.Tag == "t" {
			text.WriteString(e.Text())
			return
		}
		for _, child := range e.ChildElements() {
			walk(child)
		}
	}
	if root := doc.Root(); root != nil {
		walk(root)
	}
	return text.String(), nil
}

// Placeholders 实现 PartParser
func (p DOMParser) Placeholders(xmlContent string) ([]string, error) {
	text, err := p.Text(xmlContent)
	if err != nil {
		return nil, err
	}
	return collectPlaceholders(text), nil
}

// CustomProperties 实现 PartParser
func (DOMParser) CustomProperties(xmlContent string) (PropertyList, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlContent); err != nil {
		return nil, fmt.Errorf("解析自定义属性XML失败: %v", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, nil
	}

	var props PropertyList
	for _, el := range root.ChildElements() {
		if el.Tag != "property" {
			continue
		}
		name := el.SelectAttrValue("name", "")
		if name == "" {
			continue
		}
		for _, vt := range valueTypePriority {
			if child := findChild(el, "vt", string(vt)); child != nil {
				props = append(props, CustomProperty{Name: name, Value: child.Text(), Type: vt})
				break
			}
		}
	}
	return props, nil
}

func findChild(el *etree.Element, space, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Space == space && child.Tag == tag {
			return child
		}
	}
	return nil
}

// ScanParser 不依赖DOM，直接扫描XML文本
type ScanParser struct{}

var (
	textNodePattern    = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	propertyPattern    = regexp.MustCompile(`(?s)<property\b([^>]*?)(?:/>|>(.*?)</property>)`)
	nameAttrPattern    = regexp.MustCompile(`\bname\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	valuePatterns      = make(map[ValueType]*regexp.Regexp)
	emptyValuePatterns = make(map[ValueType]*regexp.Regexp)
)

func init() {
	for _, vt := range valueTypePriority {
		valuePatterns[vt] = regexp.MustCompile(`(?s)<vt:` + string(vt) + `(?:\s[^>]*)?>(.*?)</vt:` + string(vt) + `>`)
		emptyValuePatterns[vt] = regexp.MustCompile(`<vt:` + string(vt) + `(?:\s[^>]*)?/>`)
	}
}

// Mode 实现 PartParser
func (ScanParser) Mode() ParserMode { return ParserScan }

// Text 实现 PartParser
func (ScanParser) Text(xmlContent string) (string, error) {
	var text strings.Builder
	for _, m := range textNodePattern.FindAllStringSubmatch(xmlContent, -1) {
		text.WriteString(html.UnescapeString(m[1]))
	}
	return text.String(), nil
}

// Placeholders 实现 PartParser
func (p ScanParser) Placeholders(xmlContent string) ([]string, error) {
	text, _ := p.Text(xmlContent)
	return collectPlaceholders(text), nil
}

// CustomProperties 实现 PartParser
func (ScanParser) CustomProperties(xmlContent string) (PropertyList, error) {
	var props PropertyList
	for _, m := range propertyPattern.FindAllStringSubmatch(xmlContent, -1) {
		attrs := nameAttrPattern.FindStringSubmatch(m[1])
		if attrs == nil {
			continue
		}
		name := html.UnescapeString(attrs[1] + attrs[2])
		if name == "" || m[2] == "" {
			continue
		}
		for _, vt := range valueTypePriority {
			if vm := valuePatterns[vt].FindStringSubmatch(m[2]); vm != nil {
				props = append(props, CustomProperty{Name: name, Value: html.UnescapeString(vm[1]), Type: vt})
				break
			}
			if emptyValuePatterns[vt].MatchString(m[2]) {
				props = append(props, CustomProperty{Name: name, Type: vt})
				break
			}
		}
	}
	return props, nil
}
