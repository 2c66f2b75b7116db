package docx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	customPropertiesNamespace = "http://schemas.openxmlformats.org/officeDocument/2006/custom-properties"
	vtNamespace               = "http://schemas.openxmlformats.org/officeDocument/2006/docPropsVTypes"
	customPropertyFmtID       = "{D5CDD505-2E9C-101B-9397-08002B2CF9AE}"
	customPropertyContentType = "application/vnd.openxmlformats-officedocument.custom-properties+xml"
	customPropertyRelType     = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/custom-properties"

	contentTypesPart = "[Content_Types].xml"
	packageRelsPart  = "_rels/.rels"

	// firstPID 自定义属性的 pid 从2开始
	firstPID = 2
)

// ValueType 自定义属性的值类型标签
type ValueType string

const (
	VTString ValueType = "lpwstr"
	VTInt32  ValueType = "i4"
	VTDouble ValueType = "r8"
	VTBool   ValueType = "bool"
)

// CustomProperty 单个自定义属性
type CustomProperty struct {
	Name  string
	Value string
	// Type 读取时的原始类型，写入时总是字符串
	Type ValueType
}

// PropertyList 保持文档顺序的自定义属性列表
type PropertyList []CustomProperty

// Get 按名称查找属性值
func (l PropertyList) Get(name string) (string, bool) {
	for _, p := range l {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Set 更新已有属性或追加新属性，返回更新后的列表
func (l PropertyList) Set(name, value string) PropertyList {
	for i := range l {
		if l[i].Name == name {
			l[i].Value = value
			l[i].Type = VTString
			return l
		}
	}
	return append(l, CustomProperty{Name: name, Value: value, Type: VTString})
}

// Names 返回所有属性名
func (l PropertyList) Names() []string {
	names := make([]string, len(l))
	for i, p := range l {
		names[i] = p.Name
	}
	return names
}

// Map 转换为 名称->值 映射
func (l PropertyList) Map() map[string]string {
	m := make(map[string]string, len(l))
	for _, p := range l {
		m[p.Name] = p.Value
	}
	return m
}

// CustomPropertyManager 读写 docProps/custom.xml
type CustomPropertyManager struct {
	parser PartParser
}

// NewCustomPropertyManager 创建新的自定义属性管理器
func NewCustomPropertyManager(parser PartParser) *CustomPropertyManager {
	if parser == nil {
		parser = DOMParser{}
	}
	return &CustomPropertyManager{parser: parser}
}

// ParseCustomProperties 解析自定义属性XML
func (cpm *CustomPropertyManager) ParseCustomProperties(xmlContent string) (PropertyList, error) {
	if strings.TrimSpace(xmlContent) == "" {
		return PropertyList{}, nil
	}
	return cpm.parser.CustomProperties(xmlContent)
}

// ReadProperties 读取归档中的自定义属性，部件不存在时返回空列表
func (cpm *CustomPropertyManager) ReadProperties(archive *Archive) (PropertyList, error) {
	if !archive.Has(CustomPropertiesPart) {
		return PropertyList{}, nil
	}
	content, err := archive.ReadText(CustomPropertiesPart)
	if err != nil {
		return nil, fmt.Errorf("读取自定义属性失败: %w", err)
	}
	return cpm.ParseCustomProperties(content)
}

// GenerateCustomPropertiesXML 从头生成自定义属性XML，pid 按列表顺序从2开始
func (cpm *CustomPropertyManager) GenerateCustomPropertiesXML(props PropertyList) (string, error) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	b.WriteString(`<Properties xmlns="` + customPropertiesNamespace + `" xmlns:vt="` + vtNamespace + `">`)

	for i, prop := range props {
		if prop.Name == "" {
			return "", &PropertyWriteError{Cause: fmt.Errorf("第 %d 个属性名称为空", i+1)}
		}
		if err := validateXMLText(prop.Name); err != nil {
			return "", &PropertyWriteError{Property: prop.Name, Cause: fmt.Errorf("名称%w", err)}
		}
		if err := validateXMLText(prop.Value); err != nil {
			return "", &PropertyWriteError{Property: prop.Name, Cause: fmt.Errorf("值%w", err)}
		}

		fmt.Fprintf(&b, `<property fmtid="%s" pid="%d" name="%s"><vt:lpwstr>%s</vt:lpwstr></property>`,
			customPropertyFmtID, firstPID+i, escapeXML(prop.Name), escapeXML(prop.Value))
	}

	b.WriteString(`</Properties>`)
	return b.String(), nil
}

// WriteProperties 整体重写 docProps/custom.xml，不做增量修补
func (cpm *CustomPropertyManager) WriteProperties(archive *Archive, props PropertyList) error {
	content, err := cpm.GenerateCustomPropertiesXML(props)
	if err != nil {
		return err
	}

	created := !archive.Has(CustomPropertiesPart)
	archive.WriteText(CustomPropertiesPart, content)

	if created {
		if err := registerCustomPropertiesPart(archive); err != nil {
			return &PropertyWriteError{Cause: err}
		}
	}
	return nil
}

// ApplyValues 把新值合并进现有属性并写回
func (cpm *CustomPropertyManager) ApplyValues(archive *Archive, values map[string]string, order []string) (PropertyList, error) {
	props, err := cpm.ReadProperties(archive)
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		value, ok := values[name]
		if !ok {
			continue
		}
		props = props.Set(name, value)
	}
	if err := cpm.WriteProperties(archive, props); err != nil {
		return nil, err
	}
	return props, nil
}

var relIDPattern = regexp.MustCompile(`Id="rId(\d+)"`)

// registerCustomPropertiesPart 首次创建 custom.xml 时补上内容类型与包关系
func registerCustomPropertiesPart(archive *Archive) error {
	if archive.Has(contentTypesPart) {
		types, err := archive.ReadText(contentTypesPart)
		if err != nil {
			return fmt.Errorf("读取内容类型失败: %w", err)
		}
		if !strings.Contains(types, `PartName="/`+CustomPropertiesPart+`"`) {
			override := `<Override PartName="/` + CustomPropertiesPart + `" ContentType="` + customPropertyContentType + `"/>`
			if idx := strings.LastIndex(types, "</Types>"); idx >= 0 {
				archive.WriteText(contentTypesPart, types[:idx]+override+types[idx:])
			}
		}
	}

	if archive.Has(packageRelsPart) {
		rels, err := archive.ReadText(packageRelsPart)
		if err != nil {
			return fmt.Errorf("读取包关系失败: %w", err)
		}
		if !strings.Contains(rels, `Target="`+CustomPropertiesPart+`"`) {
			next := 1
			for _, m := range relIDPattern.FindAllStringSubmatch(rels, -1) {
				if n, err := strconv.Atoi(m[1]); err == nil && n >= next {
					next = n + 1
				}
			}
			rel := fmt.Sprintf(`<Relationship Id="rId%d" Type="%s" Target="%s"/>`, next, customPropertyRelType, CustomPropertiesPart)
			if idx := strings.LastIndex(rels, "</Relationships>"); idx >= 0 {
				archive.WriteText(packageRelsPart, rels[:idx]+rel+rels[idx:])
			}
		}
	}
	return nil
}
