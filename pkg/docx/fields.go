package docx

import "fmt"

// FieldKind 字段分类
type FieldKind int

const (
	// FieldPlaceholder 正文中的 {{name}} 占位符
	FieldPlaceholder FieldKind = iota
	// FieldCustomProperty docProps/custom.xml 中的自定义属性
	FieldCustomProperty
)

func (k FieldKind) String() string {
	switch k {
	case FieldPlaceholder:
		return "placeholder"
	case FieldCustomProperty:
		return "custom-property"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Field 带分类的字段
type Field struct {
	Name string
	Kind FieldKind
}

// FieldSet 提取时确定的有序字段集合，处理过程中分类不变
type FieldSet struct {
	fields []Field
	index  map[string]int
}

// NewFieldSet 合并占位符与自定义属性。同名时按自定义属性处理。
func NewFieldSet(placeholders []string, props PropertyList) FieldSet {
	set := FieldSet{index: make(map[string]int)}
	custom := make(map[string]bool, len(props))
	for _, p := range props {
		custom[NormalizeName(p.Name)] = true
	}

	add := func(name string, kind FieldKind) {
		if name == "" {
			return
		}
		if _, exists := set.index[name]; exists {
			return
		}
		set.index[name] = len(set.fields)
		set.fields = append(set.fields, Field{Name: name, Kind: kind})
	}

	for _, name := range placeholders {
		name = NormalizeName(name)
		if custom[name] {
			add(name, FieldCustomProperty)
		} else {
			add(name, FieldPlaceholder)
		}
	}
	for _, p := range props {
		add(NormalizeName(p.Name), FieldCustomProperty)
	}
	return set
}

// Len 字段数量
func (s FieldSet) Len() int { return len(s.fields) }

// All 返回全部字段的副本
func (s FieldSet) All() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Lookup 按名称查找字段
func (s FieldSet) Lookup(name string) (Field, bool) {
	i, ok := s.index[NormalizeName(name)]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Placeholders 返回占位符名称
func (s FieldSet) Placeholders() []string {
	return s.names(FieldPlaceholder)
}

// CustomProperties 返回自定义属性名称
func (s FieldSet) CustomProperties() []string {
	return s.names(FieldCustomProperty)
}

func (s FieldSet) names(kind FieldKind) []string {
	var names []string
	for _, f := range s.fields {
		if f.Kind == kind {
			names = append(names, f.Name)
		}
	}
	return names
}

// Split 按分类拆分字段值。集合中不存在的名称视为占位符。
func (s FieldSet) Split(values map[string]string) (placeholders, custom map[string]string) {
	placeholders = make(map[string]string)
	custom = make(map[string]string)
	for name, value := range values {
		name = NormalizeName(name)
		if name == "" {
			continue
		}
		if f, ok := s.Lookup(name); ok && f.Kind == FieldCustomProperty {
			custom[name] = value
			continue
		}
		placeholders[name] = value
	}
	return placeholders, custom
}

// ExtractPlaceholders 从主文档、页眉和页脚中提取去重后的占位符名称。只读。
func ExtractPlaceholders(archive *Archive, parser PartParser) ([]string, error) {
	if !archive.Has(DocumentPart) {
		return nil, &MissingDocumentPartError{Part: DocumentPart}
	}

	seen := make(map[string]bool)
	var names []string
	for _, part := range archive.ContentParts() {
		content, err := archive.ReadText(part)
		if err != nil {
			return nil, fmt.Errorf("读取部件 %s 失败: %w", part, err)
		}
		found, err := parser.Placeholders(content)
		if err != nil {
			return nil, fmt.Errorf("提取 %s 中的占位符失败: %w", part, err)
		}
		for _, name := range found {
			if seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}
