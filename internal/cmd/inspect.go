package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/allanpk716/docmerge/internal/config"
	"github.com/allanpk716/docmerge/internal/domain"
	"github.com/allanpk716/docmerge/internal/matcher"
	"github.com/allanpk716/docmerge/internal/processor"
	"github.com/allanpk716/docmerge/pkg/docx"
)

func newTable(out io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

// InspectFiles 列出每个文档的字段；多个文档时追加共享字段分类
func InspectFiles(ctx context.Context, p domain.DocumentProcessor, files []string, out io.Writer) error {
	if len(files) == 0 {
		return fmt.Errorf("没有找到可检查的 DOCX 文件")
	}

	var templates []*domain.Template
	var failed []string
	for _, file := range files {
		data, err := readDocument(file, out)
		if err != nil {
			failColor.Fprintf(out, "✗ %v\n", err)
			failed = append(failed, file)
			continue
		}
		tmpl, err := p.Extract(ctx, domain.Document{Name: file, Content: data})
		if err != nil {
			failColor.Fprintf(out, "✗ %v\n", err)
			failed = append(failed, file)
			continue
		}
		templates = append(templates, tmpl)
		renderTemplate(out, tmpl)
	}

	if len(templates) > 1 {
		renderClassification(out, processor.ClassifyFields(templates))
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d 个文档无法检查: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func renderTemplate(out io.Writer, tmpl *domain.Template) {
	t := newTable(out, tmpl.Name)
	t.AppendHeader(table.Row{"字段", "标记", "类型", "出现次数", "当前值"})
	for _, f := range tmpl.Fields.All() {
		switch f.Kind {
		case docx.FieldCustomProperty:
			value, _ := tmpl.Properties.Get(f.Name)
			t.AppendRow(table.Row{f.Name, "DOCPROPERTY", f.Kind, "-", value})
		default:
			t.AppendRow(table.Row{f.Name, matcher.FormatMarker(f.Name), f.Kind, tmpl.Occurrences[f.Name], ""})
		}
	}
	t.AppendFooter(table.Row{"", "", "合计", tmpl.Fields.Len(), ""})
	t.Render()
}

func renderClassification(out io.Writer, classes domain.FieldClassification) {
	t := newTable(out, "字段分类")
	t.AppendHeader(table.Row{"字段", "范围"})
	for _, name := range classes.Shared {
		t.AppendRow(table.Row{name, "共享"})
	}
	for _, doc := range sortedKeys(classes.PerDocument) {
		for _, name := range classes.PerDocument[doc] {
			t.AppendRow(table.Row{name, doc})
		}
	}
	t.Render()
}

// PrintLegacyProperties 打印旧版 .doc 携带的属性集
func PrintLegacyProperties(data []byte, path string, out io.Writer) error {
	props, err := docx.ReadLegacyProperties(data)
	if err != nil {
		return err
	}

	t := newTable(out, path+"（旧版 .doc）")
	t.AppendHeader(table.Row{"属性", "值"})
	for _, prop := range props {
		t.AppendRow(table.Row{prop.Name, prop.Value})
	}
	t.Render()
	return nil
}

// InitConfigFile 根据输入文档的字段生成配置文件
func InitConfigFile(ctx context.Context, p domain.DocumentProcessor, manager config.ConfigManager, inputFile, configPath string, out io.Writer) error {
	data, err := readDocument(inputFile, out)
	if err != nil {
		return err
	}

	tmpl, err := p.Extract(ctx, domain.Document{Name: inputFile, Content: data})
	if err != nil {
		return err
	}

	base := filepath.Base(inputFile)
	project := strings.TrimSuffix(base, filepath.Ext(base))
	cfg := config.NewTemplateConfig(project, base, tmpl.Fields, tmpl.Properties)
	if err := manager.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("保存配置文件失败: %w", err)
	}

	okColor.Fprintf(out, "✓ 已生成配置文件 %s（%d 个字段）\n", configPath, len(cfg.Fields))
	return nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
