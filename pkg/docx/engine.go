package docx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// EngineOptions 引擎配置，在初始化时确定
type EngineOptions struct {
	// Parser 提取与读取属性使用的解析器，默认DOM
	Parser PartParser
	Render RenderOptions
	// Archive 压缩级别与条目大小上限
	Archive ArchiveOptions
	// OptimizedRepair 使用短路的修复变体
	OptimizedRepair bool
	Logger          *slog.Logger
}

// DefaultEngineOptions 返回默认引擎配置
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Parser:  DOMParser{},
		Render:  DefaultRenderOptions(),
		Archive: DefaultArchiveOptions(),
	}
}

// Engine 文档合并引擎。可在多个goroutine间共享，每次调用独占自己的 Archive。
type Engine struct {
	opts     EngineOptions
	props    *CustomPropertyManager
	fixer    *SplitRunFixer
	fields   *FieldCodeRewriter
	renderer *Renderer
	logger   *slog.Logger
}

// NewEngine 创建合并引擎
func NewEngine(opts EngineOptions) *Engine {
	if opts.Parser == nil {
		opts.Parser = DOMParser{}
	}
	if opts.Archive.MaxEntrySize == 0 && opts.Archive.CompressionLevel == 0 {
		opts.Archive = DefaultArchiveOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer := NewRenderer(opts.Render)
	opts.Render = renderer.Options()

	return &Engine{
		opts:     opts,
		props:    NewCustomPropertyManager(opts.Parser),
		fixer:    NewSplitRunFixer(),
		fields:   NewFieldCodeRewriter(),
		renderer: renderer,
		logger:   logger.With("component", "docx-engine"),
	}
}

// Parser 返回引擎使用的解析器
func (e *Engine) Parser() PartParser {
	return e.opts.Parser
}

// Inspection 提取结果
type Inspection struct {
	Fields     FieldSet
	Properties PropertyList
	// Parts 参与提取的内容部件
	Parts []string
	// Text 每个内容部件按文档顺序重建的文本
	Text map[string]string
}

// MergeResult 合并结果
type MergeResult struct {
	Content             []byte
	UsedFallback        bool
	PartsRendered       int
	FieldCodesRewritten int
	PropertiesWritten   int
}

// Inspect 打开文档并提取字段与自定义属性，不修改输入
func (e *Engine) Inspect(buf []byte) (*Inspection, error) {
	archive, err := OpenWithOptions(buf, e.opts.Archive)
	if err != nil {
		return nil, err
	}

	placeholders, err := ExtractPlaceholders(archive, e.opts.Parser)
	if err != nil {
		return nil, err
	}

	props, err := e.props.ReadProperties(archive)
	if err != nil {
		return nil, fmt.Errorf("读取自定义属性失败: %w", err)
	}

	parts := archive.ContentParts()
	text := make(map[string]string, len(parts))
	for _, part := range parts {
		content, err := archive.ReadText(part)
		if err != nil {
			return nil, fmt.Errorf("读取部件 %s 失败: %w", part, err)
		}
		if text[part], err = e.opts.Parser.Text(content); err != nil {
			return nil, fmt.Errorf("重建 %s 的文本失败: %w", part, err)
		}
	}

	return &Inspection{
		Fields:     NewFieldSet(placeholders, props),
		Properties: props,
		Parts:      parts,
		Text:       text,
	}, nil
}

// Merge 按提取时的字段分类写入值并重新生成文档。
// 主路径渲染失败时重新打开原始缓冲区，跳过拆分修复，用同一渲染器再渲染一次；
// 回退也失败时返回 *ProcessingError。
func (e *Engine) Merge(ctx context.Context, buf []byte, fields FieldSet, values map[string]string, progress ProgressFunc) (*MergeResult, error) {
	archive, err := OpenWithOptions(buf, e.opts.Archive)
	if err != nil {
		return nil, err
	}
	if !archive.Has(DocumentPart) {
		return nil, &MissingDocumentPartError{Part: DocumentPart}
	}

	placeholderValues, customValues := fields.Split(values)
	result := &MergeResult{}

	if err := e.applyCustomValues(archive, fields, customValues, progress, result); err != nil {
		return nil, err
	}

	if names := fields.Placeholders(); len(names) > 0 {
		rendered, renderErr := e.renderParts(archive, names, placeholderValues, true)
		if renderErr != nil {
			var tre *TemplateRenderError
			if !errors.As(renderErr, &tre) {
				return nil, renderErr
			}

			e.logger.WarnContext(ctx, "主路径渲染失败，使用回退路径", "part", tre.Part, "tag", tre.Tag, "error", renderErr)
			fallbackResult, fallbackErr := e.fallback(buf, fields, customValues, placeholderValues)
			if fallbackErr != nil {
				e.logger.ErrorContext(ctx, "回退路径失败", "error", fallbackErr)
				return nil, &ProcessingError{Primary: renderErr, Fallback: fallbackErr}
			}
			return fallbackResult, nil
		}
		result.PartsRendered = rendered
	}

	content, err := archive.Serialize()
	if err != nil {
		return nil, fmt.Errorf("序列化文档失败: %w", err)
	}
	result.Content = content

	e.logger.DebugContext(ctx, "文档合并完成",
		"parts_rendered", result.PartsRendered,
		"field_codes", result.FieldCodesRewritten,
		"properties", result.PropertiesWritten)
	return result, nil
}

// applyCustomValues 写入自定义属性并同步域缓存值；没有自定义属性值时不做任何修改
func (e *Engine) applyCustomValues(archive *Archive, fields FieldSet, custom map[string]string, progress ProgressFunc, result *MergeResult) error {
	if len(custom) == 0 {
		if progress != nil {
			progress(1)
		}
		return nil
	}

	props, err := e.props.ApplyValues(archive, custom, fields.CustomProperties())
	if err != nil {
		return err
	}
	result.PropertiesWritten = len(props)

	count, err := e.fields.RewriteArchive(archive, custom, progress)
	if err != nil {
		return err
	}
	result.FieldCodesRewritten = count
	return nil
}

// renderParts 渲染每个内容部件，repair 为 true 时先做拆分修复。返回发生变化的部件数。
func (e *Engine) renderParts(archive *Archive, names []string, values map[string]string, repair bool) (int, error) {
	rendered := 0
	for _, part := range archive.ContentParts() {
		content, err := archive.ReadText(part)
		if err != nil {
			return rendered, fmt.Errorf("读取部件 %s 失败: %w", part, err)
		}

		repaired := content
		switch {
		case !repair:
		case e.opts.OptimizedRepair:
			repaired = e.fixer.RepairOptimized(content, names)
		default:
			repaired = e.fixer.Repair(content, names)
		}

		out, err := e.renderer.Render(part, repaired, values)
		if err != nil {
			return rendered, err
		}
		if out != content {
			archive.WriteText(part, out)
			rendered++
		}
	}
	return rendered, nil
}

// fallback 重新打开原始缓冲区，重新写入自定义属性，跳过修复直接渲染
func (e *Engine) fallback(original []byte, fields FieldSet, custom, placeholders map[string]string) (*MergeResult, error) {
	archive, err := OpenWithOptions(original, e.opts.Archive)
	if err != nil {
		return nil, err
	}

	result := &MergeResult{UsedFallback: true}
	if err := e.applyCustomValues(archive, fields, custom, nil, result); err != nil {
		return nil, err
	}

	rendered, err := e.renderParts(archive, fields.Placeholders(), placeholders, false)
	if err != nil {
		return nil, err
	}
	result.PartsRendered = rendered

	content, err := archive.Serialize()
	if err != nil {
		return nil, fmt.Errorf("序列化回退文档失败: %w", err)
	}
	if err := verifyReadable(content); err != nil {
		return nil, err
	}
	result.Content = content
	return result, nil
}
