package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/allanpk716/docmerge/internal/domain"
	"github.com/allanpk716/docmerge/internal/matcher"
	"github.com/allanpk716/docmerge/pkg/docx"
)

const scopeName = "github.com/allanpk716/docmerge/internal/processor"

// 批量处理并发上限
const (
	DefaultMaxConcurrentFiles = 4
	MaxConcurrentFilesLimit   = 50
)

// Options 处理器配置
type Options struct {
	Engine             docx.EngineOptions
	MaxConcurrentFiles int
	Logger             *slog.Logger
	// TracerProvider 与 MeterProvider 为空时使用 otel 全局实现
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// DefaultOptions 返回默认处理器配置
func DefaultOptions() Options {
	return Options{
		Engine:             docx.DefaultEngineOptions(),
		MaxConcurrentFiles: DefaultMaxConcurrentFiles,
	}
}

// Processor 单文档与批量处理的实现
type Processor struct {
	engine        *docx.Engine
	matcher       domain.FieldMatcher
	logger        *slog.Logger
	tracer        trace.Tracer
	processed     metric.Int64Counter
	duration      metric.Float64Histogram
	maxConcurrent int

	// process 批量处理时调用的单文档实现
	process func(ctx context.Context, doc domain.Document, values map[string]string) (*domain.ProcessingResult, error)
}

var (
	_ domain.DocumentProcessor = (*Processor)(nil)
	_ domain.BatchProcessor    = (*Processor)(nil)
)

// NewProcessor 创建处理器
func NewProcessor(opts Options) (*Processor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Engine.Logger = logger

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(scopeName)

	processed, err := meter.Int64Counter("docmerge.documents.processed",
		metric.WithDescription("处理的文档数量"),
		metric.WithUnit("{document}"))
	if err != nil {
		return nil, fmt.Errorf("创建计数器失败: %w", err)
	}
	duration, err := meter.Float64Histogram("docmerge.document.duration",
		metric.WithDescription("单个文档的处理耗时"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("创建直方图失败: %w", err)
	}

	engine := docx.NewEngine(opts.Engine)
	p := &Processor{
		engine:        engine,
		matcher:       matcher.NewFieldMatcherWithDelimiters(opts.Engine.Render.Delimiters),
		logger:        logger.With("component", "processor"),
		tracer:        tp.Tracer(scopeName),
		processed:     processed,
		duration:      duration,
		maxConcurrent: clampConcurrency(opts.MaxConcurrentFiles),
	}
	p.process = p.Process
	return p, nil
}

func clampConcurrency(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxConcurrentFiles
	case n > MaxConcurrentFilesLimit:
		return MaxConcurrentFilesLimit
	default:
		return n
	}
}

// Extract 提取字段、自定义属性及每个占位符的出现次数。不修改输入。
func (p *Processor) Extract(ctx context.Context, doc domain.Document) (*domain.Template, error) {
	ctx, span := p.tracer.Start(ctx, "docmerge.extract",
		trace.WithAttributes(attribute.String("document.name", doc.Name), attribute.Int("document.size", len(doc.Content))))
	defer span.End()

	inspection, err := p.engine.Inspect(doc.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.WarnContext(ctx, "提取字段失败", "document", doc.Name, "error", err)
		return nil, fmt.Errorf("提取 %s 的字段失败: %w", doc.Name, err)
	}

	names := inspection.Fields.Placeholders()
	occurrences := make(map[string]int, len(names))
	for _, name := range names {
		occurrences[name] = 0
	}
	for _, part := range inspection.Parts {
		for name, n := range p.matcher.CountOccurrences(inspection.Text[part], names) {
			occurrences[name] += n
		}
	}

	span.SetAttributes(
		attribute.Int("fields.placeholders", len(names)),
		attribute.Int("fields.custom_properties", len(inspection.Fields.CustomProperties())),
	)
	p.logger.DebugContext(ctx, "提取完成", "document", doc.Name, "fields", inspection.Fields.Len())

	return &domain.Template{
		Name:        doc.Name,
		Fields:      inspection.Fields,
		Properties:  inspection.Properties,
		Occurrences: occurrences,
		Parts:       inspection.Parts,
	}, nil
}

// Process 提取字段后合并值，成功时恰好返回一个结果
func (p *Processor) Process(ctx context.Context, doc domain.Document, values map[string]string) (*domain.ProcessingResult, error) {
	runID := uuid.NewString()
	start := time.Now()
	logger := p.logger.With("run_id", runID, "document", doc.Name)

	ctx, span := p.tracer.Start(ctx, "docmerge.process",
		trace.WithAttributes(
			attribute.String("docmerge.run_id", runID),
			attribute.String("document.name", doc.Name),
			attribute.Int("document.size", len(doc.Content)),
			attribute.Int("values.count", len(values)),
		))
	defer span.End()

	result, err := p.merge(ctx, doc, values)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case result.UsedFallback:
		outcome = "fallback"
	}
	outcomeAttr := metric.WithAttributes(attribute.String("outcome", outcome))
	p.processed.Add(ctx, 1, outcomeAttr)
	p.duration.Record(ctx, elapsed.Seconds(), outcomeAttr)

	if err != nil {
		var pe *docx.ProcessingError
		if errors.As(err, &pe) && pe.Document == "" {
			pe.Document = doc.Name
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "文档处理失败", "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("docmerge.used_fallback", result.UsedFallback))
	if result.UsedFallback {
		logger.WarnContext(ctx, "文档通过回退路径完成")
	}
	logger.InfoContext(ctx, "文档处理完成", "duration", elapsed, "parts", result.PartsRendered)

	name := doc.OutputName
	if name == "" {
		name = doc.Name
	}
	return &domain.ProcessingResult{
		RunID:        runID,
		Name:         name,
		Content:      result.Content,
		UsedFallback: result.UsedFallback,
		Stats: domain.ProcessingStats{
			PartsRendered:       result.PartsRendered,
			FieldCodesRewritten: result.FieldCodesRewritten,
			PropertiesWritten:   result.PropertiesWritten,
			Duration:            elapsed,
		},
	}, nil
}

func (p *Processor) merge(ctx context.Context, doc domain.Document, values map[string]string) (*docx.MergeResult, error) {
	inspection, err := p.engine.Inspect(doc.Content)
	if err != nil {
		return nil, err
	}
	span := trace.SpanFromContext(ctx)
	return p.engine.Merge(ctx, doc.Content, inspection.Fields, values, func(done float64) {
		span.AddEvent("field_codes.progress", trace.WithAttributes(attribute.Float64("done", done)))
	})
}
