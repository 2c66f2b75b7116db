package domain

import (
	"context"
	"time"

	"github.com/allanpk716/docmerge/pkg/docx"
)

// DocumentProcessor 单文档处理器接口
type DocumentProcessor interface {
	Extract(ctx context.Context, doc Document) (*Template, error)
	Process(ctx context.Context, doc Document, values map[string]string) (*ProcessingResult, error)
}

// BatchProcessor 批量处理器接口
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, docs []Document, values map[string]string, progress BatchProgressFunc) []BatchItem
}

// FieldMatcher 在重建文本中定位合并标记
type FieldMatcher interface {
	FindMatches(content string, names []string) []Match
	CountOccurrences(content string, names []string) map[string]int
}

// Document 待处理的文档
type Document struct {
	Name    string
	Content []byte
	// OutputName 为空时沿用 Name
	OutputName string
}

// Match 表示一个匹配项
type Match struct {
	Name     string // 规范化后的字段名
	Marker   string // 原始标记 (如 {{ name }})
	StartPos int    // 开始位置
	EndPos   int    // 结束位置
}

// Template 提取结果
type Template struct {
	Name       string
	Fields     docx.FieldSet
	Properties docx.PropertyList
	// Occurrences 每个占位符在正文、页眉和页脚中出现的次数
	Occurrences map[string]int
	Parts       []string
}

// ProcessingStats 处理统计信息
type ProcessingStats struct {
	PartsRendered       int
	FieldCodesRewritten int
	PropertiesWritten   int
	Duration            time.Duration
}

// ProcessingResult 一次成功处理的结果
type ProcessingResult struct {
	RunID        string
	Name         string
	Content      []byte
	UsedFallback bool
	Stats        ProcessingStats
}

// BatchItem 批量处理中单个文档的结果，Result 与 Err 恰有一个非空
type BatchItem struct {
	Document string
	Result   *ProcessingResult
	Err      error
}

// BatchProgressFunc 每完成一个文档调用一次
type BatchProgressFunc func(done, total int, item BatchItem)

// FieldClassification 多文档字段分类
type FieldClassification struct {
	// Shared 至少出现在两个文档中的字段
	Shared []string
	// PerDocument 只出现在单个文档中的字段，按文档名分组
	PerDocument map[string][]string
}
