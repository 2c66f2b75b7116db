package docx

import (
	"errors"
	"fmt"
)

// 错误哨兵，配合 errors.Is 使用
var (
	ErrCorruptArchive      = errors.New("文档不是有效的ZIP容器")
	ErrMissingDocumentPart = errors.New("文档缺少主体部件")
	ErrTemplateRender      = errors.New("模板渲染失败")
	ErrProcessing          = errors.New("文档处理失败")
	ErrPropertyWrite       = errors.New("自定义属性写入失败")
)

// CorruptArchiveError 输入缓冲区不是有效的ZIP容器
type CorruptArchiveError struct {
	Reason string
	Cause  error
}

func (e *CorruptArchiveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", ErrCorruptArchive, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%v: %s", ErrCorruptArchive, e.Reason)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Cause }

func (e *CorruptArchiveError) Is(target error) bool { return target == ErrCorruptArchive }

// MissingDocumentPartError 缺少 word/document.xml
type MissingDocumentPartError struct {
	Part string
}

func (e *MissingDocumentPartError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingDocumentPart, e.Part)
}

func (e *MissingDocumentPartError) Is(target error) bool { return target == ErrMissingDocumentPart }

// TemplateRenderError 渲染器拒绝了修复后的标记
type TemplateRenderError struct {
	Part    string
	Tag     string
	Message string
}

func (e *TemplateRenderError) Error() string {
	switch {
	case e.Part != "" && e.Tag != "":
		return fmt.Sprintf("%v: %s 中的标签 %q: %s", ErrTemplateRender, e.Part, e.Tag, e.Message)
	case e.Part != "":
		return fmt.Sprintf("%v: %s: %s", ErrTemplateRender, e.Part, e.Message)
	}
	return fmt.Sprintf("%v: %s", ErrTemplateRender, e.Message)
}

func (e *TemplateRenderError) Is(target error) bool { return target == ErrTemplateRender }

// ProcessingError 主路径与回退路径都失败
type ProcessingError struct {
	Document string
	Primary  error
	Fallback error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%v: %s (主路径: %v; 回退路径: %v)", ErrProcessing, e.Document, e.Primary, e.Fallback)
}

// Unwrap 同时暴露两个原因
func (e *ProcessingError) Unwrap() []error {
	var errs []error
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Fallback != nil {
		errs = append(errs, e.Fallback)
	}
	return errs
}

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessing }

// PropertyWriteError 自定义属性序列化失败
type PropertyWriteError struct {
	Property string
	Cause    error
}

func (e *PropertyWriteError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("%v: 属性 %q: %v", ErrPropertyWrite, e.Property, e.Cause)
	}
	return fmt.Sprintf("%v: %v", ErrPropertyWrite, e.Cause)
}

func (e *PropertyWriteError) Unwrap() error { return e.Cause }

func (e *PropertyWriteError) Is(target error) bool { return target == ErrPropertyWrite }
