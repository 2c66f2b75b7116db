package processor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/allanpk716/docmerge/internal/domain"
)

// ProcessBatch 并发处理多个文档，结果顺序与输入一致。
// 单个文档失败不影响其他文档；取消只在派发下一个文档前检查；
// 工作协程panic时，该文档在调用方协程上同步重新处理。
func (p *Processor) ProcessBatch(ctx context.Context, docs []domain.Document, values map[string]string, progress domain.BatchProgressFunc) []domain.BatchItem {
	items := make([]domain.BatchItem, len(docs))
	if len(docs) == 0 {
		return items
	}

	var (
		mu       sync.Mutex
		done     int
		panicked []int
	)
	report := func(i int) {
		mu.Lock()
		defer mu.Unlock()
		done++
		if progress != nil {
			progress(done, len(docs), items[i])
		}
	}

	p.logger.InfoContext(ctx, "开始批量处理", "documents", len(docs), "concurrency", p.maxConcurrent)

	var g errgroup.Group
	g.SetLimit(p.maxConcurrent)
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			items[i] = domain.BatchItem{Document: doc.Name, Err: fmt.Errorf("批量处理已取消: %w", err)}
			report(i)
			continue
		}

		i, doc := i, doc
		g.Go(func() error {
			item, recovered := p.runWorker(ctx, doc, values)
			if recovered != nil {
				p.logger.ErrorContext(ctx, "工作协程panic，改为同步处理", "document", doc.Name, "panic", recovered)
				mu.Lock()
				panicked = append(panicked, i)
				mu.Unlock()
				return nil
			}
			items[i] = item
			report(i)
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(panicked)
	for _, i := range panicked {
		items[i] = p.processSync(ctx, docs[i], values)
		report(i)
	}

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	p.logger.InfoContext(ctx, "批量处理完成", "documents", len(docs), "failed", failed, "retried", len(panicked))
	return items
}

// runWorker 在工作协程中处理文档，panic时返回恢复值
func (p *Processor) runWorker(ctx context.Context, doc domain.Document, values map[string]string) (item domain.BatchItem, recovered any) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()
	result, err := p.process(ctx, doc, values)
	return domain.BatchItem{Document: doc.Name, Result: result, Err: err}, nil
}

// processSync 同步重新处理；再次panic时转为该文档的错误
func (p *Processor) processSync(ctx context.Context, doc domain.Document, values map[string]string) (item domain.BatchItem) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "同步处理仍然panic", "document", doc.Name, "panic", r, "stack", string(debug.Stack()))
			item = domain.BatchItem{Document: doc.Name, Err: fmt.Errorf("处理 %s 时发生panic: %v", doc.Name, r)}
		}
	}()
	result, err := p.process(ctx, doc, values)
	return domain.BatchItem{Document: doc.Name, Result: result, Err: err}
}

// ClassifyFields 将多个模板的字段分为共享字段（出现在至少两个文档中）和文档独有字段
func ClassifyFields(templates []*domain.Template) domain.FieldClassification {
	counts := make(map[string]int)
	var order []string
	for _, tmpl := range templates {
		if tmpl == nil {
			continue
		}
		for _, f := range tmpl.Fields.All() {
			if counts[f.Name] == 0 {
				order = append(order, f.Name)
			}
			counts[f.Name]++
		}
	}

	result := domain.FieldClassification{PerDocument: make(map[string][]string)}
	for _, name := range order {
		if counts[name] >= 2 {
			result.Shared = append(result.Shared, name)
		}
	}
	for _, tmpl := range templates {
		if tmpl == nil {
			continue
		}
		for _, f := range tmpl.Fields.All() {
			if counts[f.Name] == 1 {
				result.PerDocument[tmpl.Name] = append(result.PerDocument[tmpl.Name], f.Name)
			}
		}
	}
	return result
}
