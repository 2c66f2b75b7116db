package docx

import (
	"regexp"
	"strings"
	"sync"
)

// runBoundary 匹配两个相邻文本节点之间的运行边界：
// 关闭当前 w:t 与 w:r，允许拼写检查与书签标记，再打开带可选 rPr 的新运行。
const runBoundary = `</w:t>\s*</w:r>\s*` +
	`(?:<w:proofErr[^>]*/>\s*|<w:bookmark(?:Start|End)[^>]*/>\s*)*` +
	`<w:r(?:\s[^>]*)?>\s*` +
	`(?:<w:rPr>(?:[^<]|<[^/]|</[^w]|</w[^:]|</w:[^r]|</w:r[^P])*</w:rPr>\s*)?` +
	`(?:<w:lastRenderedPageBreak/>\s*)?` +
	`<w:t(?:\s[^>]*)?>`

const textOpenTag = `<w:t(?:\s[^>]*)?>`

var (
	boundaryPattern = regexp.MustCompile(runBoundary)

	// genericPatterns 先单花括号，后双花括号
	genericPatterns = []*regexp.Regexp{
		genericSplitPattern("{", "}"),
		genericSplitPattern("{{", "}}"),
	}

	defaultFixer = NewSplitRunFixer()
)

// genericSplitPattern 匹配"以未闭合的开始定界符结尾的文本节点 + 运行边界 + 含结束定界符的文本节点"
func genericSplitPattern(open, close string) *regexp.Regexp {
	o := regexp.QuoteMeta(open)
	c := regexp.QuoteMeta(close)
	first := regexp.QuoteMeta(close[:1])
	return regexp.MustCompile(`(` + textOpenTag + `)([^<]*` + o + `[^<` + first + `]*)` + runBoundary + `([^<]*?` + c + `)`)
}

// namePatterns 单个占位符名称的匹配模式
type namePatterns struct {
	intact *regexp.Regexp
	split  *regexp.Regexp
}

// SplitRunFixer 修复被拆分到多个运行中的占位符。
// 模式按名称缓存，可在多个goroutine间共享。
type SplitRunFixer struct {
	mu    sync.RWMutex
	cache map[string]*namePatterns
}

// NewSplitRunFixer 创建新的拆分运行修复器
func NewSplitRunFixer() *SplitRunFixer {
	return &SplitRunFixer{cache: make(map[string]*namePatterns)}
}

// Repair 使用共享修复器执行完整修复
func Repair(xmlContent string, names []string) string {
	return defaultFixer.Repair(xmlContent, names)
}

// RepairOptimized 使用共享修复器执行优化修复
func RepairOptimized(xmlContent string, names []string) string {
	return defaultFixer.RepairOptimized(xmlContent, names)
}

// Repair 依次执行通用阶段和定向阶段直到结果不再变化。
// 对同一输入重复调用结果相同。
func (f *SplitRunFixer) Repair(xmlContent string, names []string) string {
	return f.fixedPoint(xmlContent, func(s string) string {
		return f.targeted(f.generic(s), names)
	})
}

// RepairOptimized 所有名称都已完整出现时直接返回原文；
// 否则先做通用阶段，只对仍然缺失的名称做定向修复。
func (f *SplitRunFixer) RepairOptimized(xmlContent string, names []string) string {
	if len(f.missing(xmlContent, names)) == 0 {
		return xmlContent
	}

	out := f.fixedPoint(xmlContent, f.generic)
	missing := f.missing(out, names)
	if len(missing) == 0 {
		return out
	}

	return f.fixedPoint(out, func(s string) string {
		return f.targeted(f.generic(s), missing)
	})
}

// generic 通用阶段：合并定界符两侧的运行
func (f *SplitRunFixer) generic(s string) string {
	if !strings.Contains(s, "</w:t>") {
		return s
	}
	for _, p := range genericPatterns {
		s = p.ReplaceAllString(s, "${1}${2}${3}")
	}
	return s
}

// targeted 定向阶段：对每个已知名称，允许在任意字符之间出现运行边界
func (f *SplitRunFixer) targeted(s string, names []string) string {
	if !strings.Contains(s, "</w:t>") {
		return s
	}
	for _, name := range names {
		p := f.patterns(name)
		if p == nil {
			continue
		}
		s = p.split.ReplaceAllStringFunc(s, collapseBoundaries)
	}
	return s
}

// missing 返回在原始标记中没有完整出现的名称
func (f *SplitRunFixer) missing(s string, names []string) []string {
	var out []string
	for _, name := range names {
		p := f.patterns(name)
		if p == nil {
			continue
		}
		if !p.intact.MatchString(s) {
			out = append(out, name)
		}
	}
	return out
}

// fixedPoint 反复执行直到输出稳定。每次有效的执行至少消除一个运行边界，
// 因此次数以边界数量为上限。
func (f *SplitRunFixer) fixedPoint(s string, pass func(string) string) string {
	limit := strings.Count(s, "</w:t>") + 1
	for i := 0; i < limit; i++ {
		next := pass(s)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

func (f *SplitRunFixer) patterns(name string) *namePatterns {
	name = NormalizeName(name)
	if name == "" {
		return nil
	}

	f.mu.RLock()
	p, ok := f.cache[name]
	f.mu.RUnlock()
	if ok {
		return p
	}

	p = compileNamePatterns(name)
	f.mu.Lock()
	f.cache[name] = p
	f.mu.Unlock()
	return p
}

// compileNamePatterns 为 {{name}}、{{ name }} 以及区段标签构建模式
func compileNamePatterns(name string) *namePatterns {
	var intact, split strings.Builder
	sep := `(?:` + runBoundary + `)?`
	ws := `(?:\s|` + runBoundary + `)*`

	intact.WriteString(`\{\{\s*(?:[#^/]\s*)?`)
	split.WriteString(`\{` + sep + `\{` + ws + `(?:[#^/]` + ws + `)?`)
	for i, r := range name {
		if i > 0 {
			split.WriteString(sep)
		}
		rp := runePattern(r)
		intact.WriteString(rp)
		split.WriteString(rp)
	}
	intact.WriteString(`\s*\}\}`)
	split.WriteString(ws + `\}` + sep + `\}`)

	return &namePatterns{
		intact: regexp.MustCompile(intact.String()),
		split:  regexp.MustCompile(split.String()),
	}
}

// runePattern 名称中的字符在XML文本中的形式
func runePattern(r rune) string {
	switch r {
	case '&':
		return `&amp;`
	case '<':
		return `&lt;`
	case '>':
		return `(?:>|&gt;)`
	case '"':
		return `(?:"|&quot;)`
	case '\'':
		return `(?:'|&apos;)`
	}
	return regexp.QuoteMeta(string(r))
}

// collapseBoundaries 删除匹配内的运行边界；不含边界的匹配原样返回
func collapseBoundaries(match string) string {
	if !strings.Contains(match, "<") {
		return match
	}
	return boundaryPattern.ReplaceAllString(match, "")
}
