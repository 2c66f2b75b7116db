package docx

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
)

var (
	resultTextPattern = regexp.MustCompile(`(<w:t(?:\s[^>]*)?>)([^<]*)(</w:t>)`)
	fldCharPattern    = regexp.MustCompile(`<w:fldChar\b[^>]*\bw:fldCharType="(begin|separate|end)"[^>]*/?>`)
	runStartPattern   = regexp.MustCompile(`<w:r(?:\s[^>]*)?>`)
	instrTextPattern  = regexp.MustCompile(`<w:instrText(?:\s[^>]*)?>([^<]*)</w:instrText>`)
	preserveAttr      = regexp.MustCompile(`\sxml:space="[^"]*"`)
)

// ProgressFunc 进度回调，done 取值 0..1
type ProgressFunc func(done float64)

// fieldCodePatterns 覆盖全部待更新属性名的组合模式
type fieldCodePatterns struct {
	simple *regexp.Regexp
	// instruction 匹配复杂域拼接并反转义后的指令文本
	instruction *regexp.Regexp
	values      map[string]string
}

// FieldCodeRewriter 改写 DOCPROPERTY 域缓存的显示文本
type FieldCodeRewriter struct{}

// NewFieldCodeRewriter 创建域代码改写器
func NewFieldCodeRewriter() *FieldCodeRewriter {
	return &FieldCodeRewriter{}
}

// compileFieldCodePatterns 所有属性名合并为一个按长度降序的交替分支
func compileFieldCodePatterns(values map[string]string) *fieldCodePatterns {
	names := make([]string, 0, len(values))
	for name := range values {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	alts := make([]string, len(names))
	plain := make([]string, len(names))
	for i, name := range names {
		var b strings.Builder
		for _, r := range name {
			b.WriteString(runePattern(r))
		}
		alts[i] = b.String()
		plain[i] = regexp.QuoteMeta(name)
	}
	alternation := "(" + strings.Join(alts, "|") + ")"

	return &fieldCodePatterns{
		// 自闭合的 fldSimple 没有显示文本，开始标签不能以 "/>" 结尾
		simple: regexp.MustCompile(`(?s)<w:fldSimple\b[^>]*?\bw:instr="\s*DOCPROPERTY\s+(?:&quot;)?` +
			alternation + `(?:&quot;)?(?:\s[^"]*)?"(?:[^>/]|/[^>])*>(.*?)</w:fldSimple>`),
		instruction: regexp.MustCompile(`(?s)^\s*DOCPROPERTY\s+"?(` + strings.Join(plain, "|") + `)"?(?:\s.*)?$`),
		values:      values,
	}
}

// lookup 按属性名取值，名称来自XML需要先反转义
func (p *fieldCodePatterns) lookup(escapedName string) (string, bool) {
	name := html.UnescapeString(escapedName)
	if v, ok := p.values[name]; ok {
		return v, true
	}
	return "", false
}

// RewriteArchive 在主文档、页眉和页脚中改写域缓存值，每处理完一个部件回调一次进度。
// 返回改写的域数量。
func (r *FieldCodeRewriter) RewriteArchive(archive *Archive, values map[string]string, progress ProgressFunc) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}

	patterns := compileFieldCodePatterns(values)
	parts := archive.ContentParts()
	total := 0
	for i, part := range parts {
		content, err := archive.ReadText(part)
		if err != nil {
			return total, fmt.Errorf("读取部件 %s 失败: %w", part, err)
		}

		rewritten, count := r.rewrite(content, patterns)
		if count > 0 {
			archive.WriteText(part, rewritten)
			total += count
		}

		if progress != nil {
			progress(float64(i+1) / float64(len(parts)))
		}
	}
	return total, nil
}

// RewritePart 改写单个部件
func (r *FieldCodeRewriter) RewritePart(xmlContent string, values map[string]string) (string, int) {
	if len(values) == 0 {
		return xmlContent, 0
	}
	return r.rewrite(xmlContent, compileFieldCodePatterns(values))
}

func (r *FieldCodeRewriter) rewrite(content string, p *fieldCodePatterns) (string, int) {
	if !strings.Contains(content, "DOCPROPERTY") {
		return content, 0
	}

	var spans []textSpan
	for _, m := range p.simple.FindAllStringSubmatchIndex(content, -1) {
		value, ok := p.lookup(content[m[2]:m[3]])
		if !ok {
			continue
		}
		spans = append(spans, textSpan{start: m[4], end: m[5], value: value})
	}
	spans = append(spans, complexSpans(content, p)...)
	if len(spans) == 0 {
		return content, 0
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	b.Grow(len(content))
	last := 0
	count := 0
	for _, s := range spans {
		if s.start < last {
			continue
		}
		b.WriteString(content[last:s.start])
		b.WriteString(replaceResultText(content[s.start:s.end], s.value))
		last = s.end
		count++
	}
	b.WriteString(content[last:])
	return b.String(), count
}

// textSpan 域结果所在的区间
type textSpan struct {
	start, end int
	value      string
}

// complexField 正在扫描的 fldChar 复杂域
type complexField struct {
	instrStart int // begin 标记之后
	instrEnd   int // separate 标记之前
	separate   int // separate 标记之后，-1 表示尚未遇到
}

// complexSpans 按 begin/separate/end 配对复杂域。指令可能被拆到多个 instrText 运行中，
// 拼接后再匹配属性名。结果区间从 separate 之后到包含 end 标记的运行开始处；
// 没有 separate 的域没有缓存值。
func complexSpans(content string, p *fieldCodePatterns) []textSpan {
	var spans []textSpan
	var stack []complexField
	for _, m := range fldCharPattern.FindAllStringSubmatchIndex(content, -1) {
		switch content[m[2]:m[3]] {
		case "begin":
			stack = append(stack, complexField{instrStart: m[1], separate: -1})
		case "separate":
			if n := len(stack); n > 0 && stack[n-1].separate < 0 {
				stack[n-1].instrEnd = m[0]
				stack[n-1].separate = m[1]
			}
		case "end":
			n := len(stack)
			if n == 0 {
				continue
			}
			f := stack[n-1]
			stack = stack[:n-1]
			if f.separate < 0 {
				continue
			}

			im := p.instruction.FindStringSubmatch(instructionText(content[f.instrStart:f.instrEnd]))
			if im == nil {
				continue
			}
			value, ok := p.values[im[1]]
			if !ok {
				continue
			}

			end := m[0]
			if runs := runStartPattern.FindAllStringIndex(content[f.separate:end], -1); len(runs) > 0 {
				end = f.separate + runs[len(runs)-1][0]
			}
			spans = append(spans, textSpan{start: f.separate, end: end, value: value})
		}
	}
	return spans
}

// instructionText 拼接区间内所有 instrText 的文本
func instructionText(span string) string {
	var b strings.Builder
	for _, m := range instrTextPattern.FindAllStringSubmatch(span, -1) {
		b.WriteString(html.UnescapeString(m[1]))
	}
	return b.String()
}

// replaceResultText 第一个文本节点写入新值，其余清空
func replaceResultText(span, value string) string {
	first := true
	return resultTextPattern.ReplaceAllStringFunc(span, func(node string) string {
		m := resultTextPattern.FindStringSubmatch(node)
		if !first {
			return m[1] + m[3]
		}
		first = false
		open := m[1]
		if value != strings.TrimSpace(value) {
			open = withPreserveSpace(open)
		}
		return open + escapeXML(value) + m[3]
	})
}

// withPreserveSpace 给 w:t 开始标签加上 xml:space="preserve"
func withPreserveSpace(openTag string) string {
	if preserveAttr.MatchString(openTag) {
		return preserveAttr.ReplaceAllString(openTag, ` xml:space="preserve"`)
	}
	return strings.TrimSuffix(openTag, ">") + ` xml:space="preserve">`
}
