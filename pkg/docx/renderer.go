package docx

import (
	"html"
	"regexp"
	"sort"
	"strings"
)

// Delimiters 模板标签的定界符
type Delimiters struct {
	Open  string
	Close string
}

// DefaultDelimiters 默认使用 {{ 与 }}
var DefaultDelimiters = Delimiters{Open: "{{", Close: "}}"}

// NullGetter 返回缺失字段的替代值
type NullGetter func(name string) string

// EmptyNullGetter 缺失字段替换为空字符串
func EmptyNullGetter(string) string { return "" }

// RenderOptions 渲染选项
type RenderOptions struct {
	Delimiters Delimiters
	// ParagraphLoop 只包含区段标签的段落随标签一起删除
	ParagraphLoop bool
	// LineBreaks 值中的换行转换为 w:br
	LineBreaks bool
	NullGetter NullGetter
}

// DefaultRenderOptions 返回引擎使用的默认渲染选项
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Delimiters:    DefaultDelimiters,
		ParagraphLoop: true,
		LineBreaks:    true,
		NullGetter:    EmptyNullGetter,
	}
}

type tagKind int

const (
	tagVariable tagKind = iota
	tagSection
	tagInverted
	tagClose
)

var renderTokenPattern = regexp.MustCompile(`<w:p(?:\s[^>]*)?>|</w:p>|(<w:t(?:\s[^>]*)?>)([^<]*)</w:t>`)

var markupTagPattern = regexp.MustCompile(`<[^>]+>`)

// renderNode 一个 w:t 文本节点
type renderNode struct {
	tagStart int
	tagEnd   int
	para     int
}

// renderParagraph 一个 w:p 段落
type renderParagraph struct {
	start int
	end   int
	text  strings.Builder
}

// renderTag 模板标签在部件中的位置
type renderTag struct {
	kind       tagKind
	name       string
	raw        string
	start, end int
	node       int
}

// renderEdit 对部件的一次区间替换
type renderEdit struct {
	start, end int
	text       string
	removal    bool
}

// Renderer 基于定界符的模板渲染器，在原始XML上直接工作
type Renderer struct {
	opts RenderOptions
}

// NewRenderer 创建渲染器，未设置的选项使用默认值
func NewRenderer(opts RenderOptions) *Renderer {
	if opts.Delimiters.Open == "" || opts.Delimiters.Close == "" {
		opts.Delimiters = DefaultDelimiters
	}
	if opts.NullGetter == nil {
		opts.NullGetter = EmptyNullGetter
	}
	return &Renderer{opts: opts}
}

// Options 返回生效的渲染选项
func (r *Renderer) Options() RenderOptions {
	return r.opts
}

// Render 渲染单个部件。标签必须完整地位于一个文本节点内，
// 语法错误返回 *TemplateRenderError。
func (r *Renderer) Render(part, xmlContent string, data map[string]string) (string, error) {
	if !strings.Contains(xmlContent, r.opts.Delimiters.Open) && !strings.Contains(xmlContent, r.opts.Delimiters.Close) {
		return xmlContent, nil
	}

	rc := &renderContext{
		r:    r,
		part: part,
		xml:  xmlContent,
		data: data,
	}
	if err := rc.tokenize(); err != nil {
		return "", err
	}
	if len(rc.tags) == 0 {
		return xmlContent, nil
	}
	if err := rc.evaluate(0, len(rc.tags), true); err != nil {
		return "", err
	}
	return rc.apply(), nil
}

type renderContext struct {
	r     *Renderer
	part  string
	xml   string
	data  map[string]string
	nodes []renderNode
	paras []*renderParagraph
	tags  []renderTag
	// closing 区段开始标签索引 -> 对应结束标签索引
	closing   map[int]int
	edits     []renderEdit
	preserved map[int]bool
}

func (rc *renderContext) fail(tag, message string) error {
	return &TemplateRenderError{Part: rc.part, Tag: tag, Message: message}
}

// tokenize 收集段落、文本节点与标签，并配对区段
func (rc *renderContext) tokenize() error {
	var stack []int
	for _, m := range renderTokenPattern.FindAllStringSubmatchIndex(rc.xml, -1) {
		token := rc.xml[m[0]:m[1]]
		switch {
		case m[2] >= 0:
			para := -1
			if len(stack) > 0 {
				para = stack[len(stack)-1]
			}
			node := len(rc.nodes)
			rc.nodes = append(rc.nodes, renderNode{tagStart: m[2], tagEnd: m[3], para: para})
			text := rc.xml[m[4]:m[5]]
			if para >= 0 {
				rc.paras[para].text.WriteString(text)
			}
			if err := rc.scanTags(text, m[4], node); err != nil {
				return err
			}
		case token == "</w:p>":
			if len(stack) > 0 {
				rc.paras[stack[len(stack)-1]].end = m[1]
				stack = stack[:len(stack)-1]
			}
		case strings.HasSuffix(token, "/>"):
		default:
			stack = append(stack, len(rc.paras))
			rc.paras = append(rc.paras, &renderParagraph{start: m[0], end: -1})
		}
	}

	return rc.pairSections()
}

// scanTags 在一个文本节点内查找标签
func (rc *renderContext) scanTags(text string, base, node int) error {
	d := rc.r.opts.Delimiters
	i := 0
	for i < len(text) {
		open := strings.Index(text[i:], d.Open)
		stray := strings.Index(text[i:], d.Close)
		if open < 0 {
			if stray >= 0 {
				return rc.fail(d.Close, "找到结束定界符但缺少开始定界符")
			}
			return nil
		}
		if stray >= 0 && stray < open {
			return rc.fail(d.Close, "找到结束定界符但缺少开始定界符")
		}

		open += i
		bodyStart := open + len(d.Open)
		end := strings.Index(text[bodyStart:], d.Close)
		if end < 0 {
			return rc.fail(text[open:], "标签未闭合")
		}
		body := text[bodyStart : bodyStart+end]
		raw := text[open : bodyStart+end+len(d.Close)]
		if strings.Contains(body, d.Open) {
			return rc.fail(raw, "标签未闭合")
		}

		tag, err := rc.parseTag(raw, body)
		if err != nil {
			return err
		}
		tag.start = base + open
		tag.end = base + bodyStart + end + len(d.Close)
		tag.node = node
		rc.tags = append(rc.tags, tag)

		i = bodyStart + end + len(d.Close)
	}
	return nil
}

func (rc *renderContext) parseTag(raw, body string) (renderTag, error) {
	name := strings.TrimSpace(html.UnescapeString(body))
	tag := renderTag{kind: tagVariable, raw: raw}
	if name != "" {
		switch name[0] {
		case '#':
			tag.kind = tagSection
		case '^':
			tag.kind = tagInverted
		case '/':
			tag.kind = tagClose
		}
		if tag.kind != tagVariable {
			name = name[1:]
		}
	}
	tag.name = NormalizeName(name)
	if tag.name == "" {
		return tag, rc.fail(raw, "标签名为空")
	}
	return tag, nil
}

// pairSections 用栈配对区段开始与结束标签
func (rc *renderContext) pairSections() error {
	rc.closing = make(map[int]int)
	var stack []int
	for i, tag := range rc.tags {
		switch tag.kind {
		case tagSection, tagInverted:
			stack = append(stack, i)
		case tagClose:
			if len(stack) == 0 {
				return rc.fail(tag.raw, "区段结束标签没有对应的开始标签")
			}
			open := stack[len(stack)-1]
			if rc.tags[open].name != tag.name {
				return rc.fail(tag.raw, "区段交叉，期望结束 "+rc.tags[open].name)
			}
			stack = stack[:len(stack)-1]
			rc.closing[open] = i
		}
	}
	if len(stack) > 0 {
		return rc.fail(rc.tags[stack[len(stack)-1]].raw, "区段未闭合")
	}
	return nil
}

// value 取字段值，缺失时交给 NullGetter
func (rc *renderContext) value(name string) string {
	if v, ok := rc.data[name]; ok {
		return v
	}
	return rc.r.opts.NullGetter(name)
}

func truthy(value string) bool {
	v := strings.TrimSpace(value)
	return v != "" && v != "0" && !strings.EqualFold(v, "false")
}

// evaluate 处理 tags[from:to]，active 为 false 时区间已被删除
func (rc *renderContext) evaluate(from, to int, active bool) error {
	for i := from; i < to; i++ {
		tag := rc.tags[i]
		switch tag.kind {
		case tagVariable:
			if active {
				rc.substitute(tag)
			}
		case tagSection, tagInverted:
			closeIdx := rc.closing[i]
			if active {
				keep := truthy(rc.value(tag.name))
				if tag.kind == tagInverted {
					keep = !keep
				}
				if err := rc.section(tag, rc.tags[closeIdx], keep); err != nil {
					return err
				}
				if err := rc.evaluate(i+1, closeIdx, keep); err != nil {
					return err
				}
			}
			i = closeIdx
		}
	}
	return nil
}

// substitute 用转义后的值替换变量标签
func (rc *renderContext) substitute(tag renderTag) {
	value := escapeXML(rc.value(tag.name))
	if rc.r.opts.LineBreaks {
		value = strings.ReplaceAll(value, "\r\n", "\n")
		value = strings.ReplaceAll(value, "\n", `</w:t><w:br/><w:t xml:space="preserve">`)
	}
	rc.edits = append(rc.edits, renderEdit{start: tag.start, end: tag.end, text: value})
	if rc.preserved == nil {
		rc.preserved = make(map[int]bool)
	}
	rc.preserved[tag.node] = true
}

// section 生成区段的删除编辑
func (rc *renderContext) section(open, end renderTag, keep bool) error {
	paragraphLevel := rc.r.opts.ParagraphLoop && rc.alone(open) && rc.alone(end)
	if !paragraphLevel && rc.nodes[open.node].para != rc.nodes[end.node].para {
		return rc.fail(open.raw, "行内区段不能跨越段落")
	}

	if paragraphLevel {
		op := rc.paras[rc.nodes[open.node].para]
		cp := rc.paras[rc.nodes[end.node].para]
		if keep {
			rc.remove(op.start, op.end)
			rc.remove(cp.start, cp.end)
			return nil
		}
		if !spanBalanced(rc.xml[op.start:cp.end]) {
			return rc.fail(open.raw, "删除区段会破坏XML结构")
		}
		rc.remove(op.start, cp.end)
		return nil
	}

	if keep {
		rc.remove(open.start, open.end)
		rc.remove(end.start, end.end)
		return nil
	}
	if !spanBalanced(rc.xml[open.start:end.end]) {
		return rc.fail(open.raw, "删除区段会破坏XML结构")
	}
	rc.remove(open.start, end.end)
	return nil
}

// alone 标签是否是所在段落的唯一文本
func (rc *renderContext) alone(tag renderTag) bool {
	para := rc.nodes[tag.node].para
	if para < 0 || rc.paras[para].end < 0 {
		return false
	}
	return strings.TrimSpace(rc.paras[para].text.String()) == tag.raw
}

func (rc *renderContext) remove(start, end int) {
	rc.edits = append(rc.edits, renderEdit{start: start, end: end, removal: true})
}

// spanBalanced 删除区间后XML仍然良构：区间内关闭的外层元素
// 必须与区间末尾重新打开的元素一一对应。
func spanBalanced(span string) bool {
	var opened, closed []string
	for _, tag := range markupTagPattern.FindAllString(span, -1) {
		switch {
		case strings.HasPrefix(tag, "<?"), strings.HasPrefix(tag, "<!"), strings.HasSuffix(tag, "/>"):
		case strings.HasPrefix(tag, "</"):
			name := strings.TrimSpace(tag[2 : len(tag)-1])
			if n := len(opened); n > 0 {
				if opened[n-1] != name {
					return false
				}
				opened = opened[:n-1]
			} else {
				closed = append(closed, name)
			}
		default:
			name := tag[1 : len(tag)-1]
			if i := strings.IndexAny(name, " \t\r\n"); i >= 0 {
				name = name[:i]
			}
			opened = append(opened, name)
		}
	}
	if len(opened) != len(closed) {
		return false
	}
	for i := range opened {
		if opened[i] != closed[len(closed)-1-i] {
			return false
		}
	}
	return true
}

// apply 按位置应用编辑。被删除区间吞掉开始标签的文本节点，
// 其 xml:space 改由区间起点所在的节点承担。
func (rc *renderContext) apply() string {
	sort.SliceStable(rc.edits, func(i, j int) bool { return rc.edits[i].start < rc.edits[j].start })

	preserve := make(map[int]bool)
	for node := range rc.preserved {
		preserve[rc.preserveTarget(node)] = true
	}
	for node := range preserve {
		n := rc.nodes[node]
		open := rc.xml[n.tagStart:n.tagEnd]
		rc.edits = append(rc.edits, renderEdit{start: n.tagStart, end: n.tagEnd, text: withPreserveSpace(open)})
	}
	sort.SliceStable(rc.edits, func(i, j int) bool { return rc.edits[i].start < rc.edits[j].start })

	var b strings.Builder
	b.Grow(len(rc.xml))
	last := 0
	for _, e := range rc.edits {
		if e.start < last {
			continue
		}
		b.WriteString(rc.xml[last:e.start])
		b.WriteString(e.text)
		last = e.end
	}
	b.WriteString(rc.xml[last:])
	return b.String()
}

// preserveTarget 找到删除后实际承载该节点文本的节点
func (rc *renderContext) preserveTarget(node int) int {
	for {
		n := rc.nodes[node]
		moved := false
		for _, e := range rc.edits {
			if !e.removal || n.tagStart < e.start || n.tagStart >= e.end {
				continue
			}
			owner := rc.nodeAt(e.start)
			if owner < 0 || owner == node {
				return node
			}
			node = owner
			moved = true
			break
		}
		if !moved {
			return node
		}
	}
}

// nodeAt 返回内容区间包含 pos 的节点
func (rc *renderContext) nodeAt(pos int) int {
	i := sort.Search(len(rc.nodes), func(i int) bool { return rc.nodes[i].tagEnd > pos }) - 1
	if i < 0 {
		return -1
	}
	return i
}
