package matcher

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/allanpk716/docmerge/internal/domain"
	"github.com/allanpk716/docmerge/pkg/docx"
)

// 每种定界符只编译一次
var (
	patternMu    sync.Mutex
	patternCache = make(map[docx.Delimiters]*regexp.Regexp)
)

// fieldMatcher 合并标记匹配器实现
type fieldMatcher struct {
	delims  docx.Delimiters
	pattern *regexp.Regexp
}

// NewFieldMatcher 创建使用默认定界符的匹配器
func NewFieldMatcher() domain.FieldMatcher {
	return NewFieldMatcherWithDelimiters(docx.DefaultDelimiters)
}

// NewFieldMatcherWithDelimiters 创建使用指定定界符的匹配器
func NewFieldMatcherWithDelimiters(delims docx.Delimiters) domain.FieldMatcher {
	if delims.Open == "" || delims.Close == "" {
		delims = docx.DefaultDelimiters
	}
	return &fieldMatcher{delims: delims, pattern: getOrCreatePattern(delims)}
}

// FindMatches 查找给定字段的所有标记，按位置升序。
// 变量标记和区段起始标记都计入，结束标记不计入。names 为空时返回全部标记。
func (fm *fieldMatcher) FindMatches(content string, names []string) []domain.Match {
	var wanted map[string]bool
	if len(names) > 0 {
		wanted = make(map[string]bool, len(names))
		for _, name := range names {
			wanted[docx.NormalizeName(name)] = true
		}
	}

	var matches []domain.Match
	for _, index := range fm.pattern.FindAllStringSubmatchIndex(content, -1) {
		inner := content[index[2]:index[3]]
		name := docx.NormalizeName(inner)
		if strings.HasPrefix(name, "/") {
			continue
		}
		if strings.HasPrefix(name, "#") || strings.HasPrefix(name, "^") {
			name = docx.NormalizeName(name[1:])
		}
		if name == "" || (wanted != nil && !wanted[name]) {
			continue
		}
		matches = append(matches, domain.Match{
			Name:     name,
			Marker:   content[index[0]:index[1]],
			StartPos: index[0],
			EndPos:   index[1],
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].StartPos < matches[j].StartPos
	})
	return matches
}

// CountOccurrences 统计每个字段出现的次数，未出现的字段计为0
func (fm *fieldMatcher) CountOccurrences(content string, names []string) map[string]int {
	stats := make(map[string]int, len(names))
	for _, name := range names {
		stats[docx.NormalizeName(name)] = 0
	}
	for _, m := range fm.FindMatches(content, names) {
		stats[m.Name]++
	}
	return stats
}

// getOrCreatePattern 获取或创建定界符对应的正则表达式
func getOrCreatePattern(delims docx.Delimiters) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()

	if pattern, exists := patternCache[delims]; exists {
		return pattern
	}

	pattern := regexp.MustCompile(regexp.QuoteMeta(delims.Open) + `(.+?)` + regexp.QuoteMeta(delims.Close))
	patternCache[delims] = pattern
	return pattern
}

// ValidateFieldName 字段名去掉空白后非空，且不含定界符或区段前缀
func ValidateFieldName(name string) bool {
	name = docx.NormalizeName(name)
	if name == "" {
		return false
	}
	if strings.ContainsAny(name[:1], "#^/") {
		return false
	}
	return !strings.Contains(name, "{") && !strings.Contains(name, "}")
}

// FormatMarker 将字段名格式化为 {{name}} 标记
func FormatMarker(name string) string {
	return docx.DefaultDelimiters.Open + docx.NormalizeName(name) + docx.DefaultDelimiters.Close
}
