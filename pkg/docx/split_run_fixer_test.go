package docx

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair_SplitAtEveryPosition(t *testing.T) {
	markers := []struct {
		name   string
		marker string
	}{
		{name: "name", marker: "{{name}}"},
		{name: "amount", marker: "{{ amount }}"},
		{name: "客户名称", marker: "{{客户名称}}"},
		{name: "A & B", marker: "{{A &amp; B}}"},
	}

	for _, m := range markers {
		text := "Hello " + m.marker + " world"
		start := len("Hello ")
		end := start + len(m.marker)

		for k := start + 1; k < end; k++ {
			if !utf8.RuneStart(text[k]) {
				continue
			}
			// 实体内部不会被拆分
			if amp := strings.Index(text, "&amp;"); amp >= 0 && k > amp && k < amp+len("&amp;") {
				continue
			}
			t.Run(fmt.Sprintf("%s/%d", m.name, k-start), func(t *testing.T) {
				xml := wordDocument(para(run(text[:k]), boldRun(text[k:])))

				repaired := Repair(xml, []string{m.name})
				assert.Contains(t, repaired, m.marker, "修复后标记应该完整")
				assert.Equal(t, visibleText(xml), visibleText(repaired), "可见文本不应改变")

				for _, parser := range []PartParser{DOMParser{}, ScanParser{}} {
					names, err := parser.Placeholders(repaired)
					require.NoError(t, err)
					assert.Equal(t, []string{m.name}, names)
				}
			})
		}
	}
}

func TestRepair_ThreeRuns(t *testing.T) {
	xml := wordDocument(para(run("Dear {{"), boldRun("na"), run("me}},")))
	repaired := Repair(xml, []string{"name"})
	assert.Contains(t, repaired, "Dear {{name}},")
	assert.Equal(t, 1, strings.Count(repaired, "<w:t>")+strings.Count(repaired, "<w:t "))
}

func TestRepair_ProofErrAndBookmarks(t *testing.T) {
	xml := wordDocument(para(
		run("{{cus"),
		`<w:proofErr w:type="spellStart"/><w:bookmarkStart w:id="0" w:name="x"/><w:bookmarkEnd w:id="0"/>`,
		`<w:r><w:rPr><w:lang w:val="en-US"/></w:rPr><w:lastRenderedPageBreak/><w:t>tomer}}</w:t></w:r>`,
	))
	repaired := Repair(xml, []string{"customer"})
	assert.Contains(t, repaired, "{{customer}}")
}

func TestRepair_GenericPhaseWithoutNames(t *testing.T) {
	xml := wordDocument(para(run("Total: {{amo"), boldRun("unt}} EUR")))
	repaired := Repair(xml, nil)
	assert.Contains(t, repaired, "Total: {{amount}} EUR")
}

func TestRepair_LeavesUnrelatedRunsAlone(t *testing.T) {
	xml := wordDocument(para(run("Hello "), boldRun("world"), run("{{name}}")) + para(run("{ not } a marker")))
	assert.Equal(t, xml, Repair(xml, []string{"name"}))
}

func TestRepair_SectionTags(t *testing.T) {
	xml := wordDocument(para(run("{{#it"), boldRun("ems}}")) + para(run("{{/"), run("items}}")))
	repaired := Repair(xml, []string{"items"})
	assert.Contains(t, repaired, "{{#items}}")
	assert.Contains(t, repaired, "{{/items}}")
}

func TestRepair_Idempotent(t *testing.T) {
	fixtures := []string{
		wordDocument(para(run("Hello {{na"), boldRun("me}}"))),
		wordDocument(para(run("{"), run("{a"), run("}"), run("}"), run(" {{b}} {"), run("{c}}"))),
		wordDocument(para(run("{{x"), run("y"), run("z}}")) + para(run("{{ x"), run("yz }}"))),
		wordDocument(para(run("{ {"), run("} }"))),
	}
	names := []string{"name", "a", "b", "c", "xyz"}

	for i, xml := range fixtures {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			once := Repair(xml, names)
			assert.Equal(t, once, Repair(once, names))

			optimized := RepairOptimized(xml, names)
			assert.Equal(t, optimized, RepairOptimized(optimized, names))
		})
	}
}

func TestRepairOptimized_ShortCircuit(t *testing.T) {
	xml := wordDocument(para(run("{{a"), run("}}")) + para(run("{{b}}")))

	// 所有名称都完整时原样返回
	intact := wordDocument(para(run("{{a}}")) + para(run("{{b}}"), run("{x"), run("}")))
	assert.Equal(t, intact, RepairOptimized(intact, []string{"a", "b"}))

	repaired := RepairOptimized(xml, []string{"a", "b"})
	assert.Contains(t, repaired, "{{a}}")
	assert.Equal(t, Repair(xml, []string{"a", "b"}), repaired)
}

func TestRepairOptimized_TargetedOnlyForMissing(t *testing.T) {
	xml := wordDocument(para(run("{{name}"), boldRun("}")))
	repaired := RepairOptimized(xml, []string{"name"})
	assert.Contains(t, repaired, "{{name}}")
}

func TestSplitRunFixer_ConcurrentUse(t *testing.T) {
	fixer := NewSplitRunFixer()
	xml := wordDocument(para(run("{{na"), run("me}}")))

	done := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- fixer.Repair(xml, []string{"name"}) }()
	}
	for i := 0; i < 8; i++ {
		assert.Contains(t, <-done, "{{name}}")
	}
}
