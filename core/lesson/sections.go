package lesson

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"lessonlift/models"
)

// Heading 教案中必须出现的小节
type Heading struct {
	Key      string
	Title    string
	aliases  []string
	guidance string
}

// Headings 按出现顺序排列的 12 个小节
var Headings = []Heading{
	{Key: "overview", Title: "Lesson Overview",
		guidance: "Subject, topic, year group, ability, duration"},
	{Key: "vocabulary", Title: "Key Vocabulary",
		guidance: "Present as a table with two columns:\n| Tier 2 (Academic) | Tier 3 (Technical) |\n| [word] | [word] |\n| [word] | [word] |\n| [word] | [word] |\n\n" +
			"- Tier 2: Cross-curricular academic vocabulary (e.g., analyse, demonstrate, compare)\n" +
			"- Tier 3: Subject-specific technical terms (e.g., photosynthesis, multiplication, adjective)\n" +
			"- Include exactly 3 words in each column\n- Make vocabulary age-appropriate for the year group"},
	{Key: "objectives", Title: "Learning Objective & Success Criteria",
		aliases: []string{"learning objectives & success criteria", "learning objective and success criteria", "learning objectives and success criteria"},
		guidance: "- Clear, measurable objective aligned to the ability level\n- 3-4 specific success criteria that can be observed"},
	{Key: "retrieval", Title: "Retrieval Starter",
		guidance: "(5 minutes)\n- 2-3 questions that activate prior knowledge needed for today's learning\n- Include model answers immediately after the questions"},
	{Key: "main_teaching", Title: "Main Teaching",
		guidance: "(appropriate timing)\n- Step-by-step explanation with explicit modelling\n- Use \"I Do\" approach - show exactly what to do\n" +
			"- Reference specific examples and teacher dialogue where helpful\n- Use visuals, manipulatives, or diagrams where appropriate\n" +
			"- Bold vocabulary words when first introduced and defined"},
	{Key: "guided_practice", Title: "Guided Practice",
		guidance: "(appropriate timing)\n- \"We Do\" together activities\n- Teacher-led examples with student participation\n- Check for understanding throughout"},
	{Key: "independent_practice", Title: "Independent / Supported Practice",
		aliases: []string{"independent/supported practice", "independent practice"},
		guidance: "(appropriate timing)\n- \"You Do\" activities closely aligned to success criteria\n- Scaffolded appropriately for the stated ability level\n- Specific task instructions"},
	{Key: "plenary", Title: "Justification Plenary",
		aliases: []string{"plenary"},
		guidance: "(5 minutes)\n- 2-3 \"How do you know?\" or \"Why?\" questions (NOT simple summaries)\n- Include model answers showing expected reasoning\n" +
			"- Examples: \"Why does X belong in this category?\", \"How do you know this is correct?\""},
	{Key: "differentiation", Title: "Differentiation",
		guidance: "- **Scaffold:** Specific sentence starters, worked examples, or visual aids\n" +
			"- **Extension:** Deeper \"Why?\" or \"What if?\" questions (not just harder language)\n- Must be content-specific to this lesson"},
	{Key: "assessment", Title: "Assessment & Evidence",
		aliases: []string{"assessment and evidence", "assessment"},
		guidance: "- How learning will be checked during the lesson\n- What observable evidence shows success criteria are met"},
	{Key: "resources", Title: "Resources",
		guidance: "- Complete, realistic list of materials needed"},
	{Key: "safety", Title: "Safety & Risk Assessment",
		aliases: []string{"safety and risk assessment", "safety"},
		guidance: "- If equipment/materials are used: List 3 specific safety points (hazard + control measure)\n" +
			"- If paper-based only: State \"No specific safety concerns. Standard classroom expectations apply.\""},
}

// FindHeading 按 key 查找小节
func FindHeading(key string) (Heading, bool) {
	for _, h := range Headings {
		if h.Key == key {
			return h, true
		}
	}
	return Heading{}, false
}

var (
	// 编号本身不算标记，编号列表项在正文中很常见
	headingMarker = regexp.MustCompile(`^(#{1,6}\s*|\*\*)`)
	headingPrefix = regexp.MustCompile(`^[#*\s]*(\d{1,2}[.)]\s*)?[*\s]*`)
)

// normalizeHeadingLine 去掉 Markdown 标记和编号，不是标题行时返回空串
func normalizeHeadingLine(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	marked := headingMarker.MatchString(line)
	s := headingPrefix.ReplaceAllString(line, "")
	s = strings.ToLower(strings.TrimSpace(s))
	if !marked {
		// 没有标记时（包括只有编号）整行必须就是标题或别名
		s = strings.TrimRight(s, ": ")
		for _, h := range Headings {
			if h.equals(s) {
				return s
			}
		}
		return ""
	}
	return s
}

func (h Heading) equals(normalized string) bool {
	if normalized == strings.ToLower(h.Title) {
		return true
	}
	for _, a := range h.aliases {
		if normalized == a {
			return true
		}
	}
	return false
}

func (h Heading) matches(normalized string) bool {
	if strings.HasPrefix(normalized, strings.ToLower(h.Title)) {
		return true
	}
	for _, a := range h.aliases {
		if strings.HasPrefix(normalized, a) {
			return true
		}
	}
	return false
}

type headingHit struct {
	heading Heading
	start   int // 标题行起始偏移
	body    int // 正文起始偏移
}

// SplitSections 按已知标题切分教案
// 每个小节取其标题的第一次出现，到之后最近的另一个标题为止；未出现的小节被省略
func SplitSections(text string) []models.Section {
	var hits []headingHit
	found := make(map[string]bool)

	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		start := offset
		offset += len(line)

		norm := normalizeHeadingLine(line)
		if norm == "" {
			continue
		}
		for _, h := range Headings {
			if found[h.Key] || !h.matches(norm) {
				continue
			}
			found[h.Key] = true
			hits = append(hits, headingHit{heading: h, start: start, body: offset})
			break
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	sections := make([]models.Section, 0, len(hits))
	for i, hit := range hits {
		end := len(text)
		if i+1 < len(hits) {
			end = hits[i+1].start
		}
		sections = append(sections, models.Section{
			Key:     hit.heading.Key,
			Title:   hit.heading.Title,
			Content: strings.TrimSpace(text[hit.body:end]),
		})
	}
	return sections
}

// MissingSections 返回输出中缺少的小节 key
func MissingSections(text string) []string {
	present := make(map[string]bool)
	for _, s := range SplitSections(text) {
		present[s.Key] = true
	}
	var missing []string
	for _, h := range Headings {
		if !present[h.Key] {
			missing = append(missing, h.Key)
		}
	}
	return missing
}

// ApplyRefinements 用改写结果替换对应小节
func ApplyRefinements(sections []models.Section, refined map[string]string) []models.Section {
	out := make([]models.Section, len(sections))
	for i, s := range sections {
		if r, ok := refined[s.Key]; ok {
			s.Content = r
			s.Refined = true
		}
		out[i] = s
	}
	return out
}

// JoinSections 以粗体编号标题重新组成 Markdown 全文
func JoinSections(sections []models.Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if n := headingNumber(s.Key); n > 0 {
			fmt.Fprintf(&b, "**%d. %s**\n", n, s.Title)
		} else {
			fmt.Fprintf(&b, "**%s**\n", s.Title)
		}
		b.WriteString(s.Content)
	}
	return b.String()
}

func headingNumber(key string) int {
	for i, h := range Headings {
		if h.Key == key {
			return i + 1
		}
	}
	return 0
}

var fence = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*\n(.*?)\n?```\\s*$")

// StripCodeFences 去掉模型偶尔包在外层的 ```markdown 代码块
func StripCodeFences(text string) string {
	if m := fence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}
