package lesson

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"lessonlift/models"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.Table,
		extension.Strikethrough,
	),
)

var (
	boldLine     = regexp.MustCompile(`^\*\*([^*].*?)\*\*$`)
	tableDivider = regexp.MustCompile(`^\|?(\s*:?-{3,}:?\s*\|)+\s*:?-*:?\s*\|?$`)
)

func isTableRow(line string) bool {
	return len(line) > 1 && strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|")
}

func tableColumns(line string) int {
	n := 0
	for _, cell := range strings.Split(strings.Trim(line, "|"), "|") {
		if strings.TrimSpace(cell) != "" {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

// prepareMarkdown 把模型输出整理成 goldmark 能正确解析的 Markdown：
// 单独一行的粗体标题提升为 ##，表格补上分隔行并与前后文本用空行隔开
func prepareMarkdown(content string) string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines)+8)
	inTable := false

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		if isTableRow(line) {
			if !inTable {
				if len(out) > 0 && out[len(out)-1] != "" {
					out = append(out, "")
				}
				out = append(out, line)
				inTable = true
				next := ""
				if i+1 < len(lines) {
					next = strings.TrimSpace(lines[i+1])
				}
				if !tableDivider.MatchString(next) {
					out = append(out, strings.Repeat("|---", tableColumns(line))+"|")
				}
				continue
			}
			out = append(out, line)
			continue
		}
		if inTable {
			inTable = false
			if line != "" {
				out = append(out, "")
			}
		}

		if m := boldLine.FindStringSubmatch(line); m != nil && !strings.Contains(m[1], "**") {
			out = append(out, "## "+m[1])
			continue
		}
		out = append(out, raw)
	}
	return strings.Join(out, "\n")
}

// RenderHTML 渲染带课程信息头的 HTML 片段，模型输出中的原始 HTML 会被忽略
func RenderHTML(content string, req models.LessonRequest) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(prepareMarkdown(content)), &body); err != nil {
		return "", fmt.Errorf("render lesson markdown: %w", err)
	}

	var b strings.Builder
	b.WriteString(`<div class="lesson-plan">`)
	b.WriteString(`<div class="lesson-header">`)
	fmt.Fprintf(&b, "<h1>%s: %s</h1>", html.EscapeString(req.Subject), html.EscapeString(req.Topic))
	b.WriteString(`<div class="lesson-meta">`)
	fmt.Fprintf(&b, `<span class="meta-item"><strong>Year Group:</strong> %s</span>`, html.EscapeString(req.YearGroup))
	fmt.Fprintf(&b, `<span class="meta-item"><strong>Ability:</strong> %s</span>`, html.EscapeString(req.AbilityLevel))
	fmt.Fprintf(&b, `<span class="meta-item"><strong>Duration:</strong> %d minutes</span>`, req.LessonDuration)
	b.WriteString(`</div></div>`)
	b.WriteString(`<div class="lesson-content">`)
	b.Write(body.Bytes())
	b.WriteString(`</div></div>`)
	return b.String(), nil
}

const banner = "========================================\n"

// RenderText 纯文本导出
func RenderText(content string, req models.LessonRequest) string {
	var b strings.Builder
	b.WriteString(banner)
	b.WriteString("LESSON PLAN\n")
	b.WriteString(banner)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	fmt.Fprintf(&b, "Year Group: %s\n", req.YearGroup)
	fmt.Fprintf(&b, "Ability Level: %s\n", req.AbilityLevel)
	fmt.Fprintf(&b, "Duration: %d minutes\n\n", req.LessonDuration)
	if req.LearningObjective != "" {
		fmt.Fprintf(&b, "Learning Objective: %s\n\n", req.LearningObjective)
	}
	if req.SenEalNotes != "" {
		fmt.Fprintf(&b, "SEN/EAL Notes: %s\n\n", req.SenEalNotes)
	}
	b.WriteString(banner)
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(banner)
	b.WriteString("Generated by LessonLift\n")
	b.WriteString(banner)
	return b.String()
}

// RenderMarkdown Markdown 导出
func RenderMarkdown(content string, req models.LessonRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", req.Subject, req.Topic)
	fmt.Fprintf(&b, "- **Year Group:** %s\n", req.YearGroup)
	fmt.Fprintf(&b, "- **Ability:** %s\n", req.AbilityLevel)
	fmt.Fprintf(&b, "- **Duration:** %d minutes\n", req.LessonDuration)
	if req.LearningObjective != "" {
		fmt.Fprintf(&b, "- **Learning Objective:** %s\n", req.LearningObjective)
	}
	if req.SenEalNotes != "" {
		fmt.Fprintf(&b, "- **SEN/EAL Notes:** %s\n", req.SenEalNotes)
	}
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("\n")
	return b.String()
}

// Export 导出文档
type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(parts ...string) string {
	s := strings.ToLower(strings.Join(parts, " "))
	s = strings.Trim(slugUnsafe.ReplaceAllString(s, "-"), "-")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	if s == "" {
		s = "lesson"
	}
	return s
}

// Render 按格式生成导出文件，format 为 html / md / txt
func Render(format, content string, req models.LessonRequest) (*Export, error) {
	name := slug(req.Subject, req.Topic)
	switch strings.ToLower(format) {
	case "html":
		body, err := RenderHTML(content, req)
		if err != nil {
			return nil, err
		}
		doc := fmt.Sprintf("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n<title>%s</title>\n</head>\n<body>\n%s\n</body>\n</html>\n",
			html.EscapeString(req.Subject+": "+req.Topic), body)
		return &Export{Filename: name + ".html", ContentType: "text/html; charset=utf-8", Body: []byte(doc)}, nil
	case "md":
		return &Export{Filename: name + ".md", ContentType: "text/markdown; charset=utf-8", Body: []byte(RenderMarkdown(content, req))}, nil
	case "txt":
		return &Export{Filename: name + ".txt", ContentType: "text/plain; charset=utf-8", Body: []byte(RenderText(content, req))}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}
