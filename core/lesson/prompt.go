// Package lesson builds lesson prompts and turns model output into sections,
// HTML, Markdown and plain-text documents.
package lesson

import (
	"fmt"
	"strings"

	"lessonlift/models"
)

const (
	// MaxAttempts 单次生成为达到最少字数最多请求的次数
	MaxAttempts = 3

	Temperature = 0.25
)

// SystemPrompt 所有生成请求共用的系统提示
const SystemPrompt = "You are an expert UK classroom teacher and lesson designer. Generate classroom-ready lesson plans " +
	"that score 8/10+ in professional reviews. Prioritise clarity, realistic pacing, and practical teachability. " +
	"Use British English. Follow the exact structure provided: Lesson Overview, Key Vocabulary (table format with " +
	"Tier 2 and Tier 3), Learning Objective & Success Criteria, Retrieval Starter, Main Teaching (with I Do modelling), " +
	"Guided Practice (We Do), Independent Practice (You Do), Justification Plenary (reasoning questions, not summaries), " +
	"Differentiation (specific scaffolds and extensions), Assessment & Evidence, Resources, and Safety notes. " +
	"Bold vocabulary words when defined. Include model answers for all questions. Avoid cognitive overload - teach " +
	"1 concept thoroughly rather than rushing multiple topics. All activities must be subject-specific and directly relevant."

// MinWordCount 按课时长度返回最少字数
func MinWordCount(duration int) int {
	switch duration {
	case 45:
		return 850
	case 60:
		return 1000
	default:
		return 750
	}
}

func MaxWordCount(duration int) int { return MinWordCount(duration) + 300 }

func CountWords(text string) int { return len(strings.Fields(text)) }

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// BuildLessonPrompt 构建教案生成提示词；retry 为 true 时追加字数不足的提醒
func BuildLessonPrompt(req models.LessonRequest, retry bool) string {
	minWords := MinWordCount(req.LessonDuration)
	var b strings.Builder

	b.WriteString("You are an expert UK classroom teacher and lesson designer.\n")
	b.WriteString("Generate a classroom-ready UK lesson plan that would confidently score at least 8/10 in a professional review.\n\n")

	b.WriteString("LESSON DETAILS:\n")
	fmt.Fprintf(&b, "Year Group: %s\n", req.YearGroup)
	fmt.Fprintf(&b, "Subject: %s\n", req.Subject)
	fmt.Fprintf(&b, "Topic: %s\n", req.Topic)
	fmt.Fprintf(&b, "Ability Level: %s\n", req.AbilityLevel)
	fmt.Fprintf(&b, "Lesson Duration: %d minutes\n", req.LessonDuration)
	fmt.Fprintf(&b, "Learning Objective: %s\n", orDefault(req.LearningObjective, "Not specified"))
	fmt.Fprintf(&b, "SEN/EAL Notes: %s\n\n", orDefault(req.SenEalNotes, "None"))

	b.WriteString("STRICT RULES:\n")
	b.WriteString("• Match the Year Group and Ability precisely\n")
	b.WriteString("• Teach 1 core concept for lower ability, up to 2 linked concepts for mixed/higher\n")
	b.WriteString("• Avoid cognitive overload and unnecessary theory\n")
	b.WriteString("• Prioritise clarity, modelling, and scaffolding\n")
	b.WriteString("• Use British English only (analyse, organise, colour, etc.)\n")
	fmt.Fprintf(&b, "• Minimum %d words, maximum %d words\n", minWords, minWords+300)
	b.WriteString("• Bold all section headings with **heading** format\n")
	fmt.Fprintf(&b, "• Include timing estimates that are realistic (must total %d mins)\n\n", req.LessonDuration)

	b.WriteString("MANDATORY STRUCTURE:\n\n")
	for i, h := range Headings {
		fmt.Fprintf(&b, "**%d. %s**\n%s\n\n", i+1, h.Title, h.guidance)
	}

	b.WriteString("QUALITY CHECKS:\n")
	fmt.Fprintf(&b, "• Is this lesson realistic and teachable within %d minutes?\n", req.LessonDuration)
	b.WriteString("• Does it avoid cognitive overload for the stated ability?\n")
	b.WriteString("• Are instructions clear enough for immediate classroom use?\n")
	b.WriteString("• Is there a logical flow from retrieval → teaching → practice → assessment?")

	if s := strings.TrimSpace(req.RegenerationInstruction); s != "" {
		fmt.Fprintf(&b, "\n\nSPECIAL INSTRUCTION: %s", s)
	}

	if retry {
		b.WriteString("\n\nCRITICAL: The previous response was too short. You MUST:\n")
		b.WriteString("- Include ALL mandatory sections in order\n")
		fmt.Fprintf(&b, "- Reach the %d word minimum (maximum %d)\n", minWords, minWords+300)
		b.WriteString("- Provide detailed, step-by-step content in each section\n")
		b.WriteString("- Include complete model answers for retrieval and plenary questions\n")
		b.WriteString("- Ensure vocabulary table is properly formatted\n")
		b.WriteString("- Add specific scaffolds and extensions")
	}
	return b.String()
}

// Refinement modes
const (
	ModeEnhance  = "enhance"
	ModeSimplify = "simplify"
)

// BuildRefinePrompt 构建单个小节的改写提示词
func BuildRefinePrompt(req models.LessonRequest, section models.Section, mode string) (string, error) {
	var instruction string
	switch mode {
	case ModeEnhance:
		instruction = "Please enhance this section with more detail, engagement, and UK curriculum-appropriate language."
	case ModeSimplify:
		instruction = "Please simplify this section for easier readability and accessibility (e.g., for younger pupils or lower ability groups)."
	default:
		return "", fmt.Errorf("unknown refinement mode %q", mode)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Here is part of a UK %s lesson plan for %s (%s ability, %d minutes) on %q:\n\n",
		req.Subject, req.YearGroup, req.AbilityLevel, req.LessonDuration, req.Topic)
	fmt.Fprintf(&b, "Section: %s\n", section.Title)
	b.WriteString("Original Content:\n")
	b.WriteString(section.Content)
	b.WriteString("\n\n")
	b.WriteString(instruction)
	b.WriteString("\nReturn only the rewritten section content in Markdown, without the section heading. Use British English.")
	return b.String(), nil
}
