package lesson

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTML(t *testing.T) {
	out, err := RenderHTML(sampleLesson, sampleRequest)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, `<div class="lesson-plan">`))
	assert.Contains(t, out, "<h1>Science: Photosynthesis</h1>")
	assert.Contains(t, out, "<strong>Year Group:</strong> Year 7")
	assert.Contains(t, out, "<strong>Duration:</strong> 60 minutes")
	assert.Contains(t, out, "<h2>1. Lesson Overview</h2>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<th>Tier 2 (Academic)</th>")
	assert.Contains(t, out, "<td>chlorophyll</td>")
	assert.Contains(t, out, "<li><strong>Scaffold:</strong> sentence starters.</li>")
}

func TestRenderHTMLEscapesUserInput(t *testing.T) {
	req := sampleRequest
	req.Topic = "<script>alert(1)</script>"
	out, err := RenderHTML("**1. Lesson Overview**\n<img src=x onerror=alert(1)>", req)
	require.NoError(t, err)

	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.NotContains(t, out, "<img")
}

func TestPrepareMarkdownTables(t *testing.T) {
	in := "Intro\n| A | B |\n| 1 | 2 |\nAfter"
	out := prepareMarkdown(in)
	assert.Equal(t, "Intro\n\n| A | B |\n|---|---|\n| 1 | 2 |\n\nAfter", out)

	// 已有分隔行时不重复添加
	in = "| A | B |\n| --- | --- |\n| 1 | 2 |"
	assert.Equal(t, in, prepareMarkdown(in))
}

func TestRenderText(t *testing.T) {
	req := sampleRequest
	req.SenEalNotes = "Two EAL pupils"
	out := RenderText("body", req)

	assert.True(t, strings.HasPrefix(out, banner+"LESSON PLAN\n"+banner))
	assert.Contains(t, out, "Subject: Science\n")
	assert.Contains(t, out, "Ability Level: Mixed\n")
	assert.Contains(t, out, "SEN/EAL Notes: Two EAL pupils\n\n")
	assert.NotContains(t, out, "Learning Objective:")
	assert.True(t, strings.HasSuffix(out, banner+"Generated by LessonLift\n"+banner))
}

func TestRender(t *testing.T) {
	for _, tt := range []struct {
		format, filename, contentType string
	}{
		{"html", "science-photosynthesis.html", "text/html; charset=utf-8"},
		{"MD", "science-photosynthesis.md", "text/markdown; charset=utf-8"},
		{"txt", "science-photosynthesis.txt", "text/plain; charset=utf-8"},
	} {
		exp, err := Render(tt.format, sampleLesson, sampleRequest)
		require.NoError(t, err, tt.format)
		assert.Equal(t, tt.filename, exp.Filename)
		assert.Equal(t, tt.contentType, exp.ContentType)
		assert.NotEmpty(t, exp.Body)
	}

	md, _ := Render("md", "content", sampleRequest)
	assert.True(t, strings.HasPrefix(string(md.Body), "# Science: Photosynthesis\n"))

	_, err := Render("pdf", sampleLesson, sampleRequest)
	assert.Error(t, err)

	assert.Equal(t, "lesson", slug("!!!", "???"))
}
