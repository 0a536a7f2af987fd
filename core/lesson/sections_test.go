package lesson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSectionsFindsAllHeadings(t *testing.T) {
	sections := SplitSections(sampleLesson)
	require.Len(t, sections, len(Headings))
	for i, s := range sections {
		assert.Equal(t, Headings[i].Key, s.Key)
		assert.Equal(t, Headings[i].Title, s.Title)
		assert.NotEmpty(t, s.Content, s.Key)
	}

	assert.Equal(t, "Science, photosynthesis, Year 7, mixed ability, 60 minutes.", sections[0].Content)
	assert.Contains(t, sections[1].Content, "| analyse | chlorophyll |")
	assert.Equal(t, "Pupils complete the worksheet.", sections[6].Content)
	assert.Contains(t, sections[8].Content, "**Scaffold:**")
	assert.Empty(t, MissingSections(sampleLesson))
}

func TestSplitSectionsToleratesMarkdownVariants(t *testing.T) {
	text := "Intro text that is not a section.\n\n" +
		"## 2. Key Vocabulary\nwords\n\n" +
		"### Lesson Overview\noverview\n\n" +
		"**Assessment and Evidence:**\nquiz\n\n" +
		"Resources\npaper\n"

	sections := SplitSections(text)
	require.Len(t, sections, 4)
	// 按在文中出现的位置排序
	assert.Equal(t, "vocabulary", sections[0].Key)
	assert.Equal(t, "words", sections[0].Content)
	assert.Equal(t, "overview", sections[1].Key)
	assert.Equal(t, "assessment", sections[2].Key)
	assert.Equal(t, "quiz", sections[2].Content)
	assert.Equal(t, "resources", sections[3].Key)
	assert.Equal(t, "paper", sections[3].Content)

	missing := MissingSections(text)
	assert.Contains(t, missing, "safety")
	assert.NotContains(t, missing, "overview")
}

func TestSplitSectionsUsesFirstOccurrence(t *testing.T) {
	text := "**Resources**\nfirst\n**Differentiation**\nscaffold\n**Resources**\nsecond\n"
	sections := SplitSections(text)
	require.Len(t, sections, 2)
	assert.Equal(t, "resources", sections[0].Key)
	assert.Equal(t, "first", sections[0].Content)
	// 第二次出现不再开启新小节，而是留在前一小节中
	assert.Contains(t, sections[1].Content, "second")
}

func TestSplitSectionsIgnoresInlineMentions(t *testing.T) {
	text := "**Lesson Overview**\nWe will check Resources later.\nResources are listed below.\n**Resources**\npencils"
	sections := SplitSections(text)
	require.Len(t, sections, 2)
	assert.Equal(t, "We will check Resources later.\nResources are listed below.", sections[0].Content)
	assert.Equal(t, "pencils", sections[1].Content)
}

func TestApplyRefinementsAndJoin(t *testing.T) {
	sections := SplitSections(sampleLesson)
	refined := ApplyRefinements(sections, map[string]string{"plenary": "How do you know?"})

	assert.True(t, refined[7].Refined)
	assert.Equal(t, "How do you know?", refined[7].Content)
	assert.False(t, refined[0].Refined)
	assert.False(t, sections[7].Refined, "input must not be modified")

	joined := JoinSections(refined)
	assert.Contains(t, joined, "**8. Justification Plenary**\nHow do you know?")
	assert.Contains(t, joined, "**12. Safety & Risk Assessment**")

	again := SplitSections(joined)
	assert.Len(t, again, len(Headings))
	assert.Equal(t, "How do you know?", again[7].Content)
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, "**1. Lesson Overview**\nhi", StripCodeFences("```markdown\n**1. Lesson Overview**\nhi\n```"))
	assert.Equal(t, "plain", StripCodeFences("  plain \n"))
	assert.Equal(t, "a ``` b", StripCodeFences("a ``` b"))
}

func TestFindHeading(t *testing.T) {
	h, ok := FindHeading("safety")
	assert.True(t, ok)
	assert.Equal(t, "Safety & Risk Assessment", h.Title)

	_, ok = FindHeading("nope")
	assert.False(t, ok)
}

func TestSplitSectionsIgnoresNumberedBodyItems(t *testing.T) {
	text := "**5. Main Teaching**\n" +
		"1. Model the method on the board.\n" +
		"2. Resources: hand out worksheets\n" +
		"3. Guided Practice starts after the demo\n\n" +
		"**11. Resources**\nworksheets, rulers\n\n" +
		"12. Safety & Risk Assessment\nKeep scissors on the table.\n"

	sections := SplitSections(text)
	require.Len(t, sections, 3)
	assert.Equal(t, "main_teaching", sections[0].Key)
	assert.Contains(t, sections[0].Content, "2. Resources: hand out worksheets")
	assert.Contains(t, sections[0].Content, "3. Guided Practice starts after the demo")
	assert.Equal(t, "resources", sections[1].Key)
	assert.Equal(t, "worksheets, rulers", sections[1].Content)
	// 只有编号的独立标题行仍然识别
	assert.Equal(t, "safety", sections[2].Key)
	assert.Equal(t, "Keep scissors on the table.", sections[2].Content)
}
