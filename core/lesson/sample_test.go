package lesson

import "lessonlift/models"

const sampleLesson = `**1. Lesson Overview**
Science, photosynthesis, Year 7, mixed ability, 60 minutes.

**2. Key Vocabulary**
| Tier 2 (Academic) | Tier 3 (Technical) |
| analyse | chlorophyll |
| compare | glucose |
| explain | stomata |

**3. Learning Objective & Success Criteria**
- Explain how plants make glucose.

**4. Retrieval Starter** (5 minutes)
1. What do plants need to grow? Model answer: light, water, carbon dioxide.

**5. Main Teaching** (20 minutes)
Teacher models the word equation.

**6. Guided Practice** (10 minutes)
We label a leaf diagram together.

**7. Independent / Supported Practice** (15 minutes)
Pupils complete the worksheet.

**8. Justification Plenary** (5 minutes)
Why do leaves need stomata?

**9. Differentiation**
- **Scaffold:** sentence starters.
- **Extension:** What if there was no light?

**10. Assessment & Evidence**
Mini whiteboards during guided practice.

**11. Resources**
- Leaf diagrams

**12. Safety & Risk Assessment**
No specific safety concerns. Standard classroom expectations apply.`

var sampleRequest = models.LessonRequest{
	YearGroup:      "Year 7",
	AbilityLevel:   "Mixed",
	LessonDuration: 60,
	Subject:        "Science",
	Topic:          "Photosynthesis",
}
