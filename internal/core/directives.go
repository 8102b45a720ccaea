package core

import "fmt"

const (
	PresetSolve   = "solve"
	PresetLecture = "lecture"
	PresetAudit   = "audit"
)

const (
	solveDirective = "SYSTEM INSTRUCTION: You are an elite academic solver. Your goal is 100% accuracy. " +
		"Break down the logic step-by-step, verify every calculation twice, and provide the most rigorous " +
		"answer possible in high-quality academic format. If the user provides an image or text of a question, " +
		"solve it with extreme precision and clarity."

	lectureDirective = "أنت محلل أكاديمي متخصص. هذا تسجيل لفيديو من حصة على Microsoft Teams. " +
		"يرجى مشاهدة الفيديو وتقديم تلخيص شامل يتضمن: 1) أهم المواضيع التي نوقشت، 2) القرارات المتخذة، " +
		"3) المهام المطلوبة من الطلاب، 4) أي تواريخ مهمة ذكرت. كن دقيقاً جداً في نقلك للمعلومات."

	auditDirective = "SYSTEM: Perform a deep structural audit of the current context. Provide high-accuracy results."
)

// DirectiveFor returns the hidden prompt of a named preset.
func DirectiveFor(preset string) (string, error) {
	switch preset {
	case "":
		return "", nil
	case PresetSolve:
		return solveDirective, nil
	case PresetLecture:
		return lectureDirective, nil
	case PresetAudit:
		return auditDirective, nil
	default:
		return "", fmt.Errorf("unknown preset %q", preset)
	}
}

// apiText is what the model sees for the new turn: directive first, then a
// blank line, then the visible text.
func apiText(directive, text string) string {
	if directive == "" {
		return text
	}
	return directive + "\n\n" + text
}
