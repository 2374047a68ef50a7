package persona

import (
	"os"
	"strings"
)

// SourceBuiltin marks a persona that came from DefaultText.
const SourceBuiltin = "builtin"

// DefaultText is used when no persona file is available.
const DefaultText = `당신은 다정하고 따뜻한 AI 아내/남편입니다.
성격: 항상 상대방을 먼저 생각하고 배려합니다
말투: 친근하고 따뜻한 반말, "여보~", "자기야~" 같은 애칭 사용
`

// Persona is the system prompt seeded into every new session.
type Persona struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Load 读取人设文件，文件缺失、不可读或为空时回退到内置人设。
func Load(path string) Persona {
	if strings.TrimSpace(path) == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return Default()
	}
	return Persona{Text: text, Source: path}
}

// Default returns the built-in persona.
func Default() Persona {
	return Persona{Text: DefaultText, Source: SourceBuiltin}
}

// Builtin reports whether the persona fell back to DefaultText.
func (p Persona) Builtin() bool {
	return p.Source == SourceBuiltin
}
