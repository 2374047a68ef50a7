package emotion

import (
	"regexp"
	"strings"
)

// Label 表示角色回复所表达的情绪。
type Label string

const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Sad       Label = "sad"
	Angry     Label = "angry"
	Surprised Label = "surprised"
	Thinking  Label = "thinking"
)

const (
	defaultIntensity = 50
	tagIntensityStep = 25
	maxIntensity     = 100
)

// Decision 给出情绪识别结果以及情绪强度（0~100）。
type Decision struct {
	Emotion   Label  `json:"type"`
	Intensity int    `json:"intensity"`
	Score     int    `json:"-"`
	Text      string `json:"-"`
}

var tagPattern = regexp.MustCompile(`\[(\w+)\]`)

var tagAliases = map[string]Label{
	"happy":     Happy,
	"happiness": Happy,
	"joy":       Happy,
	"smile":     Happy,
	"sad":       Sad,
	"sadness":   Sad,
	"cry":       Sad,
	"angry":     Angry,
	"anger":     Angry,
	"mad":       Angry,
	"surprised": Surprised,
	"surprise":  Surprised,
	"shocked":   Surprised,
	"thinking":  Thinking,
	"think":     Thinking,
	"wonder":    Thinking,
	"neutral":   Neutral,
	"normal":    Neutral,
}

// scoring order doubles as the tie breaker.
var labelOrder = []Label{Happy, Sad, Angry, Surprised, Thinking}

var keywordBuckets = map[Label][]string{
	Happy: {
		"행복", "기뻐", "좋아", "사랑해", "고마워", "신나", "웃", "ㅎㅎ", "ㅋㅋ", "최고",
		"happy", "glad", "love", "thanks", "thank you", "great", "awesome", "haha",
	},
	Sad: {
		"슬퍼", "슬프", "우울", "외로", "눈물", "울고", "속상", "힘들", "미안", "보고싶",
		"sad", "cry", "lonely", "miss you", "sorry", "upset", "hurt", "depressed",
	},
	Angry: {
		"화나", "화가", "짜증", "싫어", "열받", "미워", "그만해",
		"angry", "furious", "mad", "annoyed", "hate",
	},
	Surprised: {
		"깜짝", "놀랐", "놀라", "세상에", "진짜?", "헐", "대박",
		"wow", "surprise", "shocked", "no way", "omg", "unbelievable",
	},
	Thinking: {
		"글쎄", "생각해", "고민", "어떻게", "왜", "궁금",
		"hmm", "think", "wonder", "maybe", "perhaps", "curious",
	},
}

// Analyze 根据回复中的 [tag] 标记推断情绪，没有标记时回退到关键词打分。
func Analyze(reply string) Decision {
	if strings.TrimSpace(reply) == "" {
		return Decision{Emotion: Neutral, Intensity: defaultIntensity}
	}

	cleaned := StripTags(reply)
	if decision, ok := fromTags(reply); ok {
		decision.Text = cleaned
		return decision
	}

	decision := scoreText(cleaned)
	decision.Text = cleaned
	return decision
}

// StripTags removes [tag] markers and collapses whitespace.
func StripTags(text string) string {
	if text == "" {
		return text
	}
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(text, "")), " ")
}

// Tags returns the recognised labels in order of appearance.
func Tags(text string) []Label {
	var labels []Label
	for _, match := range tagPattern.FindAllStringSubmatch(text, -1) {
		if label, ok := tagAliases[strings.ToLower(match[1])]; ok {
			labels = append(labels, label)
		}
	}
	return labels
}

func fromTags(text string) (Decision, bool) {
	labels := Tags(text)
	if len(labels) == 0 {
		return Decision{}, false
	}

	// 第一个非 neutral 标签决定情绪，多个标签叠加强度。
	detected := Neutral
	for _, label := range labels {
		if label != Neutral {
			detected = label
			break
		}
	}

	intensity := len(labels) * tagIntensityStep
	if intensity > maxIntensity {
		intensity = maxIntensity
	}
	return Decision{Emotion: detected, Intensity: intensity, Score: len(labels)}, true
}

func scoreText(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Decision{Emotion: Neutral, Intensity: defaultIntensity}
	}

	scores := make(map[Label]int, len(labelOrder))
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!")
	switch {
	case exclamations == 1:
		scores[Happy] += 2
	case exclamations > 1:
		scores[Surprised] += exclamations * 2
	}
	scores[Thinking] += strings.Count(text, "?")

	best, bestScore := Neutral, 0
	for _, label := range labelOrder {
		if scores[label] > bestScore {
			best, bestScore = label, scores[label]
		}
	}

	if bestScore == 0 {
		return Decision{Emotion: Neutral, Intensity: defaultIntensity}
	}

	intensity := 40 + bestScore*10
	if intensity > maxIntensity {
		intensity = maxIntensity
	}
	return Decision{Emotion: best, Intensity: intensity, Score: bestScore}
}
