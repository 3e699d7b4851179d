package intent

import (
	"strings"
)

// Label 表示一条咨询适合引导到哪种诊断。
type Label string

const (
	None   Label = "none"
	Tongue Label = "tongue"
	Face   Label = "face"
	// Urgent 表示疑似急症，不发卡片，提醒就医。
	Urgent Label = "urgent"
)

// Decision 给出意图识别结果。
type Decision struct {
	Intent Label
	Score  int
}

// CardWorthy reports whether the reply should carry a questionnaire card.
func (d Decision) CardWorthy() bool {
	return d.Intent == Tongue || d.Intent == Face
}

// 达到该分数才认为意图明确。
const threshold = 3

var keywordBuckets = map[Label][]string{
	Tongue: {
		"舌", "舌苔", "舌头", "舌诊", "口干", "口苦", "口臭", "湿气", "湿重", "脾胃", "消化", "胃口", "食欲",
		"腹胀", "便秘", "大便", "体质", "气血", "气虚", "阳虚", "阴虚", "怕冷", "手脚冰凉", "上火", "tongue",
	},
	Face: {
		"面诊", "面色", "脸色", "气色", "黑眼圈", "眼圈", "长痘", "痘痘", "出油", "暗沉", "发黄", "蜡黄",
		"苍白", "色斑", "脸", "皮肤", "熬夜", "唇色", "嘴唇", "face", "acne",
	},
	Urgent: {
		"胸痛", "胸口痛", "呼吸困难", "喘不上气", "昏迷", "晕倒", "抽搐", "大出血", "吐血", "便血",
		"剧烈头痛", "中风", "心梗", "自杀", "chest pain",
	},
}

// Analyze 根据用户话语与 AI 回复推断是否需要引导诊断。
func Analyze(userUtterance, aiUtterance string) Decision {
	user := scoreText(userUtterance)
	if user[Urgent] > 0 {
		return Decision{Intent: Urgent, Score: user[Urgent]}
	}

	// AI 回复只做加成，避免助手自己提到"舌苔"就反复发卡片。
	ai := scoreText(aiUtterance)
	best, bestScore := None, 0
	for _, label := range []Label{Tongue, Face} {
		score := user[label]*2 + ai[label]
		if score > bestScore {
			best, bestScore = label, score
		}
	}

	if bestScore < threshold || user[best] == 0 {
		return Decision{Intent: None, Score: bestScore}
	}
	return Decision{Intent: best, Score: bestScore}
}

func scoreText(text string) map[Label]int {
	scores := make(map[Label]int, len(keywordBuckets))
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return scores
	}

	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 2
			}
		}
	}
	return scores
}

// ParseLabel 解析分类器输出的标签。
func ParseLabel(raw string) (Label, bool) {
	switch Label(strings.ToLower(strings.TrimSpace(raw))) {
	case None:
		return None, true
	case Tongue:
		return Tongue, true
	case Face:
		return Face, true
	case Urgent:
		return Urgent, true
	default:
		return "", false
	}
}
