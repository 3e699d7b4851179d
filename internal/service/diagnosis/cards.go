package diagnosis

import "github.com/zhouzirui/qinghe-assistant/internal/model/chat"

type kindText struct {
	name          string
	questionnaire string
	capture       string
	tips          []string
}

var kinds = map[string]kindText{
	"tongue": {
		name:          "舌诊",
		questionnaire: "舌诊前问卷",
		capture:       "拍摄舌象",
		tips:          []string{"自然光下拍摄", "舌头自然伸出，不要用力", "拍摄前半小时避免进食有色食物"},
	},
	"face": {
		name:          "面诊",
		questionnaire: "面诊前问卷",
		capture:       "拍摄面部",
		tips:          []string{"素颜，正对镜头", "避免强光直射或逆光", "摘下眼镜，露出额头"},
	},
}

// Supported reports whether diagnosisType is a known diagnosis.
func Supported(diagnosisType string) bool {
	_, ok := kinds[diagnosisType]
	return ok
}

// QuestionnaireCard 构造引导填写问卷的卡片。
func QuestionnaireCard(diagnosisType, reason string) *chat.ActionCard {
	k, ok := kinds[diagnosisType]
	if !ok {
		return nil
	}
	return &chat.ActionCard{
		Type:          chat.CardQuestionnaire,
		DiagnosisType: diagnosisType,
		Title:         k.questionnaire,
		Description:   "回答几个简单问题，帮助更准确地进行" + k.name + "。",
		Reason:        reason,
		Icon:          "list.clipboard",
		Buttons: []chat.CardButton{
			{Text: "开始填写", Type: chat.ButtonPrimary, Action: chat.ActionStartQuestionnaire.Code()},
			{Text: "稍后再说", Type: chat.ButtonSecondary, Action: "later"},
		},
	}
}

// CaptureCard 构造拍照卡片，问卷完成后下发。
func CaptureCard(diagnosisType string) *chat.ActionCard {
	k, ok := kinds[diagnosisType]
	if !ok {
		return nil
	}
	return &chat.ActionCard{
		Type:          chat.DiagnosisCardType(diagnosisType),
		DiagnosisType: diagnosisType,
		Title:         k.capture,
		Description:   "问卷已完成，拍一张照片即可开始" + k.name + "分析。",
		Icon:          "camera",
		Buttons: []chat.CardButton{
			{Text: "开始拍摄", Type: chat.ButtonPrimary, Action: chat.CaptureAction(diagnosisType).Code()},
			{Text: "稍后再说", Type: chat.ButtonSecondary, Action: "later"},
		},
		Tips: append([]string(nil), k.tips...),
	}
}
