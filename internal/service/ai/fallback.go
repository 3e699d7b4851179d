package ai

import (
	"context"
	"strings"

	analysis "github.com/zhouzirui/qinghe-assistant/internal/analysis/intent"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/service/intent"
)

type rule struct {
	keywords []string
	reply    string
}

var fallbackRules = []rule{
	{
		keywords: []string{"气血"},
		reply:    "气血充足的人通常面色红润有光泽、唇色淡红、精力充沛、睡眠安稳，手脚温暖。若常感乏力、面色苍白或萎黄、头晕心慌，多提示气血不足，可以适当多吃红枣、桂圆、瘦肉，保证睡眠，并配合散步、八段锦等温和运动。",
	},
	{
		keywords: []string{"失眠", "睡不着", "睡眠"},
		reply:    "睡眠不好常与作息不规律、思虑过多有关。建议固定作息时间，睡前一小时远离手机，晚餐不过饱，可以用温水泡脚 15 分钟，也可以尝试酸枣仁、百合等安神食材。",
	},
	{
		keywords: []string{"湿气", "湿重", "舌苔"},
		reply:    "舌苔厚腻、身体困重、大便黏滞，多与湿气偏重有关。饮食宜清淡，少吃生冷甜腻，可适量食用薏米、赤小豆、山药，并坚持适度运动帮助排湿。",
	},
	{
		keywords: []string{"上火", "口干", "口苦"},
		reply:    "口干口苦、咽痛、长口疮多与内热有关。建议多喝温水，少吃辛辣煎炸，早点休息，可以喝些菊花茶或绿豆汤清热。",
	},
	{
		keywords: []string{"脸色", "面色", "气色", "黑眼圈"},
		reply:    "面色和气色能反映脏腑气血的状况。熬夜、饮食不规律都会让气色变差，建议保证 11 点前入睡，多吃新鲜蔬果，适量运动促进气血运行。",
	},
}

const (
	defaultReply = "谢谢你的描述。日常调理可以从规律作息、均衡饮食、适度运动三方面入手。如果方便，可以再说说你的睡眠、饮食和精神状态，我帮你进一步分析。"
	urgentReply  = "你描述的症状可能比较紧急，请立即前往医院就诊或拨打 120，不要自行处理或拖延。"
	tongueHint   = "\n\n为了更准确地判断体质，建议先完成一份舌诊前问卷，再拍摄舌象。"
	faceHint     = "\n\n为了更准确地判断气色，建议先完成一份面诊前问卷，再拍摄面部照片。"
)

// FallbackResponder 在未配置大模型时按关键词给出回复。
type FallbackResponder struct{}

// Reply implements Responder.
func (FallbackResponder) Reply(_ context.Context, _ []chat.HistoryMessage, userMessage string, guidance *intent.Guidance) (string, error) {
	if guidance != nil && guidance.Decision.Intent == analysis.Urgent {
		return urgentReply, nil
	}

	reply := defaultReply
	for _, r := range fallbackRules {
		if containsAny(userMessage, r.keywords) {
			reply = r.reply
			break
		}
	}

	if guidance != nil {
		switch guidance.Decision.Intent {
		case analysis.Tongue:
			reply += tongueHint
		case analysis.Face:
			reply += faceHint
		}
	}
	return reply, nil
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
