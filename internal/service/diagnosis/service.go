package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/qinghe-assistant/internal/metrics"
	"github.com/zhouzirui/qinghe-assistant/internal/model/chat"
	"github.com/zhouzirui/qinghe-assistant/internal/model/questionnaire"
	chatservice "github.com/zhouzirui/qinghe-assistant/internal/service/chat"
)

var (
	ErrUnsupportedType = errors.New("unsupported diagnosis type")
	ErrReportNotFound  = errors.New("diagnosis report not found")
	ErrBusy            = errors.New("diagnosis queue is full")
	ErrNotRunning      = errors.New("diagnosis worker is not running")
)

// MessageStore 保存诊断产生的助手消息。
type MessageStore interface {
	Exists(conversationID string) bool
	SaveMessage(ctx context.Context, msg chat.HistoryMessage) (chat.HistoryMessage, error)
}

// Publisher 推送诊断结果。
type Publisher interface {
	Publish(ev chat.DiagnosisEvent) int
}

// Config 诊断服务参数。
type Config struct {
	// Delay 模拟图像分析耗时。
	Delay     time.Duration
	QueueSize int
	Metrics   *metrics.Metrics
}

type captureRequest struct {
	conversationID string
	diagnosisType  string
	answers        map[string]string
}

// Service 处理问卷与拍摄诊断。
type Service struct {
	cfg            Config
	messages       MessageStore
	questionnaires questionnaire.Store
	publisher      Publisher
	logger         *zap.Logger
	now            func() time.Time

	requests chan captureRequest

	mu      sync.RWMutex
	answers map[string]map[string]string
	reports map[string]chat.DiagnosisReport
	running bool
}

// NewService wires the diagnosis service. publisher may be nil.
func NewService(cfg Config, messages MessageStore, questionnaires questionnaire.Store, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 16
	}
	return &Service{
		cfg:            cfg,
		messages:       messages,
		questionnaires: questionnaires,
		publisher:      publisher,
		logger:         logger.Named("diagnosis"),
		now:            time.Now,
		requests:       make(chan captureRequest, cfg.QueueSize),
		answers:        make(map[string]map[string]string),
		reports:        make(map[string]chat.DiagnosisReport),
	}
}

// Questionnaire 返回某诊断类型的问卷。
func (s *Service) Questionnaire(diagnosisType string) (questionnaire.Questionnaire, error) {
	q, ok := s.questionnaires.FindByType(diagnosisType)
	if !ok {
		return questionnaire.Questionnaire{}, fmt.Errorf("%w: %s", ErrUnsupportedType, diagnosisType)
	}
	return q, nil
}

// SaveAnswers 保存问卷答案，同一对话多次提交时后者覆盖前者。
func (s *Service) SaveAnswers(_ context.Context, conversationID string, answers map[string]string) error {
	if !s.messages.Exists(conversationID) {
		return chatservice.ErrConversationNotFound
	}
	if len(answers) == 0 {
		return questionnaire.ErrIncomplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.answers[conversationID]
	if stored == nil {
		stored = make(map[string]string, len(answers))
		s.answers[conversationID] = stored
	}
	for k, v := range answers {
		stored[k] = v
	}
	return nil
}

// Completed 记录问卷完成，返回带拍照卡片的后续消息。
func (s *Service) Completed(ctx context.Context, conversationID, diagnosisType string) (*chat.FollowUp, error) {
	if !Supported(diagnosisType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, diagnosisType)
	}

	card := CaptureCard(diagnosisType)
	text := fmt.Sprintf("感谢填写！接下来请%s，我会结合问卷为你分析。", card.Title)
	saved, err := s.messages.SaveMessage(ctx, chat.HistoryMessage{
		ConversationID: conversationID,
		Role:           string(chat.SenderAssistant),
		Content:        text,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("questionnaire completed",
		zap.String("conversationId", conversationID), zap.String("diagnosisType", diagnosisType))
	return &chat.FollowUp{MessageID: saved.ID, Message: text, ActionCard: card}, nil
}

// Submit 接收一次拍摄，结果由 Run 异步生成并推送。
func (s *Service) Submit(_ context.Context, conversationID, diagnosisType string) error {
	if !Supported(diagnosisType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, diagnosisType)
	}
	if !s.messages.Exists(conversationID) {
		return chatservice.ErrConversationNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return ErrNotRunning
	}
	req := captureRequest{
		conversationID: conversationID,
		diagnosisType:  diagnosisType,
		answers:        copyAnswers(s.answers[conversationID]),
	}
	select {
	case s.requests <- req:
		return nil
	default:
		return ErrBusy
	}
}

// Report 返回诊断报告。
func (s *Service) Report(reportID string) (chat.DiagnosisReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[reportID]
	if !ok {
		return chat.DiagnosisReport{}, ErrReportNotFound
	}
	report.Suggestions = append([]string(nil), report.Suggestions...)
	return report, nil
}

// Run processes submitted captures until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.requests:
			if err := s.process(ctx, req); err != nil && ctx.Err() == nil {
				s.logger.Warn("diagnosis failed",
					zap.String("conversationId", req.conversationID), zap.Error(err))
			}
		}
	}
}

func (s *Service) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Service) process(ctx context.Context, req captureRequest) error {
	if s.cfg.Delay > 0 {
		timer := time.NewTimer(s.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	finding := Assess(req.diagnosisType, req.answers)
	saved, err := s.messages.SaveMessage(ctx, chat.HistoryMessage{
		ConversationID: req.conversationID,
		Role:           string(chat.SenderAssistant),
		Content:        finding.Message(),
	})
	if err != nil {
		return fmt.Errorf("save diagnosis message: %w", err)
	}

	now := s.now().UTC()
	s.mu.Lock()
	s.reports[saved.ID] = chat.DiagnosisReport{
		ID:            saved.ID,
		DiagnosisType: req.diagnosisType,
		Constitution:  finding.Constitution,
		Summary:       finding.Summary,
		Suggestions:   append([]string(nil), finding.Suggestions...),
		CreatedAt:     now,
	}
	s.mu.Unlock()

	delivered := 0
	if s.publisher != nil {
		delivered = s.publisher.Publish(chat.DiagnosisEvent{
			ConversationID:   req.conversationID,
			MessageID:        saved.ID,
			DiagnosisMessage: saved.Content,
			DiagnosisType:    req.diagnosisType,
			Timestamp:        now,
		})
	}
	s.cfg.Metrics.DiagnosisCompleted(req.diagnosisType)
	s.logger.Info("diagnosis published",
		zap.String("conversationId", req.conversationID),
		zap.String("messageId", saved.ID),
		zap.String("constitution", finding.Constitution),
		zap.Int("delivered", delivered))
	return nil
}

// Finding 是一次诊断的结论。
type Finding struct {
	DiagnosisType string
	Constitution  string
	Summary       string
	Suggestions   []string
}

// Message 组装写入对话的诊断消息。
func (f Finding) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s结果：%s\n%s", kinds[f.DiagnosisType].name, f.Constitution, f.Summary)
	if len(f.Suggestions) > 0 {
		b.WriteString("\n调理建议：")
		for i, s := range f.Suggestions {
			fmt.Fprintf(&b, "\n%d. %s", i+1, s)
		}
	}
	return b.String()
}

// Assess 根据诊断类型与问卷答案给出结论。
func Assess(diagnosisType string, answers map[string]string) Finding {
	f := Finding{DiagnosisType: diagnosisType}
	picked := func(id, option string) bool {
		for _, v := range strings.Split(answers[id], ",") {
			if strings.TrimSpace(v) == option {
				return true
			}
		}
		return false
	}

	switch diagnosisType {
	case "tongue":
		switch {
		case picked("q3", "a") || picked("q3", "b"):
			f.Constitution = "脾虚湿盛"
			f.Summary = "舌体胖大，边有齿痕，苔白腻，提示脾胃运化偏弱、湿气内停。"
			f.Suggestions = []string{"少吃生冷甜腻，三餐定时", "适量食用山药、薏米、茯苓", "饭后散步 20 分钟助运化"}
		case picked("q3", "d"):
			f.Constitution = "阳虚质"
			f.Summary = "舌淡胖嫩，苔白润，提示阳气偏虚、温煦不足。"
			f.Suggestions = []string{"注意腰腹与足部保暖", "可适量食用羊肉、生姜、桂圆", "晒太阳、温水泡脚"}
		case picked("q2", "a"):
			f.Constitution = "湿热质"
			f.Summary = "舌质偏红，苔黄腻，提示体内湿热偏重。"
			f.Suggestions = []string{"饮食清淡，少辛辣油炸与饮酒", "可饮用绿豆汤、冬瓜汤", "保持规律排便"}
		default:
			f.Constitution = "平和质"
			f.Summary = "舌质淡红，苔薄白，整体状态较为平和。"
			f.Suggestions = []string{"保持规律作息", "饮食均衡，适度运动"}
		}
	case "face":
		switch {
		case picked("q1", "a"):
			f.Constitution = "阴虚火旺"
			f.Summary = "面色偏红少华，眼周暗沉，提示熬夜耗伤阴液。"
			f.Suggestions = []string{"尽量 23 点前入睡", "可食用百合、银耳、枸杞", "减少辛辣刺激饮食"}
		case picked("q3", "a") || picked("q3", "c"):
			f.Constitution = "气血不足"
			f.Summary = "面色萎黄或偏淡，唇色淡，提示气血生化不足。"
			f.Suggestions = []string{"适量食用红枣、瘦肉、猪肝", "避免过度节食", "练习八段锦等温和运动"}
		default:
			f.Constitution = "平和质"
			f.Summary = "面色红润有光泽，气色良好。"
			f.Suggestions = []string{"保持当前作息与饮食习惯"}
		}
	}
	return f
}

func copyAnswers(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
