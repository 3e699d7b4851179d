package questionnaire

// Store 问卷查询接口。
type Store interface {
	List() []Questionnaire
	FindByType(diagnosisType string) (Questionnaire, bool)
}

// MemoryStore 基于内存切片的 Store 实现。
type MemoryStore struct {
	items []Questionnaire
}

// NewMemoryStore 用给定问卷初始化 MemoryStore。
func NewMemoryStore(items []Questionnaire) *MemoryStore {
	return &MemoryStore{items: append([]Questionnaire(nil), items...)}
}

// List 返回全部问卷。
func (s *MemoryStore) List() []Questionnaire {
	return append([]Questionnaire(nil), s.items...)
}

// FindByType 按诊断类型查找问卷。
func (s *MemoryStore) FindByType(diagnosisType string) (Questionnaire, bool) {
	for _, item := range s.items {
		if item.DiagnosisType == diagnosisType {
			return item, true
		}
	}
	return Questionnaire{}, false
}
