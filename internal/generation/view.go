package generation

import (
	"time"

	"skkn-server/internal/ai"
	"skkn-server/internal/domain"

	"github.com/google/uuid"
)

// StageInfo describes one enabled stage of the session.
type StageInfo struct {
	ID      domain.Stage `json:"id"`
	Label   string       `json:"label"`
	Current bool         `json:"current"`
	Review  bool         `json:"review"`
}

// View is the observable state of a session.
type View struct {
	ID           uuid.UUID                      `json:"id"`
	Topic        domain.TopicInfo               `json:"topic"`
	Stage        domain.Stage                   `json:"stage"`
	StageLabel   string                         `json:"stageLabel"`
	Stages       []StageInfo                    `json:"stages"`
	Document     string                         `json:"document"`
	IsStreaming  bool                           `json:"isStreaming"`
	Streaming    string                         `json:"streaming,omitempty"`
	DraftPreview string                         `json:"draftPreview,omitempty"`
	Attempt      *ai.Attempt                    `json:"attempt,omitempty"`
	Error        *domain.ErrorInfo              `json:"error,omitempty"`
	CanRetry     bool                           `json:"canRetry"`
	CanAdvance   bool                           `json:"canAdvance"`
	Review       *ReviewView                    `json:"review,omitempty"`
	Solutions    map[int]domain.SolutionContent `json:"solutions"`
	HistoryTurns int                            `json:"historyTurns"`
	CreatedAt    time.Time                      `json:"createdAt"`
	UpdatedAt    time.Time                      `json:"updatedAt"`
}

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	stages := s.table.Stages()
	infos := make([]StageInfo, 0, len(stages))
	for _, st := range stages {
		infos = append(infos, StageInfo{
			ID:      domain.Stage(st.ID),
			Label:   st.Label,
			Current: domain.Stage(st.ID) == s.stage,
			Review:  st.ReviewSection > 0,
		})
	}

	v := View{
		ID:           s.id,
		Topic:        s.topic,
		Stage:        s.stage,
		StageLabel:   s.table.Label(s.stage),
		Stages:       infos,
		Document:     s.document,
		IsStreaming:  s.streaming,
		Streaming:    s.scratch.String(),
		DraftPreview: s.draftPreview,
		Review:       s.reviewViewLocked(),
		Solutions:    s.solutionsLocked(),
		HistoryTurns: s.history.Len(),
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
	if s.attempt != nil {
		a := *s.attempt
		v.Attempt = &a
	}
	if s.lastErr != nil {
		info := domain.DescribeError(s.lastErr)
		v.Error = &info
		v.CanRetry = s.pending != nil && !s.streaming
	}
	if !s.streaming && (s.review == nil || s.review.state == domain.ReviewApproved) {
		_, hasNext := s.table.Next(s.stage)
		v.CanAdvance = hasNext
	}
	return v
}
