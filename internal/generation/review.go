package generation

import (
	"context"
	"strings"
	"time"

	"skkn-server/internal/domain"
	"skkn-server/internal/extractor"
	"skkn-server/internal/model"

	"go.uber.org/zap"
)

// ReviewView is the section presented for approval.
type ReviewView struct {
	Section     int                `json:"section"`
	State       domain.ReviewState `json:"state"`
	Found       bool               `json:"found"`
	Text        string             `json:"text"`
	Strategy    string             `json:"strategy,omitempty"`
	StartOffset int                `json:"startOffset"`
	EndOffset   int                `json:"endOffset"`
	Revisions   int                `json:"revisions"`
	Error       *domain.ErrorInfo  `json:"error,omitempty"`
}

// Approve accepts the working copy of the section under review, writes it
// into the document and advances to the next stage.
func (s *Session) Approve(ctx context.Context) error {
	job, err := s.BeginApprove()
	if err != nil {
		return err
	}
	return job.Run(ctx)
}

// BeginApprove records the approval and reserves the next stage request.
func (s *Session) BeginApprove() (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return nil, domain.ErrBusy
	}
	r := s.review
	if r == nil || r.state != domain.ReviewReadyForReview {
		return nil, domain.ErrNotInReview
	}
	s.spliceLocked(r)
	sol := s.solutionLocked(r.section)
	sol.Content = r.working
	sol.Approved = true
	r.state = domain.ReviewApproved
	s.updatedAt = time.Now()

	sectionReviews.WithLabelValues("approved").Inc()
	s.logger.Info("Section approved", zap.Int("section", r.section))
	view := s.viewLocked()
	s.publish(Event{Type: EventReview, Review: view.Review, View: &view})

	return s.beginAdvanceLocked()
}

// Revise asks for a replacement of the section under review. The reply
// becomes the new working copy; the stage does not change.
func (s *Session) Revise(ctx context.Context, feedback, reference string) error {
	job, err := s.BeginRevise(feedback, reference)
	if err != nil {
		return err
	}
	return job.Run(ctx)
}

// BeginRevise validates and reserves a section rewrite.
func (s *Session) BeginRevise(feedback, reference string) (*Job, error) {
	feedback = strings.TrimSpace(feedback)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return nil, domain.ErrBusy
	}
	r := s.review
	if r == nil || r.state != domain.ReviewReadyForReview {
		return nil, domain.ErrNotInReview
	}
	if feedback == "" {
		return nil, domain.ErrEmptyFeedback
	}
	data := s.promptDataLocked()
	data.Section = r.section
	data.Feedback = feedback
	data.Reference = strings.TrimSpace(reference)
	data.Current = r.working
	instruction, err := s.table.ReviseInstruction(data)
	if err != nil {
		return nil, err
	}
	return s.reserveLocked(&action{kind: model.ActionRevise, instruction: instruction})
}

// Solutions returns a copy of the reviewed sections.
func (s *Session) Solutions() map[int]domain.SolutionContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.solutionsLocked()
}

func (s *Session) solutionsLocked() map[int]domain.SolutionContent {
	out := make(map[int]domain.SolutionContent, len(s.solutions))
	for n, sol := range s.solutions {
		c := *sol
		c.RevisionHistory = append([]string(nil), sol.RevisionHistory...)
		out[n] = c
	}
	return out
}

// startReviewLocked locates the section in the freshly committed document.
// A section that cannot be found is presented as such, never guessed.
func (s *Session) startReviewLocked(section int) {
	r := &review{section: section, state: domain.ReviewReadyForReview}
	found, err := extractor.Extract(s.document, section)
	if err != nil {
		s.logger.Warn("Section not found for review", zap.Int("section", section), zap.Error(err))
	} else {
		r.extracted = &found
		r.working = found.Text
	}
	s.review = r

	sol := s.solutionLocked(section)
	sol.Content = r.working
	sol.Approved = false
}

// spliceLocked writes the working copy over the current occurrence of the
// section. The document may have been edited since extraction, so the
// section is located again; when it is gone the copy is appended.
func (s *Session) spliceLocked(r *review) {
	if r.working == "" {
		return
	}
	current, err := extractor.Extract(s.document, r.section)
	if err != nil {
		if s.document == "" {
			s.document = r.working
		} else {
			s.document = s.document + s.table.Separator() + r.working
		}
		return
	}
	if current.Text == r.working {
		return
	}
	s.document = s.document[:current.StartOffset] + r.working + s.document[current.EndOffset:]
}

func (s *Session) reviewViewLocked() *ReviewView {
	r := s.review
	if r == nil {
		return nil
	}
	v := &ReviewView{
		Section: r.section,
		State:   r.state,
		Found:   r.extracted != nil,
		Text:    r.working,
	}
	if r.extracted != nil {
		v.Strategy = r.extracted.Strategy
		v.StartOffset = r.extracted.StartOffset
		v.EndOffset = r.extracted.EndOffset
	}
	if sol, ok := s.solutions[r.section]; ok {
		v.Revisions = len(sol.RevisionHistory)
	}
	if r.extracted == nil && r.working == "" {
		info := domain.DescribeError(domain.ErrSectionNotFound)
		v.Error = &info
	}
	return v
}
