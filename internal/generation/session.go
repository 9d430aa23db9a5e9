package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"skkn-server/internal/ai"
	"skkn-server/internal/domain"
	"skkn-server/internal/messaging"
	"skkn-server/internal/model"
	"skkn-server/internal/repository"
	"skkn-server/internal/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Executor runs one upstream call with credential rotation and model fallback.
type Executor interface {
	Execute(ctx context.Context, call ai.Call, hooks ai.Hooks) (ai.Result, error)
}

// Dependencies are the collaborators shared by all sessions. Ledger and
// Notifier are optional.
type Dependencies struct {
	Executor Executor
	Ledger   repository.ResultRepository
	Notifier messaging.Notifier
	Logger   *zap.Logger
}

// action is a pending upstream request. It is kept after a failure so that
// Retry can re-issue exactly the same instruction.
type action struct {
	kind        model.Action
	edge        workflow.Edge
	system      string
	instruction string
}

type review struct {
	section   int
	state     domain.ReviewState
	extracted *domain.ExtractedSection
	working   string
}

// Session owns the state of one document being generated. All mutation goes
// through its methods; at most one upstream request is in flight at a time.
type Session struct {
	id     uuid.UUID
	topic  domain.TopicInfo
	table  *workflow.Table
	deps   Dependencies
	logger *zap.Logger

	mu           sync.Mutex
	stage        domain.Stage
	document     string
	history      domain.Conversation
	streaming    bool
	scratch      strings.Builder
	draftPreview string
	lastErr      error
	attempt      *ai.Attempt
	pending      *action
	review       *review
	solutions    map[int]*domain.SolutionContent
	cancel       context.CancelFunc
	createdAt    time.Time
	updatedAt    time.Time

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

// NewSession creates a session in the initial stage of table.
func NewSession(topic domain.TopicInfo, table *workflow.Table, deps Dependencies) *Session {
	id := uuid.New()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	return &Session{
		id:          id,
		topic:       topic,
		table:       table,
		deps:        deps,
		logger:      logger.Named("Session").With(zap.String("sessionID", id.String())),
		stage:       table.Initial(),
		solutions:   make(map[int]*domain.SolutionContent),
		createdAt:   now,
		updatedAt:   now,
		subscribers: make(map[int]chan Event),
	}
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Topic returns the topic metadata the session was created with.
func (s *Session) Topic() domain.TopicInfo { return s.topic }

// Job is a validated action holding the session's busy slot. Run must be
// called exactly once, otherwise the session stays busy.
type Job struct {
	s      *Session
	act    *action
	ctx    context.Context
	cancel context.CancelFunc
}

// Run streams the reply and applies it, blocking until the stream ends.
// Session.Cancel stops it as well as cancelling ctx.
func (j *Job) Run(ctx context.Context) error {
	if j.act == nil {
		view := j.s.View()
		j.s.publish(Event{Type: EventState, View: &view})
		return nil
	}
	defer j.cancel()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	unregister := context.AfterFunc(j.ctx, stop)
	defer unregister()
	return j.s.run(runCtx, j.act)
}

// Abort releases the busy slot of a job that will never run. The action is
// kept as failed with err so that Retry can issue it later.
func (j *Job) Abort(err error) {
	if j.act == nil {
		return
	}
	j.cancel()
	s := j.s
	s.mu.Lock()
	s.streaming = false
	s.cancel = nil
	s.lastErr = err
	if j.act.kind == model.ActionRevise && s.review != nil {
		s.review.state = domain.ReviewReadyForReview
	}
	s.updatedAt = time.Now()
	view := s.viewLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventState, View: &view})
}

// Start discards any previous output and runs the first stage.
func (s *Session) Start(ctx context.Context) error {
	job, err := s.BeginStart()
	if err != nil {
		return err
	}
	return job.Run(ctx)
}

// BeginStart resets the session and reserves the first stage request.
func (s *Session) BeginStart() (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return nil, domain.ErrBusy
	}
	s.resetLocked()
	return s.beginAdvanceLocked()
}

// Advance runs the edge leaving the current stage and blocks until the
// stream finishes. On failure the stage is left unchanged.
func (s *Session) Advance(ctx context.Context) error {
	job, err := s.BeginAdvance()
	if err != nil {
		return err
	}
	return job.Run(ctx)
}

// BeginAdvance validates and reserves the next stage request.
func (s *Session) BeginAdvance() (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return nil, domain.ErrBusy
	}
	return s.beginAdvanceLocked()
}

func (s *Session) beginAdvanceLocked() (*Job, error) {
	if s.review != nil && s.review.state != domain.ReviewApproved {
		return nil, domain.ErrReviewPending
	}
	edge, ok := s.table.Next(s.stage)
	if !ok {
		return nil, domain.ErrTerminalStage
	}
	if edge.Silent() {
		s.review = nil
		s.pending = nil
		s.lastErr = nil
		s.draftPreview = ""
		s.followSilentLocked()
		return &Job{s: s}, nil
	}
	instruction, err := s.table.Instruction(edge, s.promptDataLocked())
	if err != nil {
		return nil, err
	}
	return s.reserveLocked(&action{kind: model.ActionAdvance, edge: edge, instruction: instruction})
}

// SubmitFeedback asks for a rewritten outline. Only valid in the outline
// stage; the reply replaces the document.
func (s *Session) SubmitFeedback(ctx context.Context, feedback string) error {
	job, err := s.BeginFeedback(feedback)
	if err != nil {
		return err
	}
	return job.Run(ctx)
}

// BeginFeedback validates and reserves an outline rewrite.
func (s *Session) BeginFeedback(feedback string) (*Job, error) {
	feedback = strings.TrimSpace(feedback)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return nil, domain.ErrBusy
	}
	if s.stage != domain.StageOutline {
		return nil, domain.ErrFeedbackNotAllowed
	}
	if feedback == "" {
		return nil, domain.ErrEmptyFeedback
	}
	data := s.promptDataLocked()
	data.Feedback = feedback
	data.Current = s.document
	instruction, err := s.table.FeedbackInstruction(data)
	if err != nil {
		return nil, err
	}
	return s.reserveLocked(&action{kind: model.ActionFeedback, instruction: instruction})
}

// Retry re-issues the action that failed last.
func (s *Session) Retry(ctx context.Context) error {
	job, err := s.BeginRetry()
	if err != nil {
		return err
	}
	return job.Run(ctx)
}

// BeginRetry reserves the action that failed last.
func (s *Session) BeginRetry() (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return nil, domain.ErrBusy
	}
	if s.pending == nil || s.lastErr == nil {
		return nil, domain.ErrNothingToRetry
	}
	return s.reserveLocked(s.pending)
}

// reserveLocked marks the session busy for act.
func (s *Session) reserveLocked(act *action) (*Job, error) {
	system, err := s.table.SystemInstruction(s.promptDataLocked())
	if err != nil {
		return nil, err
	}
	act.system = system
	ctx, cancel := context.WithCancel(context.Background())
	if act.kind == model.ActionRevise && s.review != nil {
		s.review.state = domain.ReviewRevising
	}
	s.streaming = true
	s.cancel = cancel
	s.scratch.Reset()
	s.draftPreview = ""
	s.lastErr = nil
	s.attempt = nil
	s.pending = act
	s.updatedAt = time.Now()
	return &Job{s: s, act: act, ctx: ctx, cancel: cancel}, nil
}

// Cancel stops the in-flight request. It reports whether one was running.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// Reset returns the session to the initial stage with an empty document
// and history.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return domain.ErrBusy
	}
	s.resetLocked()
	view := s.viewLocked()
	s.mu.Unlock()

	s.logger.Info("Session reset")
	s.publish(Event{Type: EventState, View: &view})
	return nil
}

func (s *Session) resetLocked() {
	s.stage = s.table.Initial()
	s.document = ""
	s.history.Reset()
	s.scratch.Reset()
	s.draftPreview = ""
	s.lastErr = nil
	s.attempt = nil
	s.pending = nil
	s.review = nil
	s.solutions = make(map[int]*domain.SolutionContent)
	s.updatedAt = time.Now()
}

// EditDocument replaces the document with text edited by the user.
func (s *Session) EditDocument(text string) error {
	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return domain.ErrBusy
	}
	s.document = text
	s.updatedAt = time.Now()
	view := s.viewLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventState, View: &view})
	return nil
}

// Document returns the committed document.
func (s *Session) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

// HistoryLen is the number of committed conversation turns.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// Stage returns the current stage.
func (s *Session) Stage() domain.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// IsStreaming reports whether a request is in flight.
func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// LastActivity is the time of the last state change.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) promptDataLocked() workflow.PromptData {
	return workflow.PromptData{Topic: s.topic}
}

// followSilentLocked moves through edges that need no upstream request.
func (s *Session) followSilentLocked() {
	for {
		edge, ok := s.table.Next(s.stage)
		if !ok || !edge.Silent() {
			return
		}
		s.stage = edge.To
		s.updatedAt = time.Now()
	}
}

// run executes a reserved act. Chunks go to the scratch buffer; the
// document and the history change only when the whole reply arrived.
func (s *Session) run(ctx context.Context, act *action) error {
	s.mu.Lock()
	call := ai.Call{
		SystemInstruction: act.system,
		History:           s.history.Turns(),
		Message:           act.instruction,
	}
	stage := s.stage
	view := s.viewLocked()
	s.mu.Unlock()

	log := s.logger.With(zap.String("stage", string(stage)), zap.String("action", string(act.kind)))
	log.Info("Upstream request started", zap.Int("historyTurns", len(call.History)))
	s.publish(Event{Type: EventState, View: &view})

	started := time.Now()
	result, err := s.deps.Executor.Execute(ctx, call, ai.Hooks{
		OnAttempt: func(a ai.Attempt) {
			s.mu.Lock()
			s.scratch.Reset()
			attempt := a
			s.attempt = &attempt
			s.mu.Unlock()
			s.publish(Event{Type: EventAttempt, Attempt: &attempt})
		},
		OnChunk: func(chunk string) {
			s.mu.Lock()
			s.scratch.WriteString(chunk)
			s.mu.Unlock()
			s.publish(Event{Type: EventChunk, Chunk: chunk})
		},
	})
	elapsed := time.Since(started)

	s.mu.Lock()
	s.streaming = false
	s.cancel = nil
	s.attempt = nil
	s.updatedAt = time.Now()

	if err != nil {
		s.lastErr = err
		s.draftPreview = s.scratch.String()
		s.scratch.Reset()
		if act.kind == model.ActionRevise && s.review != nil {
			s.review.state = domain.ReviewReadyForReview
		}
		view := s.viewLocked()
		docLen := len(s.document)
		s.mu.Unlock()

		status := model.StatusError
		if errors.Is(err, domain.ErrCancelled) {
			status = model.StatusCancelled
			log.Info("Upstream request cancelled", zap.Duration("elapsed", elapsed))
		} else {
			log.Warn("Upstream request failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		}
		stageCompletions.WithLabelValues(string(act.kind), status).Inc()
		info := domain.DescribeError(err)
		s.publish(Event{Type: EventError, Error: &info, View: &view})
		s.record(ctx, act, stage, status, result, elapsed, err)
		s.notify(ctx, messaging.StageEvent{
			Type:      messaging.EventStageFailed,
			Stage:     string(stage),
			Attempts:  result.Attempts,
			Error:     err.Error(),
			DocLength: docLen,
		})
		return err
	}

	s.scratch.Reset()
	s.history.Commit(act.instruction, result.Text)
	s.pending = nil
	event := s.applyLocked(act, result.Text)
	view = s.viewLocked()
	newStage := s.stage
	docLen := len(s.document)
	s.mu.Unlock()

	log.Info("Upstream request completed",
		zap.String("newStage", string(newStage)),
		zap.String("model", result.Model),
		zap.Int("attempts", result.Attempts),
		zap.Int("chars", len(result.Text)),
		zap.Duration("elapsed", elapsed),
	)
	stageCompletions.WithLabelValues(string(act.kind), model.StatusSuccess).Inc()
	if view.Review != nil && (act.kind == model.ActionRevise || event.Type == messaging.EventReviewReady) {
		s.publish(Event{Type: EventReview, Review: view.Review, View: &view})
	} else {
		s.publish(Event{Type: EventState, View: &view})
	}
	s.record(ctx, act, stage, model.StatusSuccess, result, elapsed, nil)
	event.Model = result.Model
	event.Attempts = result.Attempts
	event.DocLength = docLen
	s.notify(ctx, event)
	return nil
}

// applyLocked commits a successful reply and returns the event describing it.
func (s *Session) applyLocked(act *action, text string) messaging.StageEvent {
	switch act.kind {
	case model.ActionFeedback:
		s.document = text
		return messaging.StageEvent{Type: messaging.EventStageCompleted, Stage: string(s.stage)}

	case model.ActionRevise:
		r := s.review
		if r == nil {
			return messaging.StageEvent{Type: messaging.EventStageCompleted, Stage: string(s.stage)}
		}
		sol := s.solutionLocked(r.section)
		sol.RevisionHistory = append(sol.RevisionHistory, r.working)
		sol.Content = text
		r.working = text
		r.state = domain.ReviewReadyForReview
		sectionReviews.WithLabelValues("revised").Inc()
		return messaging.StageEvent{Type: messaging.EventSectionRevised, Stage: string(s.stage), Section: r.section}
	}

	if act.edge.Mode == workflow.ModeReplace || s.document == "" {
		s.document = text
	} else {
		s.document = s.document + s.table.Separator() + text
	}
	s.stage = act.edge.To
	s.review = nil

	if section, ok := s.table.ReviewSection(s.stage); ok {
		s.startReviewLocked(section)
		return messaging.StageEvent{Type: messaging.EventReviewReady, Stage: string(s.stage), Section: section}
	}
	s.followSilentLocked()
	if s.stage == s.table.Terminal() {
		return messaging.StageEvent{Type: messaging.EventDocumentDone, Stage: string(s.stage)}
	}
	return messaging.StageEvent{Type: messaging.EventStageCompleted, Stage: string(s.stage)}
}

func (s *Session) solutionLocked(section int) *domain.SolutionContent {
	sol, ok := s.solutions[section]
	if !ok {
		sol = &domain.SolutionContent{}
		s.solutions[section] = sol
	}
	return sol
}

func (s *Session) record(ctx context.Context, act *action, stage domain.Stage, status string, result ai.Result, elapsed time.Duration, err error) {
	if s.deps.Ledger == nil {
		return
	}
	completed := time.Now()
	row := &model.GenerationResult{
		ID:               uuid.New(),
		SessionID:        s.id,
		Stage:            string(stage),
		Action:           act.kind,
		Status:           status,
		Model:            result.Model,
		Credential:       result.Credential,
		Attempts:         result.Attempts,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		OutputChars:      len(result.Text),
		ProcessingTime:   elapsed,
		CreatedAt:        completed.Add(-elapsed),
		CompletedAt:      completed,
	}
	if err != nil {
		row.Error = err.Error()
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if saveErr := s.deps.Ledger.Save(saveCtx, row); saveErr != nil {
		s.logger.Error("Failed to record generation result", zap.Error(saveErr))
	}
}

func (s *Session) notify(ctx context.Context, event messaging.StageEvent) {
	if s.deps.Notifier == nil {
		return
	}
	event.EventID = uuid.NewString()
	event.SessionID = s.id.String()
	event.Timestamp = time.Now().UTC()
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Notifier.Notify(notifyCtx, event); err != nil {
		s.logger.Error("Failed to publish stage event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
