// Package mock provides a test double for the quiz backend.
//
// Service answers CheckCode and CheckAnswer from queues so a test can script
// a whole session. When a queue is empty the corresponding Default result is
// returned. Setting Hold makes CheckCode and CheckAnswer block until a value
// is sent on it (or the context ends), which lets a test control exactly when
// a network result arrives.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/pkg/audio"
)

// CheckAnswerCall records a single invocation of Service.CheckAnswer.
type CheckAnswerCall struct {
	Capture audio.Capture
	Options boundary.Options
	Hint    string
}

// Service is a mock quiz backend. Safe for concurrent use.
type Service struct {
	mu sync.Mutex

	// Hold, when non-nil, gates CheckCode and CheckAnswer.
	Hold chan struct{}

	// CodeResults is consumed one entry per CheckCode call.
	CodeResults []boundary.CodeCheckResult
	// DefaultCode is returned when CodeResults is empty.
	DefaultCode boundary.CodeCheckResult

	// IntentResults is consumed one entry per CheckAnswer call.
	IntentResults []boundary.IntentResult
	// DefaultIntent is returned when IntentResults is empty.
	DefaultIntent boundary.IntentResult

	// Questions is returned by StartSession unless StartErr is set.
	Questions []boundary.Question
	StartErr  error

	// Reactions maps a kind to the clip returned by Reaction. A missing kind
	// returns ReactionErr (or a generic error when that is nil).
	Reactions   map[boundary.ReactionKind]boundary.Reaction
	ReactionErr error

	// All is returned by AllReactions unless AllErr is set.
	All    []boundary.Reaction
	AllErr error

	// SaveErr is returned by SaveResult.
	SaveErr error

	CheckCodeCalls    []audio.Capture
	CheckAnswerCalls  []CheckAnswerCall
	StartSessionCalls int
	ReactionCalls     []boundary.ReactionKind
	AllReactionsCalls int
	SaveResultCalls   []boundary.Result
	saved             chan boundary.Result
}

func (s *Service) wait(ctx context.Context) bool {
	s.mu.Lock()
	hold := s.Hold
	s.mu.Unlock()
	if hold == nil {
		return true
	}
	select {
	case <-hold:
		return true
	case <-ctx.Done():
		return false
	}
}

// CheckCode records the call and returns the next scripted result.
func (s *Service) CheckCode(ctx context.Context, c audio.Capture) boundary.CodeCheckResult {
	s.mu.Lock()
	s.CheckCodeCalls = append(s.CheckCodeCalls, c)
	s.mu.Unlock()
	if !s.wait(ctx) {
		return boundary.CodeCheckResult{Status: boundary.CodeError, Err: ctx.Err()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.CodeResults) == 0 {
		return s.DefaultCode
	}
	r := s.CodeResults[0]
	s.CodeResults = s.CodeResults[1:]
	return r
}

// CheckAnswer records the call and returns the next scripted result.
func (s *Service) CheckAnswer(ctx context.Context, c audio.Capture, opts boundary.Options, hint string) boundary.IntentResult {
	s.mu.Lock()
	s.CheckAnswerCalls = append(s.CheckAnswerCalls, CheckAnswerCall{Capture: c, Options: opts, Hint: hint})
	s.mu.Unlock()
	if !s.wait(ctx) {
		return boundary.IntentResult{Kind: boundary.IntentError, Err: ctx.Err()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.IntentResults) == 0 {
		return s.DefaultIntent
	}
	r := s.IntentResults[0]
	s.IntentResults = s.IntentResults[1:]
	return r
}

// StartSession records the call and returns Questions, StartErr.
func (s *Service) StartSession(context.Context) ([]boundary.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartSessionCalls++
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	return append([]boundary.Question(nil), s.Questions...), nil
}

// Reaction records the call and returns the clip configured for kind.
func (s *Service) Reaction(_ context.Context, kind boundary.ReactionKind) (boundary.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReactionCalls = append(s.ReactionCalls, kind)
	if r, ok := s.Reactions[kind]; ok {
		return r, nil
	}
	if s.ReactionErr != nil {
		return boundary.Reaction{}, s.ReactionErr
	}
	return boundary.Reaction{}, &boundary.StatusError{Endpoint: "reaction", Code: 404}
}

// AllReactions records the call and returns All, AllErr.
func (s *Service) AllReactions(context.Context) ([]boundary.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AllReactionsCalls++
	return s.All, s.AllErr
}

// SaveResult records the call and returns SaveErr.
func (s *Service) SaveResult(_ context.Context, r boundary.Result) error {
	s.mu.Lock()
	s.SaveResultCalls = append(s.SaveResultCalls, r)
	ch := s.saved
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- r:
		default:
		}
	}
	return s.SaveErr
}

// Saved returns a channel that receives every result passed to SaveResult
// after this call.
func (s *Service) Saved() <-chan boundary.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(chan boundary.Result, 8)
	}
	return s.saved
}

// Calls returns the number of CheckCode and CheckAnswer calls so far.
func (s *Service) Calls() (code, answer int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CheckCodeCalls), len(s.CheckAnswerCalls)
}

// PushCode appends scripted CheckCode results.
func (s *Service) PushCode(rs ...boundary.CodeCheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CodeResults = append(s.CodeResults, rs...)
}

// PushIntent appends scripted CheckAnswer results.
func (s *Service) PushIntent(rs ...boundary.IntentResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IntentResults = append(s.IntentResults, rs...)
}

// SavedResults returns a copy of every result passed to SaveResult.
func (s *Service) SavedResults() []boundary.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]boundary.Result(nil), s.SaveResultCalls...)
}
