package quiz

import (
	"github.com/MrWong99/voxquiz/internal/boundary"
)

// Phase is a state of the session state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseIntro
	PhaseCodeEntry
	PhaseWelcome
	PhaseQuestion
	PhaseAnswer
	PhaseReacting
	PhaseFinished
	PhaseRejected
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseIntro:
		return "intro"
	case PhaseCodeEntry:
		return "code_entry"
	case PhaseWelcome:
		return "welcome"
	case PhaseQuestion:
		return "question_playback"
	case PhaseAnswer:
		return "answer_capture"
	case PhaseReacting:
		return "reacting"
	case PhaseFinished:
		return "finished"
	case PhaseRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Answer sources.
const (
	SourceVoice   = "voice"
	SourceTouch   = "touch"
	SourceTimeout = "timeout"
)

// Result tiers.
const (
	TierPerfect = "5-5"
	TierGood    = "3-5"
	TierLow     = "0-5"
)

// Tier maps a final score to its result tier.
func Tier(score int) string {
	switch {
	case score >= boundary.QuestionsPerSession:
		return TierPerfect
	case score >= 3:
		return TierGood
	default:
		return TierLow
	}
}

// Participant is the person a confirmed code belongs to.
type Participant struct {
	Code string
	Name string
}

// Session is the state of one game. It is owned by the orchestrator loop.
type Session struct {
	ID           string
	Phase        Phase
	Index        int
	Score        int
	CodeAttempts int
	Participant  Participant
	Questions    []boundary.Question
	Answers      []boundary.AnswerRecord

	// resolved is set once the current question has an outcome.
	resolved bool
	content  Content
}

// Question returns the current question.
func (s *Session) Question() boundary.Question {
	return s.Questions[s.Index]
}

// Last reports whether the current question is the final one.
func (s *Session) Last() bool {
	return s.Index >= len(s.Questions)-1
}

// Result returns the payload saved for a finished session.
func (s *Session) Result() boundary.Result {
	return boundary.Result{
		Code:    s.Participant.Code,
		Score:   s.Score,
		Answers: append([]boundary.AnswerRecord(nil), s.Answers...),
	}
}

// Snapshot is a read-only copy of the session state for observers.
type Snapshot struct {
	SessionID    string
	Phase        Phase
	Index        int
	Score        int
	CodeAttempts int
	Participant  string
	Answers      int
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		SessionID:    s.ID,
		Phase:        s.Phase,
		Index:        s.Index,
		Score:        s.Score,
		CodeAttempts: s.CodeAttempts,
		Participant:  s.Participant.Name,
		Answers:      len(s.Answers),
	}
}
