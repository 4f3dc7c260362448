package boundary

import (
	"encoding/json"
	"strings"
)

// Key identifies one of the three answer options.
type Key string

// The answer option keys as they appear on the wire.
const (
	KeyA Key = "a"
	KeyB Key = "b"
	KeyC Key = "c"
)

// Keys lists the option keys in display order.
var Keys = [3]Key{KeyA, KeyB, KeyC}

// ParseKey normalises s and reports whether it names an option. Anything
// other than a, b or c (ignoring case and surrounding space) is rejected.
func ParseKey(s string) (Key, bool) {
	switch k := Key(strings.ToLower(strings.TrimSpace(s))); k {
	case KeyA, KeyB, KeyC:
		return k, true
	}
	return "", false
}

// Letter returns the upper-case label shown on screen.
func (k Key) Letter() string { return strings.ToUpper(string(k)) }

// Options holds the three answer texts.
type Options struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// Get returns the text of option k.
func (o Options) Get(k Key) string {
	switch k {
	case KeyA:
		return o.A
	case KeyB:
		return o.B
	case KeyC:
		return o.C
	}
	return ""
}

// Question is one quiz question as served by the backend.
type Question struct {
	ID       json.Number `json:"id"`
	Video    string      `json:"video"`
	Subtitle string      `json:"subtitle"`
	Options  Options     `json:"options"`
	Correct  Key         `json:"correct"`
}

// Reaction is a short feedback clip.
type Reaction struct {
	Video    string `json:"video"`
	Subtitle string `json:"subtitle"`
}

// ReactionKind selects the reaction pool.
type ReactionKind string

const (
	ReactionCorrect ReactionKind = "correct"
	ReactionWrong   ReactionKind = "wrong"
)

// CodeStatus is the outcome of a participant code check.
type CodeStatus int

const (
	// CodeError means the backend could not be reached or failed.
	CodeError CodeStatus = iota
	// CodeOK means the code exists and was unused. The backend marks it used.
	CodeOK
	// CodeUsed means the code already played.
	CodeUsed
	// CodeNotFound means no participant has the recognised code.
	CodeNotFound
)

func (s CodeStatus) String() string {
	switch s {
	case CodeOK:
		return "ok"
	case CodeUsed:
		return "used"
	case CodeNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// CodeCheckResult is the closed result of [Client.CheckCode]. Name and Code
// are set only for CodeOK (Code may also be set for CodeUsed and
// CodeNotFound). Err is set only for CodeError.
type CodeCheckResult struct {
	Status     CodeStatus
	Code       string
	Name       string
	Transcript string
	Err        error
}

// IntentKind is the outcome of an answer classification.
type IntentKind int

const (
	// IntentError means the backend could not be reached or failed.
	IntentError IntentKind = iota
	// IntentMatched means the utterance selected an option.
	IntentMatched
	// IntentNoMatch means no option could be recognised.
	IntentNoMatch
)

func (k IntentKind) String() string {
	switch k {
	case IntentMatched:
		return "matched"
	case IntentNoMatch:
		return "no_match"
	default:
		return "error"
	}
}

// IntentResult is the closed result of [Client.CheckAnswer]. Key is set only
// for IntentMatched; Err only for IntentError. Transcript may be present for
// every kind.
type IntentResult struct {
	Kind       IntentKind
	Key        Key
	Transcript string
	Err        error
}

// AnswerRecord is one entry of a saved result.
type AnswerRecord struct {
	QuestionID json.Number `json:"question_id"`
	Chosen     Key         `json:"chosen,omitempty"`
	Correct    bool        `json:"correct"`
	Source     string      `json:"source"`
	Transcript string      `json:"transcript,omitempty"`
}

// Result is the finished session reported to the backend.
type Result struct {
	Code    string         `json:"code"`
	Score   int            `json:"score"`
	Answers []AnswerRecord `json:"answers"`
}
