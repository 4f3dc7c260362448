package quiz

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/internal/playback"
)

// Clip is a locally configured video with optional subtitles. Cues win over
// Subtitle.
type Clip struct {
	Video    string
	Subtitle string
	Cues     []playback.Cue
}

// Empty reports whether the clip has no video.
func (c Clip) Empty() bool { return c.Video == "" }

func (c Clip) subtitles() playback.Subtitles {
	if len(c.Cues) > 0 {
		return playback.Timed(c.Cues...)
	}
	return playback.Static(c.Subtitle)
}

// Assets are the videos the kiosk plays besides questions.
type Assets struct {
	// Intro plays after Start, before code entry. Optional.
	Intro Clip
	// Welcome plays after an accepted code. Optional.
	Welcome Clip
	// CodeUsed plays when the spoken code already played.
	CodeUsed Clip
	// CodeRejected plays after the last failed code attempt.
	CodeRejected Clip
	// Correct is played when the backend has no correct reaction.
	Correct Clip
	// Wrong holds the wrong-answer reaction for each correct option key.
	Wrong map[boundary.Key]Clip
	// Results holds the final clip for each score tier.
	Results map[string]Clip
}

// Prompt is the label and hint pair shown on the microphone widget.
type Prompt struct {
	Label string
	Hint  string
}

// Texts are the on-screen strings.
type Texts struct {
	CodePrompt    string
	Listening     Prompt
	AnswerPrompt  Prompt
	Recording     Prompt
	Processing    Prompt
	SpeakLouder   Prompt
	NotRecognised Prompt
	CodeNotFound  Prompt
	ServerError   Prompt
	// Welcome is a format string receiving the participant name.
	Welcome string
	// GameOver is a format string receiving the score and question count.
	GameOver  string
	LoadError string
	// PromptHint is sent to the recogniser ahead of the option texts.
	PromptHint string
}

// Timings are the game's durations and limits.
type Timings struct {
	AnswerTime        time.Duration
	RevealDelay       time.Duration
	RetryDelay        time.Duration
	CodeAcceptedDelay time.Duration
	MaxCodeAttempts   int
}

// Content is the reloadable part of the configuration. The orchestrator
// takes a copy at every session start.
type Content struct {
	Assets  Assets
	Texts   Texts
	Timings Timings
}

// DefaultTexts returns the built-in English strings.
func DefaultTexts() Texts {
	return Texts{
		CodePrompt:    "Say your participant code.",
		Listening:     Prompt{Label: "Speak", Hint: "Microphone is on"},
		AnswerPrompt:  Prompt{Label: "Name your answer", Hint: "A, B or C"},
		Recording:     Prompt{Label: "Recording...", Hint: "Speak into the microphone"},
		Processing:    Prompt{Label: "Processing...", Hint: "Recognising speech"},
		SpeakLouder:   Prompt{Label: "Didn't catch that", Hint: "Please speak a little louder"},
		NotRecognised: Prompt{Label: "Not recognised", Hint: "Try again"},
		CodeNotFound:  Prompt{Label: "Code not found", Hint: "Try again"},
		ServerError:   Prompt{Label: "Server error", Hint: "Please try again"},
		Welcome:       "Great, %s! Your code is accepted.",
		GameOver:      "Game over! Correct answers: %d of %d",
		LoadError:     "The game could not be started. Please try again.",
		PromptHint:    "option A, option B, option C",
	}
}

// DefaultTimings returns the built-in durations.
func DefaultTimings() Timings {
	return Timings{
		AnswerTime:        15 * time.Second,
		RevealDelay:       2 * time.Second,
		RetryDelay:        2 * time.Second,
		CodeAcceptedDelay: 2 * time.Second,
		MaxCodeAttempts:   3,
	}
}

func orPrompt(p, d Prompt) Prompt {
	if p.Label == "" && p.Hint == "" {
		return d
	}
	return p
}

func orString(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// withDefaults fills unset fields.
func (c Content) withDefaults() Content {
	dt := DefaultTexts()
	t := &c.Texts
	t.CodePrompt = orString(t.CodePrompt, dt.CodePrompt)
	t.Listening = orPrompt(t.Listening, dt.Listening)
	t.AnswerPrompt = orPrompt(t.AnswerPrompt, dt.AnswerPrompt)
	t.Recording = orPrompt(t.Recording, dt.Recording)
	t.Processing = orPrompt(t.Processing, dt.Processing)
	t.SpeakLouder = orPrompt(t.SpeakLouder, dt.SpeakLouder)
	t.NotRecognised = orPrompt(t.NotRecognised, dt.NotRecognised)
	t.CodeNotFound = orPrompt(t.CodeNotFound, dt.CodeNotFound)
	t.ServerError = orPrompt(t.ServerError, dt.ServerError)
	t.Welcome = orString(t.Welcome, dt.Welcome)
	t.GameOver = orString(t.GameOver, dt.GameOver)
	t.LoadError = orString(t.LoadError, dt.LoadError)
	t.PromptHint = orString(t.PromptHint, dt.PromptHint)

	d := DefaultTimings()
	tm := &c.Timings
	if tm.AnswerTime <= 0 {
		tm.AnswerTime = d.AnswerTime
	}
	if tm.RevealDelay < 0 {
		tm.RevealDelay = 0
	} else if tm.RevealDelay == 0 {
		tm.RevealDelay = d.RevealDelay
	}
	if tm.RetryDelay < 0 {
		tm.RetryDelay = 0
	} else if tm.RetryDelay == 0 {
		tm.RetryDelay = d.RetryDelay
	}
	if tm.CodeAcceptedDelay < 0 {
		tm.CodeAcceptedDelay = 0
	} else if tm.CodeAcceptedDelay == 0 {
		tm.CodeAcceptedDelay = d.CodeAcceptedDelay
	}
	if tm.MaxCodeAttempts <= 0 {
		tm.MaxCodeAttempts = d.MaxCodeAttempts
	}
	return c
}

// Videos returns every configured asset URL, for cache warm-up.
func (a Assets) Videos() []string {
	var out []string
	add := func(c Clip) {
		if !c.Empty() {
			out = append(out, c.Video)
		}
	}
	add(a.Intro)
	add(a.Welcome)
	add(a.CodeUsed)
	add(a.CodeRejected)
	add(a.Correct)
	for _, k := range boundary.Keys {
		add(a.Wrong[k])
	}
	for _, t := range []string{TierPerfect, TierGood, TierLow} {
		add(a.Results[t])
	}
	return out
}

// hint builds the recogniser hint for a question's options.
func (t Texts) hint(opts boundary.Options) string {
	parts := make([]string, 0, 4)
	if t.PromptHint != "" {
		parts = append(parts, t.PromptHint)
	}
	for _, k := range boundary.Keys {
		if v := strings.TrimSpace(opts.Get(k)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

func (t Texts) welcome(p Participant, transcript string) string {
	if p.Name == "" {
		return transcript
	}
	return fmt.Sprintf(t.Welcome, p.Name)
}
