package display

import (
	"time"

	"github.com/MrWong99/voxquiz/internal/boundary"
)

// Server to page message types.
const (
	TypeStartShow     = "start.show"
	TypeStartHide     = "start.hide"
	TypeVideoPlay     = "video.play"
	TypeVideoHide     = "video.hide"
	TypeSubtitleShow  = "subtitle.show"
	TypeSubtitleHide  = "subtitle.hide"
	TypeOptionsShow   = "options.show"
	TypeOptionsMark   = "options.mark"
	TypeOptionsHide   = "options.hide"
	TypeMicShow       = "mic.show"
	TypeMicHide       = "mic.hide"
	TypeCountdown     = "countdown"
	TypeCountdownHide = "countdown.hide"
)

// Page to server event types.
const (
	EventStart         = "start"
	EventVideoProgress = "video.progress"
	EventVideoEnded    = "video.ended"
	EventVideoError    = "video.error"
	EventOptionSelect  = "option.select"
)

// Option mark states.
const (
	MarkCorrect = "correct"
	MarkWrong   = "wrong"
)

// Message is one server to page message. Only the fields of its Type are set.
type Message struct {
	Type string `json:"type"`

	// video.play
	Token uint64 `json:"token,omitempty"`
	Src   string `json:"src,omitempty"`

	// subtitle.show
	Text string `json:"text,omitempty"`

	// options.show: 1-based question number and question count.
	Question int               `json:"question,omitempty"`
	Total    int               `json:"total,omitempty"`
	Options  *boundary.Options `json:"options,omitempty"`

	// options.mark
	Key   boundary.Key `json:"key,omitempty"`
	State string       `json:"state,omitempty"`

	// mic.show
	Label     string `json:"label,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Recording bool   `json:"recording,omitempty"`

	// countdown
	RemainingMs int64 `json:"remaining_ms,omitempty"`
	TotalMs     int64 `json:"total_ms,omitempty"`
}

// Event is one page to server message.
type Event struct {
	Type  string `json:"type"`
	Token uint64 `json:"token,omitempty"`
	// Time is the playback position in seconds, as reported by the video
	// element.
	Time float64 `json:"time,omitempty"`
	Key  string  `json:"key,omitempty"`
}

func (e Event) position() time.Duration {
	if e.Time <= 0 {
		return 0
	}
	return time.Duration(e.Time * float64(time.Second))
}
