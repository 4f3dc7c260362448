package config

import (
	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/internal/listener"
	"github.com/MrWong99/voxquiz/internal/playback"
	"github.com/MrWong99/voxquiz/internal/quiz"
)

// Content returns the hot-reloadable game content. Unset texts and timings
// are defaulted by the orchestrator.
func (c *Config) Content() quiz.Content {
	a := c.Assets
	assets := quiz.Assets{
		Intro:        a.Intro.clip(),
		Welcome:      a.Welcome.clip(),
		CodeUsed:     a.CodeUsed.clip(),
		CodeRejected: a.CodeRejected.clip(),
		Correct:      a.Correct.clip(),
		Wrong:        make(map[boundary.Key]quiz.Clip, len(a.Wrong)),
		Results:      make(map[string]quiz.Clip, len(a.Results)),
	}
	for k, clip := range a.Wrong {
		if key, ok := boundary.ParseKey(k); ok {
			assets.Wrong[key] = clip.clip()
		}
	}
	for tier, clip := range a.Results {
		assets.Results[tier] = clip.clip()
	}

	t := c.Texts
	return quiz.Content{
		Assets: assets,
		Texts: quiz.Texts{
			CodePrompt:    t.CodePrompt,
			Listening:     t.Listening.prompt(),
			AnswerPrompt:  t.AnswerPrompt.prompt(),
			Recording:     t.Recording.prompt(),
			Processing:    t.Processing.prompt(),
			SpeakLouder:   t.SpeakLouder.prompt(),
			NotRecognised: t.NotRecognised.prompt(),
			CodeNotFound:  t.CodeNotFound.prompt(),
			ServerError:   t.ServerError.prompt(),
			Welcome:       t.Welcome,
			GameOver:      t.GameOver,
			LoadError:     t.LoadError,
			PromptHint:    t.PromptHint,
		},
		Timings: quiz.Timings{
			AnswerTime:        c.Game.AnswerTime,
			RevealDelay:       c.Game.RevealDelay,
			RetryDelay:        c.Game.RetryDelay,
			CodeAcceptedDelay: c.Game.CodeAcceptedDelay,
			MaxCodeAttempts:   c.Game.MaxCodeAttempts,
		},
	}
}

// Listener returns the segmentation parameters for the VAD adapter.
func (c *Config) Listener() listener.Config {
	v := c.VAD
	return listener.Config{
		SampleRate:              v.SampleRate,
		FrameSizeMs:             v.FrameSizeMs,
		PositiveSpeechThreshold: v.PositiveSpeechThreshold,
		NegativeSpeechThreshold: v.NegativeSpeechThreshold,
		MinSpeechFrames:         v.MinSpeechFrames,
		RedemptionFrames:        v.RedemptionFrames,
		PreSpeechPadFrames:      v.PreSpeechPadFrames,
		NoiseFloor:              v.NoiseFloor,
		MaxCapture:              v.MaxCapture,
	}
}

// BoundaryPaths returns the backend routes with overrides applied.
func (c *Config) BoundaryPaths() boundary.Paths {
	p := c.Boundary.Paths
	return boundary.Paths{
		CheckCode:   p.CheckCode,
		CheckAnswer: p.CheckAnswer,
		Start:       p.Start,
		Reaction:    p.Reaction,
		Reactions:   p.ReactionsAll,
		SaveResult:  p.SaveResult,
	}
}

func (c ClipConfig) clip() quiz.Clip {
	out := quiz.Clip{Video: c.Video, Subtitle: c.Subtitle}
	for _, cue := range c.Cues {
		out.Cues = append(out.Cues, playback.Cue{Start: cue.Start, End: cue.End, Text: cue.Text})
	}
	return out
}

func (p PromptConfig) prompt() quiz.Prompt {
	return quiz.Prompt{Label: p.Label, Hint: p.Hint}
}
