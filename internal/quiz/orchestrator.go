// Package quiz runs the kiosk game: code entry, five timed questions answered
// by voice or touch, reactions and a scored result.
//
// All session state is owned by the goroutine running [Orchestrator.Run].
// Timer expiries, VAD events, backend results, playback completions and
// display input arrive on other goroutines and are posted to the loop as
// closures. Every phase transition bumps an epoch; callbacks carry the epoch
// of the phase that issued them and are dropped when it has moved on, so a
// slow backend reply for question 2 can never touch question 3.
//
// Within answer capture, timeout, a recognised answer and an option tap race
// each other. All three go through tryResolve, and only the first one counts.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/internal/countdown"
	"github.com/MrWong99/voxquiz/internal/listener"
	"github.com/MrWong99/voxquiz/internal/observe"
	"github.com/MrWong99/voxquiz/internal/playback"
	"github.com/MrWong99/voxquiz/pkg/audio"
)

// saveTimeout bounds the result upload, which outlives the session.
const saveTimeout = 15 * time.Second

// Service is the quiz backend. [boundary.Client] implements it.
type Service interface {
	CheckCode(ctx context.Context, c audio.Capture) boundary.CodeCheckResult
	CheckAnswer(ctx context.Context, c audio.Capture, opts boundary.Options, hint string) boundary.IntentResult
	StartSession(ctx context.Context) ([]boundary.Question, error)
	Reaction(ctx context.Context, kind boundary.ReactionKind) (boundary.Reaction, error)
	AllReactions(ctx context.Context) ([]boundary.Reaction, error)
	SaveResult(ctx context.Context, r boundary.Result) error
}

// Listener is the VAD adapter. [listener.Listener] implements it.
type Listener interface {
	Start(cb listener.Callbacks)
	Pause()
}

// Countdown is the answer timer. [countdown.Timer] implements it.
type Countdown interface {
	Start(d time.Duration, onTimeout func())
	Pause()
	Resume()
	Stop()
}

// Player plays one video at a time. [playback.Controller] implements it.
type Player interface {
	Play(video string, subs playback.Subtitles, onComplete func()) uint64
	Stop()
}

// Screen is the part of the display the game draws on besides video.
type Screen interface {
	ShowStart()
	HideStart()
	ShowSubtitle(text string)
	HideSubtitle()
	ShowOptions(index, total int, opts boundary.Options)
	MarkOption(key boundary.Key, correct bool)
	HideOptions()
	ShowMic(p Prompt, recording bool)
	HideMic()
	HideCountdown()
}

// Prefetcher warms the media cache. [media.Cache] implements it.
type Prefetcher interface {
	Prefetch(ctx context.Context, urls ...string) error
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithClock sets the clock used for reveal and retry delays.
func WithClock(c countdown.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithContent sets the source of assets, texts and timings. It is called
// once per session start.
func WithContent(fn func() Content) Option {
	return func(o *Orchestrator) { o.content = fn }
}

// WithPrefetcher enables media warm-up at session start.
func WithPrefetcher(p Prefetcher) Option {
	return func(o *Orchestrator) { o.prefetch = p }
}

// Orchestrator drives the game. Create with [New] and call [Orchestrator.Run]
// once.
type Orchestrator struct {
	svc      Service
	listener Listener
	timer    Countdown
	player   Player
	screen   Screen
	prefetch Prefetcher
	clock    countdown.Clock
	metrics  *observe.Metrics
	content  func() Content

	events  chan func()
	done    chan struct{}
	running atomic.Bool
	snap    atomic.Pointer[Snapshot]

	// Loop-owned state.
	ctx      context.Context
	sess     *Session
	phase    Phase
	epoch    uint64
	starting bool
	delay    countdown.Stopper
}

// New returns an idle Orchestrator.
func New(svc Service, l Listener, timer Countdown, player Player, screen Screen, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		svc:      svc,
		listener: l,
		timer:    timer,
		player:   player,
		screen:   screen,
		clock:    countdown.RealClock,
		content:  func() Content { return Content{} },
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.snap.Store(&Snapshot{Phase: PhaseIdle})
	return o
}

// Snapshot returns the state as of the last processed event.
func (o *Orchestrator) Snapshot() Snapshot {
	return *o.snap.Load()
}

// Start begins a new session. Ignored unless idle.
func (o *Orchestrator) Start() {
	o.post(o.begin)
}

// Select applies an option tap. Ignored outside answer capture.
func (o *Orchestrator) Select(key boundary.Key) {
	o.post(func() { o.selectOption(key) })
}

// Run processes events until ctx is cancelled. Any session in progress is
// abandoned on return.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("quiz: Run called twice")
	}
	defer close(o.done)

	o.ctx = ctx
	o.screen.ShowStart()
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case fn := <-o.events:
			fn()
			o.publish()
		}
	}
}

func (o *Orchestrator) post(fn func()) {
	select {
	case o.events <- fn:
	case <-o.done:
	}
}

func (o *Orchestrator) publish() {
	snap := Snapshot{Phase: o.phase}
	if o.sess != nil {
		snap = o.sess.snapshot()
		snap.Phase = o.phase
	}
	o.snap.Store(&snap)
}

// ---- epoch guards -----------------------------------------------------------

// current reports whether an event issued at epoch may still act.
func (o *Orchestrator) current(epoch uint64, kind string) bool {
	if epoch == o.epoch {
		return true
	}
	o.metrics.RecordStaleEvent(o.ctx, kind)
	slog.Debug("quiz: dropping stale event", "kind", kind, "phase", o.phase)
	return false
}

// bind returns a callback, safe to call from any goroutine, that runs fn on
// the loop if the phase has not changed in between. Must be called on the
// loop.
func (o *Orchestrator) bind(kind string, fn func()) func() {
	epoch := o.epoch
	return func() {
		o.post(func() {
			if o.current(epoch, kind) {
				fn()
			}
		})
	}
}

// bindArg is bind for callbacks carrying a value.
func bindArg[T any](o *Orchestrator, kind string, fn func(T)) func(T) {
	epoch := o.epoch
	return func(v T) {
		o.post(func() {
			if o.current(epoch, kind) {
				fn(v)
			}
		})
	}
}

// enter switches phase. The timer, the listener and any pending delay are
// stopped, and every callback issued before is invalidated.
func (o *Orchestrator) enter(p Phase) {
	o.epoch++
	o.timer.Stop()
	o.listener.Pause()
	if o.delay != nil {
		o.delay.Stop()
		o.delay = nil
	}
	slog.Debug("quiz: phase change", "from", o.phase, "to", p, "session", o.sessionID())
	o.phase = p
	if o.sess != nil {
		o.sess.Phase = p
	}
}

// after runs fn on the loop after d unless the phase changes first.
func (o *Orchestrator) after(d time.Duration, kind string, fn func()) {
	if o.delay != nil {
		o.delay.Stop()
		o.delay = nil
	}
	if d <= 0 {
		fn()
		return
	}
	o.delay = o.clock.AfterFunc(d, o.bind(kind, fn))
}

func (o *Orchestrator) play(video string, subs playback.Subtitles, kind string, next func()) {
	o.player.Play(video, subs, o.bind(kind, next))
}

func (o *Orchestrator) arm() {
	o.listener.Start(listener.Callbacks{
		OnSpeechStart: o.bind("speech_start", o.onSpeechStart),
		OnCapture:     bindArg(o, "capture", o.onCapture),
		OnMisfire:     o.bind("misfire", o.onMisfire),
	})
}

// requestCtx tags the loop context with the current session for backend
// calls and their logs.
func (o *Orchestrator) requestCtx() context.Context {
	return observe.WithSession(o.ctx, o.sessionID())
}

func (o *Orchestrator) sessionID() string {
	if o.sess == nil {
		return ""
	}
	return o.sess.ID
}

// ---- session start ----------------------------------------------------------

type loaded struct {
	questions []boundary.Question
	err       error
}

func (o *Orchestrator) begin() {
	if o.phase != PhaseIdle || o.starting {
		slog.Debug("quiz: start ignored", "phase", o.phase)
		return
	}
	o.starting = true
	o.screen.HideStart()
	o.screen.HideSubtitle()

	deliver := bindArg(o, "questions", o.onQuestions)
	ctx := o.ctx
	go func() {
		qs, err := o.svc.StartSession(ctx)
		deliver(loaded{questions: qs, err: err})
	}()
}

func (o *Orchestrator) onQuestions(l loaded) {
	o.starting = false
	content := o.content().withDefaults()
	if l.err != nil {
		slog.Error("quiz: could not load questions", "err", l.err)
		o.screen.ShowSubtitle(content.Texts.LoadError)
		o.screen.ShowStart()
		return
	}

	o.sess = &Session{ID: uuid.NewString(), Questions: l.questions, content: content}
	o.metrics.ActiveSessions.Add(o.ctx, 1)
	slog.Info("quiz: session started", "session", o.sess.ID, "questions", len(l.questions))
	o.warmUp(l.questions, content.Assets)

	if intro := content.Assets.Intro; !intro.Empty() {
		o.enter(PhaseIntro)
		o.play(intro.Video, intro.subtitles(), "intro", o.enterCodeEntry)
		return
	}
	o.enterCodeEntry()
}

// warmUp caches question, asset and reaction videos in the background.
func (o *Orchestrator) warmUp(qs []boundary.Question, assets Assets) {
	if o.prefetch == nil {
		return
	}
	urls := make([]string, 0, len(qs))
	for _, q := range qs {
		urls = append(urls, q.Video)
	}
	urls = append(urls, assets.Videos()...)

	ctx := o.requestCtx()
	go func() {
		if err := o.prefetch.Prefetch(ctx, urls...); err != nil {
			slog.Debug("quiz: prefetch interrupted", "err", err)
			return
		}
		rs, err := o.svc.AllReactions(ctx)
		if err != nil {
			slog.Warn("quiz: could not list reactions for warm-up", "err", err)
			return
		}
		more := make([]string, 0, len(rs))
		for _, r := range rs {
			more = append(more, r.Video)
		}
		if err := o.prefetch.Prefetch(ctx, more...); err != nil {
			slog.Debug("quiz: prefetch interrupted", "err", err)
		}
	}()
}

// ---- code entry -------------------------------------------------------------

func (o *Orchestrator) enterCodeEntry() {
	o.enter(PhaseCodeEntry)
	t := o.sess.content.Texts
	o.screen.ShowSubtitle(t.CodePrompt)
	o.screen.ShowMic(t.Listening, false)
	o.arm()
}

func (o *Orchestrator) onCodeResult(r boundary.CodeCheckResult) {
	s := o.sess
	t := s.content.Texts
	log := slog.With("session", s.ID, "transcript", r.Transcript)

	switch r.Status {
	case boundary.CodeOK:
		s.Participant = Participant{Code: r.Code, Name: r.Name}
		log.Info("quiz: code accepted", "code", r.Code)
		o.enter(PhaseWelcome)
		o.screen.HideMic()
		if msg := t.welcome(s.Participant, r.Transcript); msg != "" {
			o.screen.ShowSubtitle(msg)
		}
		o.after(s.content.Timings.CodeAcceptedDelay, "welcome", o.playWelcome)

	case boundary.CodeUsed:
		log.Info("quiz: code already used", "code", r.Code)
		o.reject(s.content.Assets.CodeUsed, "code_used")

	case boundary.CodeNotFound:
		s.CodeAttempts++
		log.Info("quiz: code not found", "attempt", s.CodeAttempts)
		if s.CodeAttempts >= s.content.Timings.MaxCodeAttempts {
			o.reject(s.content.Assets.CodeRejected, "attempts_exhausted")
			return
		}
		o.retry(t.CodeNotFound, r.Transcript)

	default:
		log.Warn("quiz: code check failed", "err", r.Err)
		o.retry(t.ServerError, r.Transcript)
	}
}

func (o *Orchestrator) playWelcome() {
	o.screen.HideSubtitle()
	w := o.sess.content.Assets.Welcome
	if w.Empty() {
		o.enterQuestion(0)
		return
	}
	o.play(w.Video, w.subtitles(), "welcome", func() { o.enterQuestion(0) })
}

func (o *Orchestrator) reject(clip Clip, reason string) {
	o.enter(PhaseRejected)
	o.screen.HideMic()
	o.screen.HideSubtitle()
	slog.Info("quiz: participant rejected", "session", o.sess.ID, "reason", reason)
	if clip.Empty() {
		o.endSession("rejected")
		return
	}
	o.play(clip.Video, clip.subtitles(), "rejected", func() { o.endSession("rejected") })
}

// retry shows feedback and re-arms the listener after the retry delay. The
// phase does not change.
func (o *Orchestrator) retry(p Prompt, transcript string) {
	if transcript != "" {
		o.screen.ShowSubtitle(transcript)
	}
	o.screen.ShowMic(p, false)
	o.after(o.sess.content.Timings.RetryDelay, "retry", o.rearm)
}

func (o *Orchestrator) rearm() {
	t := o.sess.content.Texts
	switch o.phase {
	case PhaseCodeEntry:
		o.screen.ShowSubtitle(t.CodePrompt)
		o.screen.ShowMic(t.Listening, false)
	case PhaseAnswer:
		o.screen.ShowSubtitle(o.sess.Question().Subtitle)
		o.screen.ShowMic(t.AnswerPrompt, false)
	default:
		return
	}
	o.arm()
}

// ---- listener events --------------------------------------------------------

func (o *Orchestrator) onSpeechStart() {
	o.screen.ShowMic(o.sess.content.Texts.Recording, true)
	if o.phase == PhaseAnswer {
		o.timer.Pause()
	}
}

func (o *Orchestrator) onMisfire() {
	o.screen.ShowMic(o.sess.content.Texts.SpeakLouder, false)
	if o.phase == PhaseAnswer {
		o.timer.Resume()
	}
}

func (o *Orchestrator) onCapture(c audio.Capture) {
	s := o.sess
	o.screen.ShowMic(s.content.Texts.Processing, false)
	ctx := o.requestCtx()

	switch o.phase {
	case PhaseCodeEntry:
		deliver := bindArg(o, "code_result", o.onCodeResult)
		go func() { deliver(o.svc.CheckCode(ctx, c)) }()

	case PhaseAnswer:
		// The countdown keeps running while the backend works so a hung
		// request still ends in a timeout.
		o.timer.Resume()
		q := s.Question()
		hint := s.content.Texts.hint(q.Options)
		deliver := bindArg(o, "intent", o.onIntent)
		go func() { deliver(o.svc.CheckAnswer(ctx, c, q.Options, hint)) }()
	}
}

// ---- questions --------------------------------------------------------------

func (o *Orchestrator) enterQuestion(i int) {
	o.enter(PhaseQuestion)
	s := o.sess
	s.Index = i
	s.resolved = false
	o.screen.HideOptions()
	o.screen.HideMic()
	o.screen.HideSubtitle()
	q := s.Question()
	o.play(q.Video, playback.Static(q.Subtitle), "question", o.enterAnswer)
}

func (o *Orchestrator) enterAnswer() {
	o.enter(PhaseAnswer)
	s := o.sess
	s.resolved = false
	q := s.Question()
	t := s.content.Texts

	o.screen.ShowSubtitle(q.Subtitle)
	o.screen.ShowOptions(s.Index, len(s.Questions), q.Options)
	o.screen.ShowMic(t.AnswerPrompt, false)
	o.timer.Start(s.content.Timings.AnswerTime, o.bind("timeout", func() {
		o.tryResolve(outcome{source: SourceTimeout})
	}))
	o.arm()
}

func (o *Orchestrator) onIntent(r boundary.IntentResult) {
	t := o.sess.content.Texts
	switch r.Kind {
	case boundary.IntentMatched:
		o.tryResolve(outcome{source: SourceVoice, key: r.Key, transcript: r.Transcript})
	case boundary.IntentNoMatch:
		o.timer.Resume()
		o.retry(t.NotRecognised, r.Transcript)
	default:
		slog.Warn("quiz: answer check failed", "session", o.sess.ID, "err", r.Err)
		o.timer.Resume()
		o.retry(t.ServerError, r.Transcript)
	}
}

func (o *Orchestrator) selectOption(key boundary.Key) {
	k, ok := boundary.ParseKey(string(key))
	if !ok || o.phase != PhaseAnswer {
		slog.Debug("quiz: option tap ignored", "key", key, "phase", o.phase)
		return
	}
	o.tryResolve(outcome{source: SourceTouch, key: k})
}

type outcome struct {
	source     string
	key        boundary.Key
	transcript string
}

// tryResolve ends answer capture with out unless the question already has an
// outcome. It reports whether out was applied.
func (o *Orchestrator) tryResolve(out outcome) bool {
	s := o.sess
	if s == nil || o.phase != PhaseAnswer || s.resolved {
		o.metrics.RecordStaleEvent(o.ctx, "resolve_"+out.source)
		return false
	}
	s.resolved = true

	q := s.Question()
	correct := out.key != "" && out.key == q.Correct
	if correct {
		s.Score++
	}
	s.Answers = append(s.Answers, boundary.AnswerRecord{
		QuestionID: q.ID,
		Chosen:     out.key,
		Correct:    correct,
		Source:     out.source,
		Transcript: out.transcript,
	})
	o.metrics.RecordAnswer(o.ctx, out.source, correct)
	slog.Info("quiz: question resolved", "session", s.ID, "question", s.Index,
		"source", out.source, "chosen", out.key, "correct", correct, "score", s.Score)

	o.enter(PhaseReacting)
	o.screen.HideMic()
	o.screen.HideCountdown()
	if out.transcript != "" {
		o.screen.ShowSubtitle(out.transcript)
	}
	if out.key != "" {
		o.screen.MarkOption(out.key, correct)
	}
	if !correct {
		o.screen.MarkOption(q.Correct, true)
	}
	o.after(s.content.Timings.RevealDelay, "reveal", func() { o.react(correct) })
	return true
}

// ---- reactions and result ---------------------------------------------------

type reactionReply struct {
	reaction boundary.Reaction
	err      error
}

func (o *Orchestrator) react(correct bool) {
	s := o.sess
	a := s.content.Assets
	o.screen.HideOptions()
	o.screen.HideSubtitle()

	kind := boundary.ReactionCorrect
	var fallback Clip
	if correct {
		fallback = a.Correct
	} else {
		kind = boundary.ReactionWrong
		if clip := a.Wrong[s.Question().Correct]; !clip.Empty() {
			o.play(clip.Video, clip.subtitles(), "reaction", o.advance)
			return
		}
	}

	deliver := bindArg(o, "reaction", func(r reactionReply) {
		clip := fallback
		if r.err != nil {
			slog.Warn("quiz: could not fetch reaction", "kind", kind, "err", r.err)
		} else {
			clip = Clip{Video: r.reaction.Video, Subtitle: r.reaction.Subtitle}
		}
		if clip.Empty() {
			o.advance()
			return
		}
		o.play(clip.Video, clip.subtitles(), "reaction", o.advance)
	})
	ctx := o.requestCtx()
	go func() {
		r, err := o.svc.Reaction(ctx, kind)
		deliver(reactionReply{reaction: r, err: err})
	}()
}

func (o *Orchestrator) advance() {
	if o.sess.Last() {
		o.finish()
		return
	}
	o.enterQuestion(o.sess.Index + 1)
}

func (o *Orchestrator) finish() {
	o.enter(PhaseFinished)
	s := o.sess
	s.Index = len(s.Questions)
	o.screen.HideOptions()
	o.screen.HideMic()

	tier := Tier(s.Score)
	slog.Info("quiz: session finished", "session", s.ID, "score", s.Score, "tier", tier)
	o.save(s)

	summary := fmt.Sprintf(s.content.Texts.GameOver, s.Score, len(s.Questions))
	clip := s.content.Assets.Results[tier]
	if clip.Empty() {
		o.screen.ShowSubtitle(summary)
		o.after(s.content.Timings.RevealDelay, "result", func() { o.endSession("finished") })
		return
	}
	subs := clip.subtitles()
	if clip.Subtitle == "" && len(clip.Cues) == 0 {
		subs = playback.Static(summary)
	}
	o.play(clip.Video, subs, "result", func() { o.endSession("finished") })
}

func (o *Orchestrator) save(s *Session) {
	if s.Participant.Code == "" {
		slog.Warn("quiz: no participant code, result not saved", "session", s.ID)
		return
	}
	res := s.Result()
	ctx := context.WithoutCancel(o.requestCtx())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, saveTimeout)
		defer cancel()
		if err := o.svc.SaveResult(ctx, res); err != nil {
			slog.Warn("quiz: could not save result", "session", s.ID, "err", err)
		}
	}()
}

func (o *Orchestrator) endSession(outcome string) {
	s := o.sess
	o.metrics.RecordSessionEnd(o.ctx, outcome, s.Score)
	o.metrics.ActiveSessions.Add(o.ctx, -1)
	o.sess = nil
	o.enter(PhaseIdle)
	o.screen.HideSubtitle()
	o.screen.HideMic()
	o.screen.HideOptions()
	o.screen.HideCountdown()
	o.screen.ShowStart()
}

func (o *Orchestrator) shutdown() {
	o.epoch++
	o.timer.Stop()
	o.listener.Pause()
	o.player.Stop()
	if o.delay != nil {
		o.delay.Stop()
	}
	if o.sess != nil {
		slog.Info("quiz: abandoning session on shutdown", "session", o.sess.ID, "phase", o.phase)
		ctx := context.WithoutCancel(o.ctx)
		o.metrics.RecordSessionEnd(ctx, "aborted", o.sess.Score)
		o.metrics.ActiveSessions.Add(ctx, -1)
	}
}
