// Package display serves the kiosk page over a WebSocket.
//
// A [Hub] is the server side of the display protocol. It implements the
// screens used by the playback controller and the quiz orchestrator by
// broadcasting JSON messages to every connected page, and keeps the current
// screen state so a page that connects (or reloads) mid-session is brought up
// to date immediately. Page input is forwarded to the [Input] and [Video]
// attached with [Hub.Attach]. Binary messages carry browser microphone audio;
// the hub exposes them as an [audio.Source].
package display

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxquiz/internal/boundary"
	"github.com/MrWong99/voxquiz/internal/observe"
	"github.com/MrWong99/voxquiz/internal/playback"
	"github.com/MrWong99/voxquiz/internal/quiz"
	"github.com/MrWong99/voxquiz/pkg/audio"
)

const (
	defaultSendBuffer  = 64
	defaultAudioBuffer = 256
	defaultMicRate     = 16000
	writeTimeout       = 5 * time.Second
)

// Input receives page interactions. [quiz.Orchestrator] implements it.
type Input interface {
	Start()
	Select(key boundary.Key)
}

// Video receives playback reports. [playback.Controller] implements it.
type Video interface {
	Progress(token uint64, t time.Duration)
	Ended(token uint64)
	Failed(token uint64)
}

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin pages matching the given host
// patterns to connect.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// WithMicSampleRate sets the sample rate of binary PCM sent by the page.
func WithMicSampleRate(rate int) Option {
	return func(h *Hub) {
		if rate > 0 {
			h.micRate = rate
		}
	}
}

// WithSendBuffer sets how many messages may queue for one page before it is
// disconnected as too slow.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

type videoState struct {
	token uint64
	src   string
}

type optionsState struct {
	msg   Message
	marks []Message
}

// screenState is what a newly connected page needs to render.
type screenState struct {
	start     bool
	video     *videoState
	subtitle  string
	options   *optionsState
	mic       *Message
	countdown *Message
}

// Hub fans display messages out to connected pages. Safe for concurrent use.
type Hub struct {
	metrics    *observe.Metrics
	origins    []string
	micRate    int
	sendBuffer int

	mu      sync.Mutex
	clients map[*client]struct{}
	state   screenState
	input   Input
	video   Video

	frames    chan audio.AudioFrame
	micOffset time.Duration
	closeOnce sync.Once
	closed    chan struct{}
}

// New returns a Hub with no pages connected.
func New(opts ...Option) *Hub {
	h := &Hub{
		micRate:    defaultMicRate,
		sendBuffer: defaultSendBuffer,
		clients:    make(map[*client]struct{}),
		frames:     make(chan audio.AudioFrame, defaultAudioBuffer),
		closed:     make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Attach sets the receivers of page input. Either may be nil.
func (h *Hub) Attach(in Input, v Video) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.input = in
	h.video = v
}

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ---- screen -----------------------------------------------------------------

// PlayVideo implements playback.Screen.
func (h *Hub) PlayVideo(token uint64, src string) {
	h.update(Message{Type: TypeVideoPlay, Token: token, Src: src}, func(s *screenState) {
		s.video = &videoState{token: token, src: src}
	})
}

// HideVideo implements playback.Screen.
func (h *Hub) HideVideo() {
	h.update(Message{Type: TypeVideoHide}, func(s *screenState) { s.video = nil })
}

// ShowSubtitle implements playback.Screen and quiz.Screen.
func (h *Hub) ShowSubtitle(text string) {
	h.update(Message{Type: TypeSubtitleShow, Text: text}, func(s *screenState) { s.subtitle = text })
}

// HideSubtitle implements playback.Screen and quiz.Screen.
func (h *Hub) HideSubtitle() {
	h.update(Message{Type: TypeSubtitleHide}, func(s *screenState) { s.subtitle = "" })
}

func (h *Hub) ShowStart() {
	h.update(Message{Type: TypeStartShow}, func(s *screenState) { s.start = true })
}

func (h *Hub) HideStart() {
	h.update(Message{Type: TypeStartHide}, func(s *screenState) { s.start = false })
}

func (h *Hub) ShowOptions(index, total int, opts boundary.Options) {
	msg := Message{Type: TypeOptionsShow, Question: index + 1, Total: total, Options: &opts}
	h.update(msg, func(s *screenState) { s.options = &optionsState{msg: msg} })
}

func (h *Hub) MarkOption(key boundary.Key, correct bool) {
	state := MarkWrong
	if correct {
		state = MarkCorrect
	}
	msg := Message{Type: TypeOptionsMark, Key: key, State: state}
	h.update(msg, func(s *screenState) {
		if s.options != nil {
			s.options.marks = append(s.options.marks, msg)
		}
	})
}

func (h *Hub) HideOptions() {
	h.update(Message{Type: TypeOptionsHide}, func(s *screenState) { s.options = nil })
}

func (h *Hub) ShowMic(p quiz.Prompt, recording bool) {
	msg := Message{Type: TypeMicShow, Label: p.Label, Hint: p.Hint, Recording: recording}
	h.update(msg, func(s *screenState) { s.mic = &msg })
}

func (h *Hub) HideMic() {
	h.update(Message{Type: TypeMicHide}, func(s *screenState) { s.mic = nil })
}

// Countdown shows the answer timer. It is driven by the countdown tick.
func (h *Hub) Countdown(remaining, total time.Duration) {
	msg := Message{Type: TypeCountdown, RemainingMs: remaining.Milliseconds(), TotalMs: total.Milliseconds()}
	h.update(msg, func(s *screenState) { s.countdown = &msg })
}

func (h *Hub) HideCountdown() {
	h.update(Message{Type: TypeCountdownHide}, func(s *screenState) { s.countdown = nil })
}

// update applies fn to the screen state and broadcasts msg, atomically with
// respect to connecting pages.
func (h *Hub) update(msg Message, fn func(*screenState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.state)
	for c := range h.clients {
		c.send(msg)
	}
}

// replay returns the messages that draw the current screen. Must hold h.mu.
func (h *Hub) replayLocked() []Message {
	s := h.state
	var out []Message
	if s.start {
		out = append(out, Message{Type: TypeStartShow})
	} else {
		out = append(out, Message{Type: TypeStartHide})
	}
	if s.video != nil {
		out = append(out, Message{Type: TypeVideoPlay, Token: s.video.token, Src: s.video.src})
	}
	if s.subtitle != "" {
		out = append(out, Message{Type: TypeSubtitleShow, Text: s.subtitle})
	}
	if s.options != nil {
		out = append(out, s.options.msg)
		out = append(out, s.options.marks...)
	}
	if s.mic != nil {
		out = append(out, *s.mic)
	}
	if s.countdown != nil {
		out = append(out, *s.countdown)
	}
	return out
}

// ---- connections ------------------------------------------------------------

type client struct {
	out    chan Message
	cancel context.CancelFunc
	once   sync.Once
	remote string
}

// send queues msg without blocking. A page that cannot keep up is dropped.
func (c *client) send(msg Message) {
	select {
	case c.out <- msg:
	default:
		c.once.Do(func() {
			slog.Warn("display: page too slow, disconnecting", "remote", c.remote)
			c.cancel()
		})
	}
}

// ServeHTTP upgrades the request to a display WebSocket and serves it until
// the page disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("display: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &client{out: make(chan Message, h.sendBuffer), cancel: cancel, remote: r.RemoteAddr}

	h.mu.Lock()
	for _, m := range h.replayLocked() {
		c.send(m)
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.DisplayClients.Add(ctx, 1)
	slog.Info("display: page connected", "remote", c.remote)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.metrics.DisplayClients.Add(context.WithoutCancel(ctx), -1)
		slog.Info("display: page disconnected", "remote", c.remote)
	}()

	go h.writeLoop(ctx, conn, c)
	err = h.readLoop(ctx, conn)
	cancel()

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		conn.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, context.Canceled):
		conn.Close(websocket.StatusPolicyViolation, "disconnected")
	default:
		slog.Debug("display: read ended", "remote", c.remote, "err", err)
		conn.Close(websocket.StatusInternalError, "read failed")
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				slog.Debug("display: write failed", "remote", c.remote, "err", err)
				c.cancel()
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			h.pushAudio(data)
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Debug("display: malformed event", "err", err)
			continue
		}
		h.dispatch(ev)
	}
}

func (h *Hub) dispatch(ev Event) {
	h.mu.Lock()
	in, v := h.input, h.video
	h.mu.Unlock()

	switch ev.Type {
	case EventStart:
		if in != nil {
			in.Start()
		}
	case EventOptionSelect:
		if in != nil {
			in.Select(boundary.Key(ev.Key))
		}
	case EventVideoProgress:
		if v != nil {
			v.Progress(ev.Token, ev.position())
		}
	case EventVideoEnded:
		if v != nil {
			v.Ended(ev.Token)
		}
	case EventVideoError:
		if v != nil {
			v.Failed(ev.Token)
		}
	default:
		slog.Debug("display: unknown event", "type", ev.Type)
	}
}

// ---- microphone -------------------------------------------------------------

func (h *Hub) pushAudio(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.closed:
		return
	default:
	}
	f := audio.AudioFrame{Data: pcm, SampleRate: h.micRate, Channels: 1, Timestamp: h.micOffset}
	h.micOffset += audio.Duration(pcm, h.micRate)
	select {
	case h.frames <- f:
	default:
		slog.Debug("display: microphone buffer full, dropping frame")
	}
}

// Frames implements [audio.Source] with the audio streamed by pages.
func (h *Hub) Frames() <-chan audio.AudioFrame {
	return h.frames
}

// Close implements [audio.Source]. The frame channel is closed and further
// page audio is discarded.
func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.closed)
		close(h.frames)
		h.mu.Unlock()
	})
	return nil
}

var (
	_ audio.Source    = (*Hub)(nil)
	_ playback.Screen = (*Hub)(nil)
	_ quiz.Screen     = (*Hub)(nil)
)
