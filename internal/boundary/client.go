// Package boundary is the HTTP client for the quiz backend: participant code
// checks, answer classification, question sets, reaction clips and result
// persistence.
//
// Speech captures are uploaded as 16-bit mono WAV files in a multipart form.
// Every response is decoded into a closed result type; an unexpected status
// token or a malformed payload never reaches the caller as a zero value.
// Transport failures and non-success responses are reported as the Error
// variant (CheckCode, CheckAnswer) or a returned error (everything else).
//
// All calls go through a [resilience.Breaker]. While the backend is failing
// the breaker rejects calls immediately, which surfaces as the same Error
// variant a transport failure would.
package boundary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxquiz/internal/observe"
	"github.com/MrWong99/voxquiz/internal/resilience"
	"github.com/MrWong99/voxquiz/pkg/audio"
)

// QuestionsPerSession is the number of questions a session plays.
const QuestionsPerSession = 5

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// ErrInvalidShape is returned (wrapped) when the backend answers with a
// payload that does not match the expected schema.
var ErrInvalidShape = errors.New("boundary: unexpected response shape")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Endpoint string
	Code     int
	Body     []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("boundary: %s: unexpected status %d", e.Endpoint, e.Code)
}

// Paths holds the backend routes. {type} in Reaction is replaced with the
// reaction kind.
type Paths struct {
	CheckCode   string
	CheckAnswer string
	Start       string
	Reaction    string
	Reactions   string
	SaveResult  string
}

// DefaultPaths returns the routes of the reference backend.
func DefaultPaths() Paths {
	return Paths{
		CheckCode:   "/quiz/check-code",
		CheckAnswer: "/quiz/check-answer",
		Start:       "/quiz/start",
		Reaction:    "/quiz/reaction/{type}",
		Reactions:   "/quiz/reactions/all",
		SaveResult:  "/quiz/save-result",
	}
}

// withDefaults fills empty routes from [DefaultPaths].
func (p Paths) withDefaults() Paths {
	d := DefaultPaths()
	if p.CheckCode == "" {
		p.CheckCode = d.CheckCode
	}
	if p.CheckAnswer == "" {
		p.CheckAnswer = d.CheckAnswer
	}
	if p.Start == "" {
		p.Start = d.Start
	}
	if p.Reaction == "" {
		p.Reaction = d.Reaction
	}
	if p.Reactions == "" {
		p.Reactions = d.Reactions
	}
	if p.SaveResult == "" {
		p.SaveResult = d.SaveResult
	}
	return p
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient sets the HTTP client. The default has a 20 s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBreaker sets the circuit breaker guarding every call.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPaths overrides backend routes. Empty fields keep their defaults.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		c.paths = p.withDefaults()
	}
}

// Client talks to the quiz backend. Safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	paths   Paths
	breaker *resilience.Breaker
	metrics *observe.Metrics
}

// New returns a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("boundary: base url must not be empty")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("boundary: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("boundary: base url %q must be http or https", baseURL)
	}
	c := &Client{
		base:  base,
		http:  &http.Client{Timeout: 20 * time.Second},
		paths: DefaultPaths(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.New(resilience.Config{Name: "boundary", IsFailure: IsBreakerFailure})
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// Breaker returns the circuit breaker guarding the client.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// IsBreakerFailure reports whether err should count against the breaker:
// transport failures and 5xx responses do, client errors and malformed
// payloads do not.
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return !errors.Is(err, ErrInvalidShape)
}

// ---- code check -------------------------------------------------------------

type codeResponse struct {
	Status     string `json:"status"`
	Code       string `json:"code"`
	Transcript string `json:"transcript"`
	UserName   string `json:"user_name"`
}

// CheckCode uploads a spoken participant code. It makes exactly one attempt.
func (c *Client) CheckCode(ctx context.Context, capture audio.Capture) CodeCheckResult {
	body, ctype, err := captureForm(capture, nil)
	if err != nil {
		return CodeCheckResult{Status: CodeError, Err: err}
	}
	var resp codeResponse
	err = c.call(ctx, "check_code", http.MethodPost, c.paths.CheckCode, body, ctype, &resp)
	res := decodeCode(resp, err)
	c.metrics.RecordCodeCheck(ctx, res.Status.String())
	return res
}

func decodeCode(resp codeResponse, err error) CodeCheckResult {
	if err != nil {
		res := CodeCheckResult{Status: CodeError, Err: err}
		var se *StatusError
		if errors.As(err, &se) {
			var partial codeResponse
			if json.Unmarshal(se.Body, &partial) == nil {
				res.Transcript = partial.Transcript
			}
		}
		return res
	}
	res := CodeCheckResult{Code: resp.Code, Transcript: resp.Transcript}
	switch strings.ToLower(strings.TrimSpace(resp.Status)) {
	case "ok":
		res.Status = CodeOK
		res.Name = resp.UserName
	case "used":
		res.Status = CodeUsed
	case "not_found":
		res.Status = CodeNotFound
	default:
		res.Status = CodeError
		res.Err = fmt.Errorf("%w: code status %q", ErrInvalidShape, resp.Status)
	}
	return res
}

// ---- answer check -----------------------------------------------------------

type answerResponse struct {
	Answer     *string `json:"answer"`
	Transcript string  `json:"transcript"`
}

// CheckAnswer uploads a spoken answer together with the three option texts
// and a recogniser hint. Only a, b or c in the response select an option;
// anything else is a no-match.
func (c *Client) CheckAnswer(ctx context.Context, capture audio.Capture, opts Options, hint string) IntentResult {
	fields := map[string]string{
		"option_a": opts.A,
		"option_b": opts.B,
		"option_c": opts.C,
	}
	if hint != "" {
		fields["prompt_hint"] = hint
	}
	body, ctype, err := captureForm(capture, fields)
	if err != nil {
		return IntentResult{Kind: IntentError, Err: err}
	}
	var resp answerResponse
	err = c.call(ctx, "check_answer", http.MethodPost, c.paths.CheckAnswer, body, ctype, &resp)
	res := decodeAnswer(resp, err)
	c.metrics.RecordIntent(ctx, res.Kind.String())
	return res
}

func decodeAnswer(resp answerResponse, err error) IntentResult {
	if err != nil {
		res := IntentResult{Kind: IntentError, Err: err}
		var se *StatusError
		if errors.As(err, &se) {
			var partial answerResponse
			if json.Unmarshal(se.Body, &partial) == nil {
				res.Transcript = partial.Transcript
			}
		}
		return res
	}
	res := IntentResult{Kind: IntentNoMatch, Transcript: resp.Transcript}
	if resp.Answer != nil {
		if k, ok := ParseKey(*resp.Answer); ok {
			res.Kind = IntentMatched
			res.Key = k
		}
	}
	return res
}

// ---- session content --------------------------------------------------------

type startResponse struct {
	Questions []Question `json:"questions"`
}

// StartSession fetches a fresh set of questions. The set must contain
// exactly [QuestionsPerSession] questions, each with a video, three option
// texts and a correct key of a, b or c.
func (c *Client) StartSession(ctx context.Context) ([]Question, error) {
	var resp startResponse
	if err := c.call(ctx, "start", http.MethodGet, c.paths.Start, nil, "", &resp); err != nil {
		return nil, err
	}
	if err := validateQuestions(resp.Questions); err != nil {
		return nil, err
	}
	return resp.Questions, nil
}

func validateQuestions(qs []Question) error {
	if len(qs) != QuestionsPerSession {
		return fmt.Errorf("%w: got %d questions, want %d", ErrInvalidShape, len(qs), QuestionsPerSession)
	}
	var errs []error
	for i := range qs {
		q := &qs[i]
		if strings.TrimSpace(q.Video) == "" {
			errs = append(errs, fmt.Errorf("question %d: video is empty", i))
		}
		k, ok := ParseKey(string(q.Correct))
		if !ok {
			errs = append(errs, fmt.Errorf("question %d: correct key %q is not a, b or c", i, q.Correct))
		}
		q.Correct = k
		for _, key := range Keys {
			if strings.TrimSpace(q.Options.Get(key)) == "" {
				errs = append(errs, fmt.Errorf("question %d: option %s is empty", i, key))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidShape, errors.Join(errs...))
	}
	return nil
}

// Reaction fetches a random reaction clip of the given kind.
func (c *Client) Reaction(ctx context.Context, kind ReactionKind) (Reaction, error) {
	path := strings.ReplaceAll(c.paths.Reaction, "{type}", url.PathEscape(string(kind)))
	var r Reaction
	if err := c.call(ctx, "reaction", http.MethodGet, path, nil, "", &r); err != nil {
		return Reaction{}, err
	}
	if strings.TrimSpace(r.Video) == "" {
		return Reaction{}, fmt.Errorf("%w: %s reaction without video", ErrInvalidShape, kind)
	}
	return r, nil
}

type reactionsResponse struct {
	Reactions []Reaction `json:"reactions"`
	// Videos is the bare URL list some backend versions send instead.
	Videos []string `json:"videos"`
}

// AllReactions fetches every reaction clip so they can be cached ahead of
// time.
func (c *Client) AllReactions(ctx context.Context) ([]Reaction, error) {
	var resp reactionsResponse
	if err := c.call(ctx, "reactions", http.MethodGet, c.paths.Reactions, nil, "", &resp); err != nil {
		return nil, err
	}
	out := make([]Reaction, 0, len(resp.Reactions)+len(resp.Videos))
	for _, r := range resp.Reactions {
		if r.Video != "" {
			out = append(out, r)
		}
	}
	for _, v := range resp.Videos {
		if v != "" {
			out = append(out, Reaction{Video: v})
		}
	}
	return out, nil
}

// SaveResult stores a finished session.
func (c *Client) SaveResult(ctx context.Context, r Result) error {
	if r.Code == "" {
		return errors.New("boundary: save result: participant code is empty")
	}
	if r.Score < 0 || r.Score > QuestionsPerSession {
		return fmt.Errorf("boundary: save result: score %d out of range", r.Score)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("boundary: encode result: %w", err)
	}
	return c.call(ctx, "save_result", http.MethodPost, c.paths.SaveResult, bytes.NewReader(data), "application/json", nil)
}

// ---- transport --------------------------------------------------------------

// captureForm encodes capture as a WAV file in the "audio" form field plus
// the given text fields.
func captureForm(capture audio.Capture, fields map[string]string) (io.Reader, string, error) {
	if len(capture.PCM) == 0 {
		return nil, "", errors.New("boundary: empty capture")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("boundary: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(capture.PCM, capture.SampleRate, 1)); err != nil {
		return nil, "", fmt.Errorf("boundary: write audio: %w", err)
	}
	for _, name := range []string{"option_a", "option_b", "option_c", "prompt_hint"} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		if err := mw.WriteField(name, v); err != nil {
			return nil, "", fmt.Errorf("boundary: write %s field: %w", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("boundary: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("boundary: parse path %q: %w", path, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

// call performs one request through the breaker and decodes a JSON response
// into out (when non-nil).
func (c *Client) call(ctx context.Context, endpoint, method, path string, body io.Reader, contentType string, out any) error {
	ctx, span := observe.StartSpan(ctx, "boundary."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.HTTPRequestMethodKey.String(method)),
	)
	defer span.End()

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		target, err := c.resolve(path)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return fmt.Errorf("boundary: create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		observe.InjectHTTP(ctx, req.Header)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("boundary: %s: %w", endpoint, err)
		}
		defer resp.Body.Close()
		span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("boundary: %s: read body: %w", endpoint, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: data}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidShape, endpoint, err)
		}
		return nil
	})
	elapsed := time.Since(start)

	status := statusLabel(err)
	c.metrics.RecordBoundaryRequest(ctx, endpoint, status, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		observe.Logger(ctx).Warn("boundary: request failed",
			"endpoint", endpoint, "status", status, "duration", elapsed, "err", err)
		return err
	}
	observe.Logger(ctx).Debug("boundary: request done", "endpoint", endpoint, "duration", elapsed)
	return nil
}

// statusLabel maps a call error to the metric status attribute.
func statusLabel(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &se):
		return fmt.Sprintf("http_%dxx", se.Code/100)
	case errors.Is(err, ErrInvalidShape):
		return "invalid"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
