// Package playback drives a media session over one assembled track.
//
// The controller keeps its own clock-based position, so it works the same
// whether the track is rendered by a local device, streamed to a client or
// not rendered at all.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/loqalabs/studycast/internal/media"
)

type State int

const (
	Idle State = iota
	Ready
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNoTrack         = errors.New("no track loaded")
	ErrUnsupportedRate = errors.New("unsupported playback rate")
	ErrClosed          = errors.New("controller closed")
)

// PlaybackError is surfaced to the user when a track cannot be loaded or an
// operation is not valid in the current state.
type PlaybackError struct {
	Op    string
	Track string
	Err   error
}

func (e *PlaybackError) Error() string {
	if e.Track != "" {
		return fmt.Sprintf("playback %s %s: %v", e.Op, e.Track, e.Err)
	}
	return fmt.Sprintf("playback %s: %v", e.Op, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// Progress is emitted to subscribers while playing and after position changes.
type Progress struct {
	Generation     uint64
	Track          string
	Position       time.Duration
	Duration       time.Duration
	Remaining      time.Duration
	Fraction       float64
	PositionLabel  string
	DurationLabel  string
	RemainingLabel string
}

// Snapshot is the full session state at one instant.
type Snapshot struct {
	Generation uint64
	State      State
	Track      string
	Position   time.Duration
	Duration   time.Duration
	Rate       float64
	Volume     float64
	Err        error
}

type Options struct {
	Interval time.Duration
	Skip     time.Duration
	Rates    []float64
	Prober   media.Prober
	Clock    func() time.Time
}

type Controller struct {
	mu       sync.Mutex
	opts     Options
	logger   *slog.Logger
	wg       sync.WaitGroup
	closed   bool
	state    State
	track    string
	duration time.Duration
	base     time.Duration // position at anchor
	anchor   time.Time     // when playback last started
	rateIdx  int
	volume   float64
	gen      uint64
	stop     chan struct{}
	subs     map[int]chan Progress
	nextSub  int
	lastErr  error
}

func NewController(opts Options, logger *slog.Logger) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Skip <= 0 {
		opts.Skip = 10 * time.Second
	}
	if len(opts.Rates) == 0 {
		opts.Rates = []float64{0.5, 0.75, 1.0, 1.5, 2.0}
	}
	if opts.Prober == nil {
		opts.Prober = media.WAVProber{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c := &Controller{
		opts:   opts,
		logger: logger.With(slog.String("component", "playback")),
		volume: 1.0,
		subs:   map[int]chan Progress{},
	}
	c.rateIdx = c.indexOfRate(1.0)
	return c
}

func (c *Controller) indexOfRate(r float64) int {
	for i, v := range c.opts.Rates {
		if v == r {
			return i
		}
	}
	return 0
}

// Subscribe registers an observer. The returned cancel func stops delivery
// and closes the channel. Slow observers miss updates rather than block.
func (c *Controller) Subscribe(buffer int) (<-chan Progress, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Progress, buffer)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Load tears down the current session and opens track. On failure the
// controller is left Idle and the error is kept for Snapshot.
func (c *Controller) Load(ctx context.Context, track media.AssembledTrack) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &PlaybackError{Op: "load", Track: track.Path, Err: ErrClosed}
	}
	c.teardownLocked()
	gen := c.gen
	c.mu.Unlock()

	var (
		duration time.Duration
		err      error
	)
	if track.Path == "" {
		err = errors.New("empty track path")
	} else {
		var res media.ProbeResult
		res, err = c.opts.Prober.Probe(ctx, track.Path)
		if err == nil && (!res.Playable || res.Duration <= 0) {
			err = errors.New("track is not playable")
		}
		duration = res.Duration
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.closed {
		// superseded by a newer load or Close
		return &PlaybackError{Op: "load", Track: track.Path, Err: context.Canceled}
	}
	if err != nil {
		perr := &PlaybackError{Op: "load", Track: track.Path, Err: err}
		c.lastErr = perr
		c.logger.Warn("failed to load track", slog.String("track", track.Path), slog.String("error", err.Error()))
		return perr
	}
	c.state = Ready
	c.track = track.Path
	c.duration = duration
	c.base = 0
	c.lastErr = nil
	c.logger.Info("track loaded", slog.String("track", track.Path), slog.Duration("duration", duration))
	return nil
}

// teardownLocked stops progress reporting, drops queued updates for the old
// track and returns to Idle.
func (c *Controller) teardownLocked() {
	c.stopTickerLocked()
	c.gen++
	for _, ch := range c.subs {
	drain:
		for {
			select {
			case <-ch:
			default:
				break drain
			}
		}
	}
	c.state = Idle
	c.track = ""
	c.duration = 0
	c.base = 0
}

func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Idle:
		return &PlaybackError{Op: "play", Err: ErrNoTrack}
	case Playing:
		return nil
	}
	if c.base >= c.duration {
		c.base = 0
	}
	c.state = Playing
	c.anchor = c.opts.Clock()
	c.startTickerLocked()
	c.emitLocked()
	return nil
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Idle:
		return &PlaybackError{Op: "pause", Err: ErrNoTrack}
	case Playing:
		c.base = c.positionLocked()
		c.state = Paused
		c.stopTickerLocked()
		c.emitLocked()
	}
	return nil
}

// TogglePlayPause pauses when playing and plays otherwise.
func (c *Controller) TogglePlayPause() error {
	c.mu.Lock()
	playing := c.state == Playing
	c.mu.Unlock()
	if playing {
		return c.Pause()
	}
	return c.Play()
}

// Seek moves to fraction of the track duration; fraction is clamped to [0, 1].
func (c *Controller) Seek(fraction float64) error {
	if math.IsNaN(fraction) {
		fraction = 0
	}
	fraction = math.Max(0, math.Min(1, fraction))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return &PlaybackError{Op: "seek", Err: ErrNoTrack}
	}
	c.setPositionLocked(time.Duration(fraction * float64(c.duration)))
	return nil
}

// SkipForward moves ahead by d, or the configured skip when d <= 0.
func (c *Controller) SkipForward(d time.Duration) error {
	return c.skip("skip_forward", d, 1)
}

// SkipBackward moves back by d, or the configured skip when d <= 0.
func (c *Controller) SkipBackward(d time.Duration) error {
	return c.skip("skip_backward", d, -1)
}

func (c *Controller) skip(op string, d time.Duration, sign time.Duration) error {
	if d <= 0 {
		d = c.opts.Skip
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return &PlaybackError{Op: op, Err: ErrNoTrack}
	}
	c.setPositionLocked(c.positionLocked() + sign*d)
	return nil
}

func (c *Controller) setPositionLocked(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	if pos > c.duration {
		pos = c.duration
	}
	c.base = pos
	c.anchor = c.opts.Clock()
	c.emitLocked()
}

// CycleRate advances to the next supported rate, wrapping after the last.
// It applies immediately when playing and on the next Play otherwise.
func (c *Controller) CycleRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyRateLocked((c.rateIdx + 1) % len(c.opts.Rates))
	return c.opts.Rates[c.rateIdx]
}

// SetRate selects one of the supported rates directly.
func (c *Controller) SetRate(rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.opts.Rates {
		if r == rate {
			c.applyRateLocked(i)
			return nil
		}
	}
	return &PlaybackError{Op: "set_rate", Err: fmt.Errorf("%w: %v", ErrUnsupportedRate, rate)}
}

func (c *Controller) applyRateLocked(idx int) {
	if c.state == Playing {
		c.base = c.positionLocked()
		c.anchor = c.opts.Clock()
	}
	c.rateIdx = idx
}

// SetVolume clamps v to [0, 1] and applies it immediately.
func (c *Controller) SetVolume(v float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Max(0, math.Min(1, v))
	c.mu.Lock()
	c.volume = v
	c.mu.Unlock()
	return v
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Generation: c.gen,
		State:      c.state,
		Track:      c.track,
		Position:   c.positionLocked(),
		Duration:   c.duration,
		Rate:       c.opts.Rates[c.rateIdx],
		Volume:     c.volume,
		Err:        c.lastErr,
	}
}

// Close ends the session and closes every subscriber channel.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) positionLocked() time.Duration {
	if c.state != Playing {
		return c.base
	}
	elapsed := c.opts.Clock().Sub(c.anchor)
	pos := c.base + time.Duration(float64(elapsed)*c.opts.Rates[c.rateIdx])
	if pos > c.duration {
		pos = c.duration
	}
	return pos
}

func (c *Controller) startTickerLocked() {
	c.stopTickerLocked()
	stop := make(chan struct{})
	c.stop = stop
	gen := c.gen
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.opts.Interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if !c.tick(gen, stop) {
					return
				}
			}
		}
	}()
}

func (c *Controller) stopTickerLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// tick emits one update if the ticker still belongs to the live session.
func (c *Controller) tick(gen uint64, stop chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.stop != stop || c.state != Playing {
		return false
	}
	pos := c.positionLocked()
	if pos >= c.duration {
		c.base = c.duration
		c.state = Paused
		c.stopTickerLocked()
		c.emitLocked()
		return false
	}
	c.emitLocked()
	return true
}

func (c *Controller) emitLocked() {
	if c.state == Idle {
		return
	}
	pos := c.positionLocked()
	remaining := c.duration - pos
	var fraction float64
	if c.duration > 0 {
		fraction = float64(pos) / float64(c.duration)
	}
	p := Progress{
		Generation:     c.gen,
		Track:          c.track,
		Position:       pos,
		Duration:       c.duration,
		Remaining:      remaining,
		Fraction:       fraction,
		PositionLabel:  FormatTime(pos),
		DurationLabel:  FormatTime(c.duration),
		RemainingLabel: FormatTime(remaining),
	}
	for _, ch := range c.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// FormatTime renders d as mm:ss, e.g. 125s is "02:05".
func FormatTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
