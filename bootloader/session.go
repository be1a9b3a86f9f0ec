package bootloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/looplab/fsm"

	"github.com/daphtdazz/pybricks-code/firmware"
	"github.com/daphtdazz/pybricks-code/hub"
	"github.com/daphtdazz/pybricks-code/protocol"
	"github.com/daphtdazz/pybricks-code/transport"
)

// cancelThreshold is the written fraction beyond which cancellation is
// refused. Past half the image the old firmware is long gone, and the
// fastest route back to a working hub is finishing the flash.
const cancelThreshold = 0.5

// flashGate serializes flash sessions process-wide. A hub being flashed
// is in a fragile state; two sessions fighting over transports could
// leave it unbootable.
var flashGate = make(chan struct{}, 1)

// Lifecycle transition names.
const (
	eventStart     = "start"
	eventHandshake = "handshake"
	eventValidate  = "validate"
	eventErase     = "erase"
	eventProgram   = "program"
	eventVerify    = "verify"
	eventReboot    = "reboot"
	eventComplete  = "complete"
	eventFail      = "fail"
	eventCancel    = "cancel"
)

// Session owns one complete firmware installation: connect, identify,
// validate, erase, program, verify, reboot. Sessions are single-use;
// create a new one for each installation.
//
// Run drives the session to a terminal state. Cancel may be called from
// any goroutine while Run is in flight.
type Session struct {
	coord  *hub.Coordinator
	t      transport.Transport
	pkg    *firmware.Package
	config Config

	machine  *fsm.FSM
	progress *tracker
	client   *Client
	conn     *hub.Connection

	mu        sync.Mutex
	started   bool
	cancelled bool
}

// NewSession prepares a firmware installation. The coordinator enforces
// the single-connection rule, the transport carries the frames, and the
// package supplies the image.
//
// Example:
//
//	session := bootloader.NewSession(coord, t, pkg,
//	    bootloader.WithProgressFunc(showProgress),
//	    bootloader.WithLogger(log.WithName("flash")),
//	)
//	err := session.Run(ctx)
func NewSession(coord *hub.Coordinator, t transport.Transport, pkg *firmware.Package, opts ...Option) *Session {
	if coord == nil {
		panic("coordinator cannot be nil")
	}
	if t == nil {
		panic("transport cannot be nil")
	}
	if pkg == nil {
		panic("firmware package cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		coord:    coord,
		t:        t,
		pkg:      pkg,
		config:   cfg,
		progress: &tracker{},
	}
	s.machine = s.newMachine()

	return s
}

func (s *Session) newMachine() *fsm.FSM {
	cancellable := []string{
		string(StateConnecting),
		string(StateHandshaking),
		string(StateValidating),
		string(StateErasing),
		string(StateProgramming),
	}
	active := append([]string{}, cancellable...)
	active = append(active, string(StateVerifying), string(StateRebooting))

	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: eventHandshake, Src: []string{string(StateConnecting)}, Dst: string(StateHandshaking)},
			{Name: eventValidate, Src: []string{string(StateHandshaking)}, Dst: string(StateValidating)},
			{Name: eventErase, Src: []string{string(StateValidating)}, Dst: string(StateErasing)},
			{Name: eventProgram, Src: []string{string(StateErasing)}, Dst: string(StateProgramming)},
			{Name: eventVerify, Src: []string{string(StateProgramming)}, Dst: string(StateVerifying)},
			{Name: eventReboot, Src: []string{string(StateVerifying)}, Dst: string(StateRebooting)},
			{Name: eventComplete, Src: []string{string(StateRebooting)}, Dst: string(StateCompleted)},
			{Name: eventFail, Src: active, Dst: string(StateFailed)},
			{Name: eventCancel, Src: cancellable, Dst: string(StateCancelled)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.emit(Event{Kind: EventStateChanged, From: State(e.Src), To: State(e.Dst)})
			},
		},
	)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.machine.Current())
}

// Progress returns the last reported completion ratio.
func (s *Session) Progress() float64 {
	return s.progress.ratio()
}

// Run executes the installation and blocks until a terminal state. It
// returns nil on Completed, ErrCancelled on Cancelled, and the failure
// otherwise. Only one session may run at a time per process; a second
// concurrent Run returns ErrFlashInProgress immediately.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("flash session already run")
	}
	s.started = true
	s.mu.Unlock()

	select {
	case flashGate <- struct{}{}:
	default:
		return ErrFlashInProgress
	}
	defer func() { <-flashGate }()

	s.emit(Event{Kind: EventRequested, Package: s.pkg.String()})
	s.config.Logger.Info("flash session starting",
		"firmware", s.pkg.String(),
		"transport", string(s.t.Kind()),
	)

	start := time.Now()
	err := s.run(ctx)

	switch {
	case err == nil:
		s.config.Logger.Info("flash session complete", "elapsed", time.Since(start).String())
	case errors.Is(err, ErrCancelled):
		s.config.Logger.Info("flash session cancelled", "elapsed", time.Since(start).String())
	default:
		s.config.Logger.Error("flash session failed", "error", err, "elapsed", time.Since(start).String())
	}

	return err
}

func (s *Session) run(ctx context.Context) error {
	if err := s.transition(ctx, eventStart); err != nil {
		return s.fail(ctx, err)
	}
	conn, err := s.connect(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}
	s.conn = conn
	s.client = newClient(conn.Transport(), s.config)

	if s.cancelPending() {
		return s.cancelNow(ctx)
	}

	if err := s.transition(ctx, eventHandshake); err != nil {
		return s.fail(ctx, err)
	}
	info, err := s.handshake(ctx)
	if err != nil {
		return s.fail(ctx, err)
	}

	if s.cancelPending() {
		return s.cancelNow(ctx)
	}

	if err := s.transition(ctx, eventValidate); err != nil {
		return s.fail(ctx, err)
	}
	image, chunks, err := s.validate(info)
	if err != nil {
		return s.fail(ctx, err)
	}
	s.reportProgress(s.progress.enter(progressValidated))

	if s.cancelPending() {
		return s.cancelNow(ctx)
	}

	if err := s.transition(ctx, eventErase); err != nil {
		return s.fail(ctx, err)
	}
	if err := s.erase(ctx, info.FlashStart, uint32(len(image))); err != nil {
		return s.fail(ctx, err)
	}

	if s.cancelPending() {
		return s.cancelNow(ctx)
	}

	if err := s.transition(ctx, eventProgram); err != nil {
		return s.fail(ctx, err)
	}
	cancelled, err := s.program(ctx, info, chunks)
	if err != nil {
		return s.fail(ctx, err)
	}
	if cancelled {
		return s.cancelNow(ctx)
	}

	if err := s.transition(ctx, eventVerify); err != nil {
		return s.fail(ctx, err)
	}
	s.reportProgress(s.progress.enter(progressVerifying))
	if err := s.verify(ctx, info.FlashStart, image); err != nil {
		return s.fail(ctx, err)
	}

	if err := s.transition(ctx, eventReboot); err != nil {
		return s.fail(ctx, err)
	}
	s.reportProgress(s.progress.enter(progressRebooting))
	if err := s.reboot(ctx); err != nil {
		return s.fail(ctx, err)
	}

	if err := s.transition(ctx, eventComplete); err != nil {
		return s.fail(ctx, err)
	}
	s.reportProgress(s.progress.complete())
	s.emit(Event{Kind: EventCompleted})

	return nil
}

// connect opens the transport through the coordinator, retrying with
// exponential backoff. Hubs advertise their bootloader only briefly, so
// attempts are capped rather than unbounded.
func (s *Session) connect(ctx context.Context) (*hub.Connection, error) {
	var conn *hub.Connection
	attempts := 0

	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(), uint64(s.config.ConnectAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		attempts++
		c, err := s.coord.Connect(ctx, s.t)
		if err != nil {
			if errors.Is(err, hub.ErrAlreadyConnected) {
				return backoff.Permanent(err)
			}
			s.config.Logger.Warn("connect attempt failed", "attempt", attempts, "error", err)
			return err
		}
		conn = c
		return nil
	}, bo)
	if err != nil {
		return nil, &ConnectionError{Attempts: attempts, Err: err}
	}

	return conn, nil
}

// handshake identifies the hub and stores its identity on the
// connection. A hub that answers with garbage is not retried; a hub that
// answers with nothing is treated as unreachable.
func (s *Session) handshake(ctx context.Context) (*protocol.Info, error) {
	info, err := s.client.Info(ctx)
	if err != nil {
		if mapped, fatal := fatalPhaseErr(err); fatal {
			return nil, mapped
		}
		return nil, &ConnectionError{Attempts: 1, Err: err}
	}

	s.conn.ApplyInfo(*info)
	s.config.Logger.Info("hub identified",
		"hub", info.HubType.String(),
		"bootloader", info.Version.String(),
		"flash_start", fmt.Sprintf("0x%08X", info.FlashStart),
		"flash_end", fmt.Sprintf("0x%08X", info.FlashEnd),
	)

	return info, nil
}

// validate proves the firmware fits this hub before any flash command is
// sent. A failure here leaves the hub byte-for-byte untouched.
func (s *Session) validate(info *protocol.Info) ([]byte, []firmware.Chunk, error) {
	if !s.pkg.HubTypeMatches(info.HubType) {
		return nil, nil, &HubTypeMismatchError{PackageType: s.pkg.HubType(), HubType: info.HubType}
	}

	image := s.pkg.Image()
	if uint32(len(image)) > info.FlashRegionSize() {
		return nil, nil, &ImageTooLargeError{
			ImageSize: uint32(len(image)),
			Capacity:  info.FlashRegionSize(),
		}
	}

	chunkSize, err := s.chunkSize(info)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := firmware.Chunks(image, chunkSize)
	if err != nil {
		return nil, nil, err
	}

	s.progress.setTotal(len(image))
	s.config.Logger.Debug("write plan ready",
		"image_bytes", len(image),
		"chunk_bytes", chunkSize,
		"chunks", len(chunks),
		"window", s.window(info),
	)

	return image, chunks, nil
}

// chunkSize negotiates the chunk payload size: the transport MTU less
// the message header, capped by the hub's report and the configured
// limit.
func (s *Session) chunkSize(info *protocol.Info) (int, error) {
	size := s.t.MTU() - protocol.WriteChunkHeaderSize
	if max := int(info.MaxDataSize); max > 0 && max < size {
		size = max
	}
	if s.config.ChunkSize > 0 && s.config.ChunkSize < size {
		size = s.config.ChunkSize
	}
	if size <= 0 {
		return 0, &ProtocolError{Reason: fmt.Sprintf(
			"transport MTU %d cannot fit a chunk header", s.t.MTU())}
	}
	if size > protocol.MaxChunkDataSize {
		size = protocol.MaxChunkDataSize
	}

	return size, nil
}

func (s *Session) window(info *protocol.Info) int {
	if info.WindowSize > 0 {
		return int(info.WindowSize)
	}
	return protocol.DefaultWindowSize
}

// erase clears the target region. A sluggish flash controller gets one
// reissue before the session fails.
func (s *Session) erase(ctx context.Context, start, length uint32) error {
	s.config.Logger.Info("erasing flash", "start", fmt.Sprintf("0x%08X", start), "bytes", length)

	err := s.client.EraseFlash(ctx, start, length)
	if err == nil {
		return nil
	}
	if mapped, fatal := fatalPhaseErr(err); fatal {
		return mapped
	}

	s.config.Logger.Warn("erase failed, reissuing", "error", err)
	if err := s.client.EraseFlash(ctx, start, length); err != nil {
		if mapped, fatal := fatalPhaseErr(err); fatal {
			return mapped
		}
		return &EraseError{Err: err}
	}

	return nil
}

// program streams the write plan, rewinding to the failed chunk on
// retryable errors. Returns cancelled=true when an honored cancellation
// stopped the transfer.
func (s *Session) program(ctx context.Context, info *protocol.Info, chunks []firmware.Chunk) (bool, error) {
	window := s.window(info)
	attempts := make(map[uint32]int)
	pending := chunks

	for len(pending) > 0 {
		if s.cancelPending() {
			return true, nil
		}

		err := s.client.WriteWindow(ctx, info.FlashStart, pending, window, func(ch firmware.Chunk) bool {
			s.reportProgress(s.progress.ackBytes(len(ch.Payload)))
			return !s.cancelPending()
		})
		if err == nil {
			return false, nil
		}
		if errors.Is(err, errStopped) {
			return true, nil
		}

		var wErr *WriteError
		if !errors.As(err, &wErr) {
			if mapped, fatal := fatalPhaseErr(err); fatal {
				return false, mapped
			}
			return false, err
		}

		attempts[wErr.Offset]++
		if attempts[wErr.Offset] >= s.config.ChunkRetries {
			return false, &TransferError{Offset: wErr.Offset, Attempts: attempts[wErr.Offset], Err: wErr.Err}
		}

		idx := chunkIndex(pending, wErr.Offset)
		if idx < 0 {
			return false, &ProtocolError{Reason: fmt.Sprintf(
				"failed chunk 0x%08X is not in the write plan", wErr.Offset)}
		}
		pending = pending[idx:]

		s.config.Logger.Warn("rewinding transfer",
			"offset", fmt.Sprintf("0x%08X", wErr.Offset),
			"attempt", attempts[wErr.Offset],
			"error", wErr.Err,
		)
		s.client.drainInbound()
	}

	return false, nil
}

// verify compares the hub's checksum of the written region against the
// checksum of the assembled image.
func (s *Session) verify(ctx context.Context, start uint32, image []byte) error {
	sum, err := s.client.Checksum(ctx, s.pkg.ChecksumAlgorithm(), start, uint32(len(image)))
	if err != nil {
		if mapped, fatal := fatalPhaseErr(err); fatal {
			return mapped
		}
		return &ConnectionError{Attempts: 1, Err: err}
	}

	expected := s.pkg.ImageChecksum()
	if sum != expected {
		return &VerificationError{Expected: expected, Actual: sum}
	}

	s.config.Logger.Info("flash verified", "checksum", fmt.Sprintf("0x%08X", sum))
	return nil
}

// reboot starts the new firmware. The hub drops the link right after the
// command instead of acknowledging it, so nothing is awaited; only the
// write itself can fail.
func (s *Session) reboot(ctx context.Context) error {
	if err := s.client.StartApp(ctx); err != nil {
		if mapped, fatal := fatalPhaseErr(err); fatal {
			return mapped
		}
		return &ConnectionError{Attempts: 1, Err: err}
	}

	return nil
}

// Cancel asks the session to stop. Cancellation is cooperative and only
// accepted while stopping is still safe: before programming, or before
// more than half the image is written. Past that point the request is
// refused with a CancellationRefusedError, because a half-written hub is
// only recoverable by finishing the flash.
//
// A nil return means the request was accepted, not yet honored. The
// session re-checks safety when it observes the request; a request that
// became unsafe in the meantime is dropped and the session completes
// normally. An honored cancellation surfaces as ErrCancelled from Run.
func (s *Session) Cancel() error {
	state := s.State()
	written := s.progress.ackedRatio()

	if !cancellableIn(state) || written > cancelThreshold {
		return &CancellationRefusedError{State: state, Progress: written}
	}

	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()

	s.config.Logger.Info("cancellation requested", "state", string(state))
	return nil
}

// cancellableIn reports whether a cancellation request may be accepted
// in the given state.
func cancellableIn(state State) bool {
	switch state {
	case StateIdle, StateConnecting, StateHandshaking, StateValidating, StateErasing, StateProgramming:
		return true
	}
	return false
}

// cancelPending reports whether an accepted cancellation should be
// honored now. A request that stopped being safe since it was accepted
// is dropped.
func (s *Session) cancelPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cancelled {
		return false
	}
	if written := s.progress.ackedRatio(); written > cancelThreshold {
		s.cancelled = false
		s.config.Logger.Warn("cancellation no longer safe, continuing", "written", written)
		return false
	}

	return true
}

// cancelNow tears the session down after an honored cancellation: a
// best-effort protocol goodbye, then the link is closed.
func (s *Session) cancelNow(ctx context.Context) error {
	s.config.Logger.Info("cancelling flash session", "state", s.machine.Current())

	if s.client != nil {
		_ = s.client.Disconnect(ctx)
	}
	if s.conn != nil {
		_ = s.coord.Disconnect()
	}

	if err := s.machine.Event(ctx, eventCancel); err != nil {
		s.config.Logger.Debug("cancel transition", "error", err)
	}
	s.emit(Event{Kind: EventCancelled})

	return ErrCancelled
}

// fail records the terminal failure and hands it back to run.
func (s *Session) fail(ctx context.Context, err error) error {
	if terr := s.machine.Event(ctx, eventFail); terr != nil {
		s.config.Logger.Debug("fail transition", "error", terr)
	}

	kind := Classify(err)
	s.config.Logger.Error("flash phase failed", "kind", kind.String(), "error", err)
	s.emit(Event{Kind: EventFailed, Err: err, ErrKind: kind})

	return err
}

func (s *Session) transition(ctx context.Context, event string) error {
	if err := s.machine.Event(ctx, event); err != nil {
		return fmt.Errorf("transition %s from %s: %w", event, s.machine.Current(), err)
	}
	return nil
}

func (s *Session) reportProgress(ratio float64) {
	s.emit(Event{Kind: EventProgress, Progress: ratio})
}

// emit delivers an event to every handler, in registration order, on the
// session goroutine.
func (s *Session) emit(e Event) {
	for _, h := range s.config.Handlers {
		h(e)
	}
}

// fatalPhaseErr maps errors that no phase-level retry can fix. Protocol
// violations and caller cancellation pass through; a dead transport
// becomes a ConnectionError.
func fatalPhaseErr(err error) (error, bool) {
	var protoErr *ProtocolError
	switch {
	case errors.As(err, &protoErr):
		return err, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err, true
	case errors.Is(err, transport.ErrClosed), errors.Is(err, transport.ErrNotOpen):
		return &ConnectionError{Attempts: 1, Err: err}, true
	}
	return nil, false
}

// chunkIndex finds the chunk with the given image offset.
func chunkIndex(chunks []firmware.Chunk, offset uint32) int {
	for i, ch := range chunks {
		if ch.Offset == offset {
			return i
		}
	}
	return -1
}
