// Package form holds the per-user estimation form: its state machine, the
// image preview handles it owns, and the registry of live forms.
package form

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raine/local-market-estimator/internal/estimate"
)

// DefaultEstimateTimeout bounds a single estimation call.
const DefaultEstimateTimeout = 60 * time.Second

var (
	// ErrSubmitInFlight is returned by Submit while a submission is pending.
	ErrSubmitInFlight = errors.New("a submission is already in progress")
	// ErrClosed is returned once the controller has been torn down.
	ErrClosed = errors.New("form controller closed")
)

// State is the form's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSuccess
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateSubmitting:
		return "submitting"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot is a copy of the form state for rendering.
type Snapshot struct {
	State           State
	HasImage        bool
	ImageName       string
	ImageSize       int64
	PreviewID       string
	ImageError      string
	PostalCode      string
	PostalCodeValid bool
	Result          *estimate.Result
	Report          *estimate.Report
	SubmitEnabled   bool
}

type messageKind string

const (
	msgSelectImage   messageKind = "select_image"
	msgRejectImage   messageKind = "reject_image"
	msgSetPostalCode messageKind = "set_postal_code"
	msgSubmit        messageKind = "submit"
	msgComplete      messageKind = "estimate_complete"
	msgReset         messageKind = "reset"
)

// message is an event processed by the controller's worker.
type message struct {
	kind  messageKind
	image estimate.Image
	text  string
	done  *completion
	reply *reply
	Done  chan struct{} // Closed when processing is complete (for synchronous dispatch)
}

type reply struct {
	handled bool
	settled chan struct{}
	err     error
}

// completion carries an estimator outcome back into the worker.
type completion struct {
	generation uint64
	result     *estimate.Result
	err        error
}

// Options configures a Controller.
type Options struct {
	Estimator estimate.Estimator
	Validator *estimate.Validator
	Previews  *PreviewStore
	Timeout   time.Duration
}

// Controller is a single form's state machine.
//
// Threading model:
//   - Events are processed sequentially by a dedicated worker goroutine
//   - The estimator runs on its own goroutine; its outcome re-enters through
//     the inbox and is applied only if no edit happened in between
//   - The worker holds mu while applying an event so Snapshot can be called
//     from any goroutine
type Controller struct {
	id        string
	estimator estimate.Estimator
	validator *estimate.Validator
	previews  *PreviewStore
	timeout   time.Duration

	inbox     chan message
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool

	mu         sync.Mutex
	state      State
	image      *estimate.Image
	preview    *Preview
	imageError string
	postalCode string
	result     *estimate.Result
	report     *estimate.Report
	generation uint64
	settled    chan struct{}
}

// NewController creates a controller and starts its worker.
func NewController(id string, opts Options) *Controller {
	if opts.Validator == nil {
		opts.Validator = estimate.NewValidator()
	}
	if opts.Previews == nil {
		opts.Previews = NewPreviewStore()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultEstimateTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:        id,
		estimator: opts.Estimator,
		validator: opts.Validator,
		previews:  opts.Previews,
		timeout:   opts.Timeout,
		inbox:     make(chan message, 10), // Buffered to avoid blocking
		ctx:       ctx,
		cancel:    cancel,
	}
	c.wg.Add(1)
	go c.runWorker()
	return c
}

// ID returns the key the controller was created with.
func (c *Controller) ID() string {
	return c.id
}

// --- Events ---

// SelectImage replaces the selected image. An invalid image is rejected:
// the previous selection stays and the returned error is kept as ImageError.
func (c *Controller) SelectImage(img estimate.Image) error {
	return c.sendSync(message{kind: msgSelectImage, image: img}).err
}

// RejectImage records an image the caller could not read, e.g. because it
// exceeded the upload limit. reason is one of the estimate.Reason values.
func (c *Controller) RejectImage(reason string) {
	c.sendSync(message{kind: msgRejectImage, text: reason})
}

// SetPostalCode stores code and returns its validation error, if any. The
// code is stored either way; submission stays disabled until it is valid.
func (c *Controller) SetPostalCode(code string) error {
	return c.sendSync(message{kind: msgSetPostalCode, text: code}).err
}

// Submit starts an estimation. The returned channel is closed when this
// submission leaves the submitting state, whether it succeeded, failed or
// was superseded by an edit. Invalid input is returned as an
// *estimate.Error without calling the estimator.
func (c *Controller) Submit() (<-chan struct{}, error) {
	r := c.sendSync(message{kind: msgSubmit})
	if r.err != nil {
		return nil, r.err
	}
	return r.settled, nil
}

// Reset returns the form to a blank idle state.
func (c *Controller) Reset() {
	c.sendSync(message{kind: msgReset})
}

// Close stops the worker and releases the preview. Pending submissions are
// settled without a result.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		// No message can be queued after closed is set, so the worker's
		// drain sees everything that made it into the inbox.
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()

		c.cancel()
		c.wg.Wait()

		c.mu.Lock()
		defer c.mu.Unlock()
		c.releasePreview()
		c.settle()
		c.image = nil
		c.result = nil
		c.report = nil
		log.Debug().Str("form", c.id).Msg("form controller closed")
	})
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:           c.state,
		ImageError:      c.imageError,
		PostalCode:      c.postalCode,
		PostalCodeValid: c.validator.ValidatePostalCode(c.postalCode) == nil,
		Result:          c.result,
		Report:          c.report,
		SubmitEnabled:   c.submitEnabled(),
	}
	if c.image != nil {
		s.HasImage = true
		s.ImageName = c.image.Name
		s.ImageSize = c.image.Size
	}
	if c.preview != nil {
		s.PreviewID = c.preview.ID
	}
	return s
}

// --- Worker ---

func (c *Controller) runWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			// Drain any remaining messages and signal completion
			for {
				select {
				case msg := <-c.inbox:
					if msg.Done != nil {
						close(msg.Done)
					}
				default:
					return
				}
			}
		case msg := <-c.inbox:
			c.processMessage(msg)
		}
	}
}

func (c *Controller) processMessage(msg message) {
	defer func() {
		// Recover from any panics to keep the worker running
		if r := recover(); r != nil {
			log.Error().
				Str("form", c.id).
				Str("event", string(msg.kind)).
				Interface("panic", r).
				Msg("recovered from panic in form worker")
		}
		if msg.Done != nil {
			close(msg.Done)
		}
	}()

	if msg.reply != nil {
		msg.reply.handled = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.kind {
	case msgSelectImage:
		msg.reply.err = c.handleSelectImage(msg.image)
	case msgRejectImage:
		c.handleRejectImage(msg.text)
	case msgSetPostalCode:
		msg.reply.err = c.handleSetPostalCode(msg.text)
	case msgSubmit:
		msg.reply.settled, msg.reply.err = c.handleSubmit()
	case msgComplete:
		c.handleComplete(msg.done)
	case msgReset:
		c.handleReset()
	default:
		log.Warn().Str("form", c.id).Str("event", string(msg.kind)).Msg("unknown form event")
	}
}

// send queues a message for processing by the worker.
func (c *Controller) send(msg message) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		if msg.Done != nil {
			close(msg.Done)
		}
		return
	}
	select {
	case c.inbox <- msg:
	case <-c.ctx.Done():
		if msg.Done != nil {
			close(msg.Done)
		}
	}
}

// sendSync queues a message and waits for it to be processed.
func (c *Controller) sendSync(msg message) *reply {
	msg.reply = &reply{}
	msg.Done = make(chan struct{})
	c.send(msg)
	<-msg.Done
	if !msg.reply.handled {
		msg.reply.err = ErrClosed
	}
	return msg.reply
}

// --- Handlers, called from the worker with mu held ---

func (c *Controller) handleSelectImage(img estimate.Image) error {
	if err := c.validator.ValidateImage(img); err != nil {
		c.imageError = estimate.ReportFor(err).Message
		log.Debug().Str("form", c.id).Err(err).Msg("image rejected")
		return err
	}

	// The preview is served with its MIME type, so a relabelled file needs a new handle
	if c.preview == nil || c.preview.Digest != Digest(img.Data) || c.preview.MIMEType != img.MIMEType {
		c.releasePreview()
		c.preview = c.previews.Acquire(img)
	}
	c.image = &img
	c.imageError = ""
	c.edited()
	return nil
}

func (c *Controller) handleRejectImage(reason string) {
	c.imageError = reasonMessage(reason)
	log.Debug().Str("form", c.id).Str("reason", reason).Msg("image rejected")
}

func (c *Controller) handleSetPostalCode(code string) error {
	c.postalCode = code
	c.edited()
	return c.validator.ValidatePostalCode(code)
}

func (c *Controller) handleSubmit() (chan struct{}, error) {
	if c.state == StateSubmitting {
		return nil, ErrSubmitInFlight
	}

	c.transition(StateValidating)
	sub, err := c.submission()
	if err != nil {
		c.transition(StateIdle)
		c.result = nil
		c.report = estimate.ReportFor(err)
		return nil, err
	}

	c.result = nil
	c.report = nil
	c.generation++
	c.settled = make(chan struct{})
	c.transition(StateSubmitting)

	gen := c.generation
	c.wg.Add(1)
	go c.runEstimate(gen, sub)
	return c.settled, nil
}

func (c *Controller) handleComplete(done *completion) {
	if done.generation != c.generation || c.state != StateSubmitting {
		log.Debug().
			Str("form", c.id).
			Uint64("generation", done.generation).
			Uint64("current", c.generation).
			Msg("discarding stale estimate")
		return
	}

	c.result = nil
	if done.err != nil {
		c.report = estimate.ReportFor(estimate.Classify(done.err))
		c.transition(StateFailure)
	} else {
		c.result = done.result
		c.transition(StateSuccess)
	}
	c.settle()
}

func (c *Controller) handleReset() {
	c.releasePreview()
	c.image = nil
	c.imageError = ""
	c.postalCode = ""
	c.edited()
}

// edited applies the effects shared by every user edit: prior outcome
// cleared, back to idle, any in-flight submission superseded.
func (c *Controller) edited() {
	c.result = nil
	c.report = nil
	if c.state == StateSubmitting {
		c.generation++
		c.settle()
	}
	c.transition(StateIdle)
}

func (c *Controller) transition(to State) {
	if c.state == to {
		return
	}
	log.Debug().Str("form", c.id).Stringer("from", c.state).Stringer("to", to).Msg("form state")
	c.state = to
}

func (c *Controller) settle() {
	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
}

func (c *Controller) releasePreview() {
	if c.preview != nil {
		c.previews.Release(c.preview.ID)
		c.preview = nil
	}
}

func (c *Controller) submission() (estimate.Submission, error) {
	if c.image == nil {
		return estimate.Submission{}, &estimate.Error{
			Kind:    estimate.KindInvalidInput,
			Reason:  estimate.ReasonEmptyFile,
			Message: estimate.MsgMissingInput,
		}
	}
	sub := estimate.Submission{Image: *c.image, PostalCode: c.postalCode}
	if err := c.validator.Validate(sub); err != nil {
		return estimate.Submission{}, err
	}
	return sub, nil
}

func (c *Controller) submitEnabled() bool {
	if c.state == StateSubmitting || c.image == nil {
		return false
	}
	return c.validator.Validate(estimate.Submission{Image: *c.image, PostalCode: c.postalCode}) == nil
}

// runEstimate calls the estimator off the worker. It uses the controller's
// context so that the request that triggered the submission can go away
// without aborting the call.
func (c *Controller) runEstimate(gen uint64, sub estimate.Submission) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.callEstimator(ctx, sub)
	log.Info().
		Str("form", c.id).
		Uint64("generation", gen).
		Dur("elapsed", time.Since(start)).
		Bool("ok", err == nil).
		Msg("estimate finished")

	c.send(message{kind: msgComplete, done: &completion{generation: gen, result: result, err: err}})
}

func (c *Controller) callEstimator(ctx context.Context, sub estimate.Submission) (result *estimate.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("estimator panic: %v", r)
		}
	}()
	if c.estimator == nil {
		return nil, errors.New("no estimator configured")
	}
	return c.estimator.Estimate(ctx, sub)
}

func reasonMessage(reason string) string {
	switch reason {
	case estimate.ReasonTooLarge:
		return estimate.MsgTooLarge
	case estimate.ReasonEmptyFile:
		return estimate.MsgEmptyFile
	case estimate.ReasonInvalidPostalCode:
		return estimate.MsgInvalidPostalCode
	default:
		return estimate.MsgUnsupportedType
	}
}
