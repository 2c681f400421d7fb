// Package callsession owns the agent's single call/qualification focus and
// the side queue of calls that arrive while a form is open.
package callsession

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jbctechsolutions/leadline/internal/application/duplicate"
	"github.com/jbctechsolutions/leadline/internal/domain/call"
	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/domain/session"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/logging"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/metrics"
)

// Action completes a session.
type Action string

const (
	ActionSave     Action = "save"
	ActionCallback Action = "callback"
	ActionSpam     Action = "spam"
	ActionCold     Action = "cold"
)

// ParseAction maps a user-supplied name to an Action. "skip" is an alias for cold.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionSave, ActionCallback, ActionSpam, ActionCold:
		return a, nil
	case "skip":
		return ActionCold, nil
	}
	return "", domainerrors.WithContext(
		domainerrors.Validation("submit", domainerrors.ErrUnknownAction), "action", s)
}

// Resolution tells a save what to do about a duplicate candidate.
type Resolution string

const (
	ResolutionNone           Resolution = ""
	ResolutionUpdateExisting Resolution = "update-existing"
	ResolutionCreateNew      Resolution = "create-new"
)

// SubmitOptions qualifies a Submit.
type SubmitOptions struct {
	Resolution Resolution
}

// Lead stages written on completion.
const (
	StageQualified   = "qualified"
	StageLeadCreated = "lead_created"
	StatusPending    = "pending"
)

// Writer persists completion records.
type Writer interface {
	CreateOrQueue(ctx context.Context, table string, r record.Record) (record.Record, error)
	UpdateOrQueue(ctx context.Context, table, id string, partial record.Record) (record.Record, error)
}

// Duplicates is the duplicate detector as seen by the coordinator.
type Duplicates interface {
	CheckPhone(input string)
	Clear()
	Candidate() *duplicate.Candidate
	OnChange(fn func(*duplicate.Candidate)) func()
}

// Snapshot is a point-in-time copy of the coordinator's state.
type Snapshot struct {
	State     session.State
	Queue     []call.QueuedCall
	Candidate *duplicate.Candidate
}

// Coordinator serializes telephony events and agent actions against the
// session state.
type Coordinator struct {
	writer      Writer
	dup         Duplicates
	logger      *logging.Logger
	metrics     *metrics.Metrics
	agentID     string
	autoQualify bool
	now         func() time.Time

	mu         sync.Mutex
	state      session.State
	queue      call.Queue
	submitting bool
	subs       map[int]chan Snapshot
	nextSub    int

	dupUnsubscribe func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithAgentID sets the default assignee of new forms.
func WithAgentID(id string) Option {
	return func(c *Coordinator) { c.agentID = id }
}

// WithAutoQualify opens the form as soon as the tracked call ends.
func WithAutoQualify(on bool) Option {
	return func(c *Coordinator) { c.autoQualify = on }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator starts in Waiting with an empty queue.
func NewCoordinator(writer Writer, dup Duplicates, opts ...Option) *Coordinator {
	c := &Coordinator{
		writer: writer,
		dup:    dup,
		logger: logging.Nop(),
		now:    time.Now,
		state:  session.Waiting{},
		subs:   make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dupUnsubscribe = dup.OnChange(func(*duplicate.Candidate) { c.publish() })
	return c
}

// Close detaches from the duplicate detector and closes every subscription.
func (c *Coordinator) Close() {
	c.dupUnsubscribe()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

// Run feeds events into HandleEvent until ctx is done or events is closed.
func (c *Coordinator) Run(ctx context.Context, events <-chan call.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one telephony event.
func (c *Coordinator) HandleEvent(ctx context.Context, ev call.Event) {
	if !ev.Kind.Valid() {
		c.logger.DebugContext(ctx, "ignoring unknown call event", "kind", string(ev.Kind))
		return
	}
	c.metrics.CallEvent(string(ev.Kind))

	c.mu.Lock()
	next := session.Dispatch(c.state, &c.queue, ev)
	var opened string
	if t, ok := next.(session.Tracking); ok && c.autoQualify && t.Call == session.CallEnded {
		next = c.qualifying(t.Phone, t.Call)
		opened = t.Phone
	}
	c.state = next
	c.mu.Unlock()

	logging.LogCallEvent(logging.WithSessionPhone(ctx, session.Phone(next)), c.logger,
		string(ev.Kind), ev.Phone(), session.Name(next))
	if opened != "" {
		c.dup.CheckPhone(opened)
	}
	c.publish()
}

// OpenForm shows the qualification form for the tracked call.
func (c *Coordinator) OpenForm() error {
	c.mu.Lock()
	var phone string
	switch st := c.state.(type) {
	case session.Qualifying:
		c.mu.Unlock()
		return nil
	case session.Tracking:
		c.state = c.qualifying(st.Phone, st.Call)
		phone = st.Phone
	default:
		c.mu.Unlock()
		return domainerrors.NewError(domainerrors.CodeState, "open form", domainerrors.ErrNoActiveSession)
	}
	c.mu.Unlock()

	c.dup.CheckPhone(phone)
	c.publish()
	return nil
}

// StartManual opens a form for a number the agent typed in. The session
// starts at ended since no live call is attached.
func (c *Coordinator) StartManual(phone string) error {
	phone = record.NormalizePhone(phone)

	c.mu.Lock()
	if session.IsActive(c.state) {
		c.mu.Unlock()
		return domainerrors.NewError(domainerrors.CodeState, "start session", domainerrors.ErrSessionBusy)
	}
	c.state = c.qualifying(phone, session.CallEnded)
	c.mu.Unlock()

	c.dup.CheckPhone(phone)
	c.publish()
	return nil
}

// SetField edits one form field. Editing the phone re-runs duplicate detection.
func (c *Coordinator) SetField(field, value string) error {
	c.mu.Lock()
	q, ok := c.state.(session.Qualifying)
	if !ok {
		c.mu.Unlock()
		return domainerrors.NewError(domainerrors.CodeState, "edit form", domainerrors.ErrNoActiveSession)
	}
	if err := q.Form.Set(field, value); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = q
	c.mu.Unlock()

	if field == record.FieldPhone {
		c.dup.CheckPhone(value)
	}
	c.publish()
	return nil
}

// PickQueued turns a queued call into the focused session. The agent must
// be waiting. A withheld call opens a form with an empty phone.
func (c *Coordinator) PickQueued(phone string) error {
	phone = queueKey(phone)

	c.mu.Lock()
	if session.IsActive(c.state) {
		c.mu.Unlock()
		return domainerrors.NewError(domainerrors.CodeState, "pick queued call", domainerrors.ErrSessionBusy)
	}
	if _, ok := c.queue.Remove(phone); !ok {
		c.mu.Unlock()
		return domainerrors.WithContext(
			domainerrors.NewError(domainerrors.CodeNotFound, "pick queued call", domainerrors.ErrQueuedCallNotFound),
			"phone", phone)
	}
	if phone == call.WithheldNumber {
		phone = ""
	}
	c.state = c.qualifying(phone, session.CallEnded)
	c.mu.Unlock()

	c.dup.CheckPhone(phone)
	c.publish()
	return nil
}

// DismissQueued drops a queued call.
func (c *Coordinator) DismissQueued(phone string) error {
	phone = queueKey(phone)

	c.mu.Lock()
	_, ok := c.queue.Remove(phone)
	c.mu.Unlock()
	if !ok {
		return domainerrors.WithContext(
			domainerrors.NewError(domainerrors.CodeNotFound, "dismiss queued call", domainerrors.ErrQueuedCallNotFound),
			"phone", phone)
	}
	c.publish()
	return nil
}

// CallBackQueued removes a queued call and schedules a callback for it.
// Withheld calls have no number to call back and stay queued.
func (c *Coordinator) CallBackQueued(ctx context.Context, phone string) (record.Record, error) {
	phone = queueKey(phone)
	if phone == call.WithheldNumber {
		return nil, domainerrors.WithContext(
			domainerrors.Validation("call back queued call", domainerrors.ErrPhoneIncomplete),
			"phone", phone)
	}

	c.mu.Lock()
	qc, ok := c.queue.Remove(phone)
	c.mu.Unlock()
	if !ok {
		return nil, domainerrors.WithContext(
			domainerrors.NewError(domainerrors.CodeNotFound, "call back queued call", domainerrors.ErrQueuedCallNotFound),
			"phone", phone)
	}

	rec, err := c.writer.CreateOrQueue(ctx, record.Callbacks, record.Record{
		record.FieldPhone:  phone,
		"source":           "queued_call",
		"missed_at":        record.Timestamp(qc.ObservedAt),
		record.FieldStatus: StatusPending,
	})
	if err != nil {
		c.mu.Lock()
		c.queue.Add(qc.Phone, qc.ObservedAt)
		c.mu.Unlock()
		return nil, err
	}
	c.publish()
	return rec, nil
}

// Reset abandons the current session without writing anything.
func (c *Coordinator) Reset(ctx context.Context) {
	c.mu.Lock()
	phone := session.Phone(c.state)
	c.state = session.Waiting{}
	c.mu.Unlock()

	c.dup.Clear()
	logging.LogSessionReset(ctx, c.logger, "reset", phone)
	c.publish()
}

// Submit completes the session with action and resets to Waiting. Cold
// writes nothing. A save is rejected while a duplicate candidate for the
// form's phone exists and opts carries no resolution.
func (c *Coordinator) Submit(ctx context.Context, action Action, opts SubmitOptions) (record.Record, error) {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return nil, domainerrors.NewError(domainerrors.CodeState, "submit", domainerrors.ErrSessionBusy)
	}
	if !session.IsActive(c.state) {
		c.mu.Unlock()
		return nil, domainerrors.NewError(domainerrors.CodeState, "submit", domainerrors.ErrNoActiveSession)
	}
	cur := c.state
	c.submitting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	phone := session.Phone(cur)
	form := session.Form{Phone: phone}
	if q, ok := cur.(session.Qualifying); ok {
		form = q.Form
	}
	ctx = logging.WithSessionPhone(ctx, phone)

	var (
		out record.Record
		err error
	)
	switch action {
	case ActionSave:
		out, err = c.save(ctx, form, opts)
	case ActionCallback:
		out, err = c.writer.CreateOrQueue(ctx, record.Callbacks, record.Record{
			record.FieldPhone:  form.Phone,
			"source":           form.Source,
			"interest":         form.Interest,
			"missed_at":        record.Timestamp(c.now()),
			record.FieldStatus: StatusPending,
		})
	case ActionSpam:
		out, err = c.writer.CreateOrQueue(ctx, record.Leads, record.Record{
			record.FieldPhone:  form.Phone,
			record.FieldIsSpam: true,
			record.FieldStage:  StageLeadCreated,
			"source":           form.Source,
		})
	case ActionCold:
	default:
		err = domainerrors.WithContext(
			domainerrors.Validation("submit", domainerrors.ErrUnknownAction), "action", string(action))
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if session.Phone(c.state) == phone {
		c.state = session.Waiting{}
	}
	c.mu.Unlock()

	c.dup.Clear()
	c.metrics.SessionCompleted(string(action))
	logging.LogSessionReset(ctx, c.logger, string(action), phone)
	c.publish()
	return out, nil
}

func (c *Coordinator) save(ctx context.Context, form session.Form, opts SubmitOptions) (record.Record, error) {
	if err := form.Validate(); err != nil {
		return nil, err
	}

	fields := form.LeadFields()
	fields[record.FieldStage] = StageQualified

	cand := c.dup.Candidate()
	if cand == nil || cand.Phone != record.Digits(form.Phone) {
		fields[record.FieldIsSpam] = false
		return c.writer.CreateOrQueue(ctx, record.Leads, fields)
	}

	switch opts.Resolution {
	case ResolutionUpdateExisting:
		return c.writer.UpdateOrQueue(ctx, record.Leads, cand.Lead.ID(), fields)
	case ResolutionCreateNew:
		fields[record.FieldIsSpam] = false
		return c.writer.CreateOrQueue(ctx, record.Leads, fields)
	default:
		return nil, domainerrors.WithContext(
			domainerrors.Validation("save lead", domainerrors.ErrDuplicateUnresolved),
			"candidate_id", cand.Lead.ID())
	}
}

// Snapshot returns the current state, queue and duplicate candidate.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{State: c.state, Queue: c.queue.Snapshot()}
	c.mu.Unlock()
	s.Candidate = c.dup.Candidate()
	return s
}

// Subscribe returns a channel that receives the latest Snapshot after every
// change. Slow readers only see the most recent one. The returned func
// unsubscribes and closes the channel.
func (c *Coordinator) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 1)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

func (c *Coordinator) publish() {
	snap := c.Snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// queueKey maps user input to the key a queued call is stored under.
func queueKey(phone string) string {
	if strings.EqualFold(strings.TrimSpace(phone), call.WithheldNumber) {
		return call.WithheldNumber
	}
	return record.NormalizePhone(phone)
}

func (c *Coordinator) qualifying(phone string, cs session.CallState) session.Qualifying {
	return session.Qualifying{
		Phone: phone,
		Call:  cs,
		Form:  session.Form{Phone: phone, AssignedTo: c.agentID},
	}
}
