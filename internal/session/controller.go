// Package session runs the live conversation of one signed-in client.
//
// A Controller owns the displayed message list and profile cache. Every
// mutation happens on the goroutine running Run; store calls run elsewhere and
// post their results back, so a slow network call never blocks inbound
// realtime events or further user input.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/vedran77/vetchat/internal/domain"
	"github.com/vedran77/vetchat/internal/metrics"
	"github.com/vedran77/vetchat/internal/realtime"
	"github.com/vedran77/vetchat/internal/service"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotReady     = errors.New("conversation is not ready")
	ErrNotSignedIn  = errors.New("no subject signed in")
	ErrStopped      = errors.New("session stopped")
	ErrEmptyContent = service.ErrEmptyContent
)

const inboxSize = 64

type IdentityResolver interface {
	Resolve(ctx context.Context, subject domain.Subject) domain.SelfIdentity
}

// Conversations is the store adapter used by the controller.
type Conversations interface {
	Fetch(ctx context.Context, self domain.SelfIdentity) ([]domain.Message, error)
	Profiles(ctx context.Context, ids []string) map[string]domain.Profile
	ResolveTarget(ctx context.Context, self domain.SelfIdentity, history []domain.Message, clinicID string) (string, error)
	Send(ctx context.Context, self domain.SelfIdentity, receiverID, content string) (*domain.Message, error)
}

type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	// OnUpdate is called on the loop goroutine. It must not block or call
	// back into the controller synchronously.
	OnUpdate func(Update)
}

type Controller struct {
	identity IdentityResolver
	convo    Conversations
	feed     realtime.Feed
	logger   *slog.Logger
	now      func() time.Time
	onUpdate func(Update)

	profileGroup singleflight.Group

	inbox chan func()
	done  chan struct{}

	// Owned by the loop.
	ctx        context.Context
	state      State
	subject    *domain.Subject
	self       domain.SelfIdentity
	messages   []domain.Message
	seen       map[string]struct{}
	profiles   *ProfileCache
	sub        *realtime.Subscription
	buffered   []realtime.Insert
	generation uint64
	fetchSeq   uint64
	lastLocal  int64
}

func New(identity IdentityResolver, convo Conversations, feed realtime.Feed, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		identity: identity,
		convo:    convo,
		feed:     feed,
		logger:   logger,
		now:      now,
		onUpdate: opts.OnUpdate,
		inbox:    make(chan func(), inboxSize),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		seen:     make(map[string]struct{}),
	}
}

// Run processes commands and feed events until ctx is cancelled, then tears
// the session down. Every other method requires Run to be running.
func (c *Controller) Run(ctx context.Context) {
	c.ctx = ctx
	defer func() {
		c.endSession()
		close(c.done)
	}()

	for {
		var events <-chan realtime.Insert
		if c.sub != nil {
			events = c.sub.Events()
		}

		select {
		case fn := <-c.inbox:
			fn()
		case ins, ok := <-events:
			if !ok {
				c.subscriptionLost()
				continue
			}
			c.handleInsert(ins)
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// SignIn starts a session for subject, replacing any current one.
func (c *Controller) SignIn(ctx context.Context, subject domain.Subject) error {
	if subject.ID == "" {
		return service.ErrNoIdentity
	}
	return c.call(ctx, func() { c.startSession(subject) })
}

// SignOut releases the feed subscription and discards all session state.
func (c *Controller) SignOut(ctx context.Context) error {
	return c.call(ctx, c.endSession)
}

// Reload fetches the conversation again and resubscribes to the feed.
func (c *Controller) Reload(ctx context.Context) error {
	var err error
	callErr := c.call(ctx, func() {
		if c.subject == nil || c.self.IsZero() {
			err = ErrNotSignedIn
			return
		}
		c.load(true)
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// LinkIdentity adds a linked participant id discovered after sign-in. A
// changed identity reloads an errored session and refreshes a ready one.
func (c *Controller) LinkIdentity(ctx context.Context, id string) error {
	return c.call(ctx, func() {
		if c.subject == nil || c.self.IsZero() {
			return
		}
		next := c.self.WithLinked(id)
		if next == c.self {
			return
		}
		c.self = next
		c.logger.Info("session: identity linked", "subject", c.subject.ID, "linked", id)

		switch c.state {
		case StateReady:
			c.load(false)
		case StateErrored, StateLoading:
			c.load(true)
		}
	})
}

// Send validates text, resolves the receiver, shows a provisional copy and
// persists the message. Validation and routing failures leave the list
// untouched; a persistence failure marks the provisional copy as failed.
func (c *Controller) Send(ctx context.Context, text, clinicID string) (*domain.Message, error) {
	content := strings.TrimSpace(text)

	var (
		self    domain.SelfIdentity
		history []domain.Message
		gen     uint64
		err     error
	)
	if callErr := c.call(ctx, func() {
		if content == "" {
			err = ErrEmptyContent
			c.notice(NoticeValidation, "Message cannot be empty")
			return
		}
		if c.state != StateReady || c.self.IsZero() {
			err = ErrNotReady
			c.notice(NoticeNotReady, "Conversation is not loaded yet")
			return
		}
		self = c.self
		history = slices.Clone(c.messages)
		gen = c.generation
	}); callErr != nil {
		return nil, callErr
	}
	if err != nil {
		return nil, err
	}

	target, err := c.convo.ResolveTarget(ctx, self, history, clinicID)
	if err != nil {
		metrics.MessagesSent.WithLabelValues("no_recipient").Inc()
		c.post(func() {
			if errors.Is(err, service.ErrNoRecipient) {
				c.notice(NoticeNoRecipient, "No one at the clinic is available to receive messages")
				return
			}
			c.notice(NoticeSendFailed, "Message could not be sent")
		})
		return nil, err
	}

	var provisional domain.Message
	if callErr := c.call(ctx, func() {
		if gen != c.generation {
			err = ErrNotReady
			return
		}
		provisional = c.appendProvisional(self.Primary(), target, content)
	}); callErr != nil {
		return nil, callErr
	}
	if err != nil {
		return nil, err
	}

	msg, err := c.convo.Send(ctx, self, target, content)
	if err != nil {
		c.logger.Warn("session: send failed", "sender", self.Primary(), "receiver", target, "error", err)
		c.post(func() {
			if gen != c.generation {
				return
			}
			c.markFailed(provisional.ID)
			c.notice(NoticeSendFailed, "Message could not be delivered")
		})
		return nil, err
	}
	return msg, nil
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.call(ctx, func() { snap = c.snapshot() })
	return snap, err
}

// State returns the current state.
func (c *Controller) State(ctx context.Context) (State, error) {
	var s State
	err := c.call(ctx, func() { s = c.state })
	return s, err
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		defer close(ran)
		fn()
	}
	select {
	case c.inbox <- wrapped:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) startSession(subject domain.Subject) {
	if c.subject != nil {
		c.endSession()
	}

	c.generation++
	gen := c.generation
	c.subject = &subject
	c.profiles = NewProfileCache()
	metrics.SessionsActive.Inc()
	c.setState(StateLoading)

	go func() {
		self := c.identity.Resolve(c.ctx, subject)
		c.post(func() {
			if gen != c.generation {
				return
			}
			c.self = self
			c.load(true)
		})
	}()
}

func (c *Controller) endSession() {
	if c.subject == nil {
		return
	}
	c.unsubscribe()
	c.generation++
	c.subject = nil
	c.self = domain.SelfIdentity{}
	c.messages = nil
	c.seen = make(map[string]struct{})
	c.profiles = nil
	c.buffered = nil
	metrics.SessionsActive.Dec()
	c.setState(StateIdle)
}

// load fetches the conversation. A full load enters Loading, subscribes before
// fetching and buffers inserts until the fetch lands; a partial load refreshes
// the list while staying Ready.
func (c *Controller) load(full bool) {
	c.fetchSeq++
	seq, gen, self, profiles := c.fetchSeq, c.generation, c.self, c.profiles

	if full {
		c.unsubscribe()
		c.buffered = nil
		c.setState(StateLoading)
		c.subscribe()
	}

	go func() {
		msgs, err := c.convo.Fetch(c.ctx, self)
		var profs map[string]domain.Profile
		if err == nil {
			profs = c.convo.Profiles(c.ctx, profileIDs(self, msgs, profiles.Has))
		}
		c.post(func() {
			if gen != c.generation || seq != c.fetchSeq {
				return
			}
			c.finishLoad(full, self, msgs, profs, err)
		})
	}()
}

func (c *Controller) finishLoad(full bool, self domain.SelfIdentity, msgs []domain.Message, profs map[string]domain.Profile, err error) {
	if err != nil {
		if !full {
			c.logger.Warn("session: refetch failed", "subject", self.Primary(), "error", err)
			return
		}
		c.logger.Error("session: fetch failed", "subject", self.Primary(), "error", err)
		c.unsubscribe()
		c.buffered = nil
		c.messages = nil
		c.seen = make(map[string]struct{})
		c.setState(StateErrored)
		c.notice(NoticeFetchFailed, "Could not load your messages")
		return
	}

	c.profiles.PutAll(profs)
	c.replaceMessages(msgs)

	if full {
		c.setState(StateReady)
	}
	snap := c.snapshot()
	c.emit(Update{Kind: UpdateSnapshot, State: c.state, Snapshot: &snap})

	buffered := c.buffered
	c.buffered = nil
	for _, ins := range buffered {
		c.handleInsert(ins)
	}
}

// replaceMessages installs a fetched list. Entries the fetch did not return
// are kept at the tail: canonical rows that arrived while it ran, and
// provisional copies no newly seen row confirms. Failed copies never match.
func (c *Controller) replaceMessages(fetched []domain.Message) {
	ids := make(map[string]struct{}, len(fetched))
	var fresh []domain.Message
	for _, m := range fetched {
		ids[m.ID] = struct{}{}
		if _, ok := c.seen[m.ID]; !ok {
			fresh = append(fresh, m)
		}
	}

	var tail []domain.Message
	for _, m := range c.messages {
		if _, ok := ids[m.ID]; ok {
			continue
		}
		if m.IsProvisional() && !m.Failed {
			idx := slices.IndexFunc(fresh, func(f domain.Message) bool { return f.Matches(&m) })
			if idx >= 0 {
				fresh = slices.Delete(fresh, idx, idx+1)
				continue
			}
		}
		tail = append(tail, m)
	}

	for _, m := range tail {
		if !m.IsProvisional() {
			ids[m.ID] = struct{}{}
		}
	}
	c.seen = ids
	c.messages = append(slices.Clone(fetched), tail...)
}

func (c *Controller) subscribe() {
	sub, err := c.feed.Subscribe(c.ctx, realtime.TableMessages)
	if err != nil {
		c.logger.Warn("session: feed subscribe failed, live updates disabled", "error", err)
		c.sub = nil
		return
	}
	c.sub = sub
}

func (c *Controller) unsubscribe() {
	if c.sub == nil {
		return
	}
	c.feed.Unsubscribe(c.sub)
	c.sub = nil
}

// subscriptionLost makes one attempt to resubscribe. Inserts published while
// the subscription was down are not replayed.
func (c *Controller) subscriptionLost() {
	c.sub = nil
	if c.state != StateReady && c.state != StateLoading {
		return
	}
	c.logger.Warn("session: feed subscription lost, resubscribing")
	c.subscribe()
}

func (c *Controller) handleInsert(ins realtime.Insert) {
	if ins.Table != realtime.TableMessages {
		return
	}
	if c.state == StateLoading {
		c.buffered = append(c.buffered, ins)
		return
	}
	if c.state != StateReady {
		return
	}

	var m domain.Message
	if err := json.Unmarshal(ins.Row, &m); err != nil || m.ID == "" {
		metrics.FeedEvents.WithLabelValues(metrics.FeedMalformed).Inc()
		c.logger.Warn("session: malformed feed row", "error", err)
		return
	}
	m.Provisional = false
	m.Failed = false

	if !c.self.IsRelevant(&m) {
		metrics.FeedEvents.WithLabelValues(metrics.FeedIrrelevant).Inc()
		return
	}
	if _, dup := c.seen[m.ID]; dup {
		metrics.FeedEvents.WithLabelValues(metrics.FeedDuplicate).Inc()
		return
	}

	if c.self.Contains(m.SenderID) {
		metrics.FeedEvents.WithLabelValues(metrics.FeedEcho).Inc()
		if !c.profiles.Has(m.SenderID) {
			c.load(false)
			return
		}
		c.seen[m.ID] = struct{}{}
		if i := c.findProvisional(&m); i >= 0 {
			replaced := c.messages[i].ID
			c.messages[i] = m
			c.emit(Update{Kind: UpdateMessageReplaced, State: c.state, Message: &m, ReplacedID: replaced})
			return
		}
		c.appendMessage(m)
		return
	}

	metrics.FeedEvents.WithLabelValues(metrics.FeedRelevant).Inc()
	c.seen[m.ID] = struct{}{}
	c.appendMessage(m)
	if !c.profiles.Has(m.SenderID) {
		c.fetchProfile(m.SenderID)
	}
}

// findProvisional returns the oldest pending copy the echo m confirms, or -1.
// Failed copies are skipped so a retry of the same text reconciles its own
// entry.
func (c *Controller) findProvisional(m *domain.Message) int {
	return slices.IndexFunc(c.messages, func(p domain.Message) bool {
		return p.IsProvisional() && !p.Failed && m.Matches(&p)
	})
}

func (c *Controller) appendMessage(m domain.Message) {
	c.messages = append(c.messages, m)
	c.emit(Update{Kind: UpdateMessageNew, State: c.state, Message: &m})
}

func (c *Controller) appendProvisional(sender, receiver, content string) domain.Message {
	now := c.now()
	stamp := now.UnixNano()
	if stamp <= c.lastLocal {
		stamp = c.lastLocal + 1
	}
	c.lastLocal = stamp

	m := domain.Message{
		ID:          fmt.Sprintf("%s%d", domain.ProvisionalPrefix, stamp),
		SenderID:    sender,
		ReceiverID:  receiver,
		Content:     content,
		CreatedAt:   now,
		Provisional: true,
	}
	c.appendMessage(m)
	return m
}

// markFailed flags a provisional entry whose persistence failed. The entry
// stays visible.
func (c *Controller) markFailed(id string) {
	i := slices.IndexFunc(c.messages, func(m domain.Message) bool { return m.ID == id })
	if i < 0 {
		return
	}
	c.messages[i].Failed = true
	m := c.messages[i]
	c.emit(Update{Kind: UpdateMessageReplaced, State: c.state, Message: &m, ReplacedID: id})
}

func (c *Controller) fetchProfile(id string) {
	gen := c.generation
	go func() {
		v, _, _ := c.profileGroup.Do(id, func() (any, error) {
			p, ok := c.convo.Profiles(c.ctx, []string{id})[id]
			if !ok {
				p = domain.FallbackProfile(id)
			}
			return p, nil
		})
		p := v.(domain.Profile)
		c.post(func() {
			if gen != c.generation || c.profiles == nil {
				return
			}
			c.profiles.Put(p)
			c.emit(Update{Kind: UpdateProfile, State: c.state, Profile: &p})
		})
	}()
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.emit(Update{Kind: UpdateState, State: s})
}

func (c *Controller) notice(code, message string) {
	c.emit(Update{Kind: UpdateNotice, State: c.state, Notice: &Notice{Code: code, Message: message}})
}

func (c *Controller) emit(u Update) {
	if c.onUpdate != nil {
		c.onUpdate(u)
	}
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		State:    c.state,
		Self:     c.self.IDs(),
		Messages: slices.Clone(c.messages),
		Profiles: c.profiles.All(),
	}
}

// profileIDs lists the profiles a fetch should load: the primary self id, self
// ids that sent messages, and unknown senders.
func profileIDs(self domain.SelfIdentity, msgs []domain.Message, known func(string) bool) []string {
	var ids []string
	add := func(id string) {
		if id == "" || known(id) || slices.Contains(ids, id) {
			return
		}
		ids = append(ids, id)
	}

	add(self.Primary())
	for _, m := range msgs {
		if self.Contains(m.SenderID) {
			add(m.SenderID)
		}
	}
	for _, id := range service.UnknownSenders(self, msgs, known) {
		add(id)
	}
	return ids
}
