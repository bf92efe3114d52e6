// Package authstate aggregates a visitor's session and role into one observable state.
//
// All transitions go through one mutex and replace State as a whole value. Every change of
// the signed-in user bumps a generation counter; asynchronous results (role lookups,
// session fetches) carry the generation they started under and are dropped when it is no
// longer current, so the final state always reflects the most recent transition.
package authstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hongminglow/savedu/internal/metrics"
	"github.com/hongminglow/savedu/internal/models"
	"github.com/hongminglow/savedu/internal/provider"
)

// State is an immutable snapshot of the visitor's authentication.
type State struct {
	// Loading is true until the session, and the role of a present user, are known.
	Loading bool
	User    *models.User
	Role    models.Role
	// Error describes the last failed session fetch. User and Role are kept when it is set.
	Error   string
	Version uint64
}

// Authenticated reports whether a user is present.
func (s State) Authenticated() bool {
	return s.User != nil
}

// UserID returns the id of the user or "".
func (s State) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// Sessions is the session store the context reads from.
type Sessions interface {
	GetSession(ctx context.Context) (*models.Session, error)
	Subscribe(fn func(event provider.Event, session *models.Session)) func()
	SignOut(ctx context.Context) error
}

// RoleResolver performs one bounded role lookup.
type RoleResolver interface {
	Resolve(ctx context.Context, userID string, timeout time.Duration) models.Role
}

type Options struct {
	RoleTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Context is one visitor's auth state machine.
type Context struct {
	sessions Sessions
	roles    RoleResolver
	opts     Options
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	cancelRole  context.CancelFunc
	changed     chan struct{}
	watchers    map[int]chan State
	nextWatcher int
	started     bool
	closed      bool
	unsubscribe func()

	base       context.Context
	cancelBase context.CancelFunc
	work       sync.WaitGroup
}

// New creates a context in the initializing state. Call Start to begin resolution.
func New(sessions Sessions, roles RoleResolver, opts Options) *Context {
	if opts.RoleTimeout <= 0 {
		opts.RoleTimeout = 4 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Context{
		sessions:   sessions,
		roles:      roles,
		opts:       opts,
		logger:     logger,
		state:      State{Loading: true},
		changed:    make(chan struct{}),
		watchers:   make(map[int]chan State),
		base:       base,
		cancelBase: cancel,
	}
}

// Start subscribes to session changes and runs the initial fetch in the background.
// Subsequent calls do nothing.
func (c *Context) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.unsubscribe = c.sessions.Subscribe(c.onChange)
	c.work.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.work.Done()
		c.Refresh(c.base)
	}()
}

// State returns the current snapshot.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Settled waits until the state is no longer loading or ctx ends, and returns the latest
// snapshot either way.
func (c *Context) Settled(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		state, changed, closed := c.state, c.changed, c.closed
		c.mu.Unlock()
		if !state.Loading || closed {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return c.State(), ctx.Err()
		}
	}
}

// Watch returns a channel always holding the most recent state, starting with the current
// one, and a function that stops the watch and closes the channel.
func (c *Context) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	ch <- c.state
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w, ok := c.watchers[id]; ok {
				delete(c.watchers, id)
				close(w)
			}
		})
	}
}

// Refresh re-reads the session. A failed fetch keeps the current user and role and sets
// Error. The result is discarded when a change notification arrived while it was in
// flight. When a user is present without a role, the role is resolved before returning;
// if ctx ends first the lookup continues in the background and the loading state is returned.
func (c *Context) Refresh(ctx context.Context) State {
	c.mu.Lock()
	startGen := c.gen
	c.mu.Unlock()

	session, err := c.sessions.GetSession(ctx)

	c.mu.Lock()
	if c.closed {
		defer c.mu.Unlock()
		return c.state
	}
	if c.gen != startGen {
		c.opts.Metrics.Discarded("session")
		defer c.mu.Unlock()
		return c.state
	}

	user := userOf(session)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		if user == nil {
			user = c.state.User
		}
		c.logger.Warn("session refresh failed; keeping current user", "user_id", c.state.UserID(), "error", err)
	}

	if idOf(user) != c.state.UserID() {
		gen := c.bumpLocked()
		c.publishLocked(State{Loading: user != nil, User: user, Error: errMsg})
		if user == nil {
			defer c.mu.Unlock()
			return c.state
		}
		return c.resolveAndWaitLocked(ctx, gen, user.ID)
	}

	next := c.state
	next.User = user
	next.Error = errMsg
	if user != nil && !next.Loading && !next.Role.Known() {
		next.Loading = true
		c.publishLocked(next)
		gen := c.bumpLocked()
		return c.resolveAndWaitLocked(ctx, gen, user.ID)
	}
	if user == nil {
		next.Loading = false
	}
	c.publishLocked(next)
	if !next.Loading {
		defer c.mu.Unlock()
		return c.state
	}
	// A lookup for this user is already in flight.
	c.mu.Unlock()
	state, _ := c.Settled(ctx)
	return state
}

// SignOut makes the state anonymous, then signs the session store out.
func (c *Context) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.bumpLocked()
	c.publishLocked(State{})
	c.mu.Unlock()
	return c.sessions.SignOut(ctx)
}

// Close unsubscribes, cancels in-flight work, closes watchers and waits for background
// goroutines to exit.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.changed)
	c.changed = make(chan struct{})
	if c.cancelRole != nil {
		c.cancelRole()
	}
	unsubscribe := c.unsubscribe
	for id, w := range c.watchers {
		delete(c.watchers, id)
		close(w)
	}
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.cancelBase()
	c.work.Wait()
}

// onChange applies a provider notification immediately. A new user keeps Loading until
// its role is known; a refreshed token of the same user does not block on the role.
func (c *Context) onChange(_ provider.Event, session *models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	user := userOf(session)
	sameUser := user != nil && user.ID == c.state.UserID()
	gen := c.bumpLocked()

	switch {
	case user == nil:
		c.publishLocked(State{})
	case sameUser:
		next := c.state
		next.User = user
		next.Error = ""
		c.publishLocked(next)
		c.resolveAsyncLocked(gen, user.ID, true)
	default:
		c.publishLocked(State{Loading: true, User: user})
		c.resolveAsyncLocked(gen, user.ID, false)
	}
}

// bumpLocked starts a new generation and cancels the lookup of the previous one.
func (c *Context) bumpLocked() uint64 {
	c.gen++
	if c.cancelRole != nil {
		c.cancelRole()
		c.cancelRole = nil
	}
	return c.gen
}

func (c *Context) resolveAsyncLocked(gen uint64, userID string, keepKnown bool) {
	ctx, cancel := context.WithCancel(c.base)
	c.cancelRole = cancel
	c.work.Add(1)
	go func() {
		defer c.work.Done()
		defer cancel()
		role := c.roles.Resolve(ctx, userID, c.opts.RoleTimeout)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.applyRoleLocked(gen, role, keepKnown)
	}()
}

// resolveAndWaitLocked is entered with mu held. The lookup runs on the context's own
// lifetime so an abandoned caller cannot settle the shared state with an unknown role;
// ctx only bounds how long the caller waits for it.
func (c *Context) resolveAndWaitLocked(ctx context.Context, gen uint64, userID string) State {
	c.resolveAsyncLocked(gen, userID, false)
	c.mu.Unlock()
	state, _ := c.Settled(ctx)
	return state
}

func (c *Context) applyRoleLocked(gen uint64, role models.Role, keepKnown bool) {
	if c.closed || gen != c.gen {
		c.opts.Metrics.Discarded("role")
		return
	}
	c.cancelRole = nil
	next := c.state
	next.Loading = false
	if role.Known() || !keepKnown {
		next.Role = role
	} else if next.Role.Known() {
		c.logger.Warn("role re-resolution failed; keeping previous role", "user_id", next.UserID(), "role", next.Role.String())
	}
	c.publishLocked(next)
}

func (c *Context) publishLocked(next State) {
	next.Version = c.state.Version + 1
	c.state = next
	close(c.changed)
	c.changed = make(chan struct{})
	for _, w := range c.watchers {
		select {
		case <-w:
		default:
		}
		w <- next
	}
}

func userOf(session *models.Session) *models.User {
	if session == nil {
		return nil
	}
	u := session.User
	return &u
}

func idOf(user *models.User) string {
	if user == nil {
		return ""
	}
	return user.ID
}
