package tally

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sync run triggers recorded in the run history.
const (
	TriggerManual     = "manual"
	TriggerBackground = "background"
	TriggerLogin      = "login"
)

// SyncOptions configures background and opportunistic syncing.
type SyncOptions struct {
	// Interval is the background trigger's cadence.
	Interval time.Duration

	// Opportunistic requests a pass after every local mutation and whenever
	// the network comes back online, while the background trigger is enabled.
	Opportunistic bool
}

// DefaultSyncOptions returns the options used when none are configured.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		Interval:      5 * time.Minute,
		Opportunistic: true,
	}
}

// SyncContext is the façade the UI layer talks to. Mutations write through to
// the Store immediately, whatever the connectivity; syncing happens on demand,
// on the background trigger, or opportunistically. Sync failures are reported
// as data (Summary, per-row SyncError, UnsyncedCount), never as errors from
// background paths.
type SyncContext struct {
	store      Store
	remote     Remote
	network    NetworkMonitor
	sessions   SessionStore
	engine     *SyncEngine
	background *BackgroundSync
	logger     Logger
	clock      Clock
	opts       SyncOptions

	mu           sync.Mutex
	session      *Session
	pending      map[Kind]int
	total        int
	needsReauth  bool
	listeners    map[int]func(int)
	nextListener int
	unsubscribe  func()
}

// NewSyncContext creates a SyncContext for the given session. session may be
// nil, meaning signed out. Call Start before use and Close when done.
func NewSyncContext(store Store, remote Remote, network NetworkMonitor, sessions SessionStore, session *Session, logger Logger, clock Clock, opts SyncOptions) *SyncContext {
	if session == nil {
		session = &Session{}
	}
	c := &SyncContext{
		store:     store,
		remote:    remote,
		network:   network,
		sessions:  sessions,
		engine:    NewSyncEngine(store, remote, network, logger, clock),
		logger:    logger,
		clock:     clock,
		opts:      opts,
		session:   session,
		pending:   make(map[Kind]int),
		listeners: make(map[int]func(int)),
	}
	c.background = NewBackgroundSync(c.backgroundPass, logger)
	return c
}

// Start computes the pending counts, watches connectivity, and enables the
// background trigger if the session is signed in.
func (c *SyncContext) Start(ctx context.Context) error {
	if err := c.refreshCounts(ctx); err != nil {
		return fmt.Errorf("counting unsynced rows: %w", err)
	}

	unsubscribe := c.network.Subscribe(func(status Connectivity) {
		if status == ConnectivityOnline && c.opts.Opportunistic {
			c.background.Kick()
		}
	})

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	session := c.session
	c.mu.Unlock()

	c.ApplySession(session)
	return nil
}

// Close disables the background trigger and stops watching connectivity.
// It does not close the Store.
func (c *SyncContext) Close() {
	c.background.Disable()

	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Customers

func (c *SyncContext) AddCustomer(ctx context.Context, customer Customer) (*Row, error) {
	return c.Add(ctx, customer)
}

func (c *SyncContext) UpdateCustomer(ctx context.Context, localID string, fields map[string]any) (*Row, error) {
	return c.Update(ctx, KindCustomer, localID, fields)
}

func (c *SyncContext) DeleteCustomer(ctx context.Context, localID string) error {
	return c.Delete(ctx, KindCustomer, localID)
}

func (c *SyncContext) ListCustomers(ctx context.Context) ([]*Row, error) {
	return c.List(ctx, KindCustomer)
}

// Invoices

func (c *SyncContext) AddInvoice(ctx context.Context, invoice Invoice) (*Row, error) {
	if _, err := c.store.Get(ctx, KindCustomer, invoice.CustomerID); err != nil {
		return nil, fmt.Errorf("finding invoice customer: %w", err)
	}
	return c.Add(ctx, invoice)
}

func (c *SyncContext) UpdateInvoice(ctx context.Context, localID string, fields map[string]any) (*Row, error) {
	return c.Update(ctx, KindInvoice, localID, fields)
}

func (c *SyncContext) DeleteInvoice(ctx context.Context, localID string) error {
	return c.Delete(ctx, KindInvoice, localID)
}

func (c *SyncContext) ListInvoices(ctx context.Context) ([]*Row, error) {
	return c.List(ctx, KindInvoice)
}

// Bank accounts

func (c *SyncContext) AddBankAccount(ctx context.Context, account BankAccount) (*Row, error) {
	return c.Add(ctx, account)
}

func (c *SyncContext) UpdateBankAccount(ctx context.Context, localID string, fields map[string]any) (*Row, error) {
	return c.Update(ctx, KindBankAccount, localID, fields)
}

func (c *SyncContext) DeleteBankAccount(ctx context.Context, localID string) error {
	return c.Delete(ctx, KindBankAccount, localID)
}

func (c *SyncContext) ListBankAccounts(ctx context.Context) ([]*Row, error) {
	return c.List(ctx, KindBankAccount)
}

// Dealers

func (c *SyncContext) AddDealer(ctx context.Context, dealer Dealer) (*Row, error) {
	return c.Add(ctx, dealer)
}

func (c *SyncContext) UpdateDealer(ctx context.Context, localID string, fields map[string]any) (*Row, error) {
	return c.Update(ctx, KindDealer, localID, fields)
}

func (c *SyncContext) DeleteDealer(ctx context.Context, localID string) error {
	return c.Delete(ctx, KindDealer, localID)
}

func (c *SyncContext) ListDealers(ctx context.Context) ([]*Row, error) {
	return c.List(ctx, KindDealer)
}

// Add stores a new entity as an unsynced row.
func (c *SyncContext) Add(ctx context.Context, entity SyncableEntity) (*Row, error) {
	row, err := c.store.Insert(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("adding %s: %w", entity.Kind(), err)
	}
	c.logger.Debug("row added", "kind", row.Kind, "local_id", row.LocalID)
	c.afterMutation(ctx)
	return row, nil
}

// Update merges fields into a row and marks it unsynced.
func (c *SyncContext) Update(ctx context.Context, kind Kind, localID string, fields map[string]any) (*Row, error) {
	row, err := c.store.Update(ctx, kind, localID, Patch{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("updating %s %s: %w", kind, localID, err)
	}
	c.logger.Debug("row updated", "kind", kind, "local_id", localID)
	c.afterMutation(ctx)
	return row, nil
}

// Delete removes a row locally; synced rows are deleted remotely on the next pass.
func (c *SyncContext) Delete(ctx context.Context, kind Kind, localID string) error {
	if err := c.store.Delete(ctx, kind, localID); err != nil {
		return fmt.Errorf("deleting %s %s: %w", kind, localID, err)
	}
	c.logger.Debug("row deleted", "kind", kind, "local_id", localID)
	c.afterMutation(ctx)
	return nil
}

// Get returns a single live row.
func (c *SyncContext) Get(ctx context.Context, kind Kind, localID string) (*Row, error) {
	return c.store.Get(ctx, kind, localID)
}

// List returns all live rows of a kind.
func (c *SyncContext) List(ctx context.Context, kind Kind) ([]*Row, error) {
	return c.store.ListAll(ctx, kind)
}

func (c *SyncContext) afterMutation(ctx context.Context) {
	if err := c.refreshCounts(ctx); err != nil {
		c.logger.Warn("counting unsynced rows", "error", err)
	}
	if c.opts.Opportunistic && c.network.Status() == ConnectivityOnline {
		c.background.Kick()
	}
}

// SyncNow runs one sync pass and returns its summary. A pass that ends
// because the server refused the session disables the background trigger.
func (c *SyncContext) SyncNow(ctx context.Context) *Summary {
	sum := c.runSync(ctx, TriggerManual)
	if sum.AuthRequired {
		c.background.Disable()
	}
	return sum
}

func (c *SyncContext) backgroundPass(ctx context.Context) bool {
	sum := c.runSync(ctx, TriggerBackground)
	return !sum.AuthRequired && c.sessionActive()
}

func (c *SyncContext) runSync(ctx context.Context, trigger string) *Summary {
	if !c.sessionActive() {
		now := c.clock.Now()
		return &Summary{Skipped: true, Error: msgSignedOut, StartedAt: now, FinishedAt: now}
	}

	sum := c.engine.Run(ctx)
	if !sum.Skipped {
		c.record(ctx, trigger, sum)
	}
	if sum.AuthRequired {
		c.mu.Lock()
		c.needsReauth = true
		c.mu.Unlock()
	}
	if err := c.refreshCounts(ctx); err != nil {
		c.logger.Warn("counting unsynced rows", "error", err)
	}
	return sum
}

func (c *SyncContext) record(ctx context.Context, trigger string, sum *Summary) {
	run := &SyncRun{
		Trigger:    trigger,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Success:    sum.Success,
		Synced:     sum.SyncedCount,
		Failed:     sum.FailedCount,
		Deferred:   sum.DeferredCount,
		Error:      sum.Error,
	}
	if err := c.store.RecordSyncRun(ctx, run); err != nil {
		c.logger.Warn("recording sync run", "error", err)
	}
}

// History returns the most recent sync passes, newest first.
func (c *SyncContext) History(ctx context.Context, limit int) ([]*SyncRun, error) {
	return c.store.ListSyncRuns(ctx, limit)
}

// UnsyncedCount returns the number of rows awaiting sync across all kinds.
func (c *SyncContext) UnsyncedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// PendingByKind returns the number of rows awaiting sync per kind.
func (c *SyncContext) PendingByKind() map[Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[Kind]int, len(c.pending))
	for k, v := range c.pending {
		out[k] = v
	}
	return out
}

// Subscribe registers fn to be called with the new total whenever the
// unsynced count changes. The returned function removes the subscription.
func (c *SyncContext) Subscribe(fn func(unsynced int)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *SyncContext) refreshCounts(ctx context.Context) error {
	pending := make(map[Kind]int, len(SyncOrder))
	total := 0
	for _, kind := range SyncOrder {
		n, err := c.store.CountUnsynced(ctx, kind)
		if err != nil {
			return fmt.Errorf("counting %s rows: %w", kind, err)
		}
		pending[kind] = n
		total += n
	}

	c.mu.Lock()
	changed := total != c.total
	c.pending = pending
	c.total = total
	var listeners []func(int)
	if changed {
		for _, fn := range c.listeners {
			listeners = append(listeners, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(total)
	}
	return nil
}

// Connectivity returns the network monitor's last known status.
func (c *SyncContext) Connectivity() Connectivity {
	return c.network.Status()
}

// Syncing reports whether a pass is in progress.
func (c *SyncContext) Syncing() bool {
	return c.engine.Running()
}

// BackgroundEnabled reports whether the background trigger is running.
func (c *SyncContext) BackgroundEnabled() bool {
	return c.background.Enabled()
}

// NeedsReauth reports whether the last pass was refused for authentication.
func (c *SyncContext) NeedsReauth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsReauth
}

// Session returns a copy of the current session.
func (c *SyncContext) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.session
}

func (c *SyncContext) sessionActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Active(c.clock.Now())
}

// ApplySession switches to s, enabling the background trigger for an active
// session and disabling it otherwise. It is used at startup and when the
// persisted session changes outside this process.
func (c *SyncContext) ApplySession(s *Session) {
	if s == nil {
		s = &Session{}
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	c.remote.SetToken(s.Token)
	if s.Active(c.clock.Now()) {
		c.background.Enable(c.opts.Interval)
		return
	}
	c.background.Disable()
}

// Login signs in, persists the session, enables the background trigger, and
// runs one pass to push anything written while signed out.
func (c *SyncContext) Login(ctx context.Context, username, password string) (*Summary, error) {
	token, err := c.remote.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	if err := c.sessions.Save(&Session{
		SignedIn:   true,
		Username:   username,
		Token:      token,
		SignedInAt: c.clock.Now(),
	}); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	session, err := c.sessions.Load()
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	c.mu.Lock()
	c.needsReauth = false
	c.mu.Unlock()

	c.ApplySession(session)
	c.logger.Info("signed in", "username", username)

	return c.runSync(ctx, TriggerLogin), nil
}

// Logout disables the background trigger, signs out remotely on a best-effort
// basis, and persists the signed-out session. Unsynced rows are kept.
func (c *SyncContext) Logout(ctx context.Context) error {
	c.background.Disable()

	if err := c.remote.Logout(ctx); err != nil {
		c.logger.Warn("remote logout failed", "error", err)
	}

	signedOut := &Session{}
	if err := c.sessions.Save(signedOut); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	c.ApplySession(signedOut)
	c.logger.Info("signed out")
	return nil
}
