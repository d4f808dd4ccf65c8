package telegram

import (
	"database/sql"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/hangout"
	"vibe-planner/internal/history"
	"vibe-planner/internal/kv"
	"vibe-planner/internal/metrics"
	"vibe-planner/internal/wizard"
)

// inputMode is what the next free-text message of a chat answers.
type inputMode int

const (
	inputNone inputMode = iota
	inputEmail
	inputDeparture
)

// Chat is everything the bot keeps for one Telegram chat. Persisted data
// lives in the chat's own kv namespace.
type Chat struct {
	ID           int64
	Session      *wizard.Session
	History      *history.Store
	Entitlements *entitlement.Store
	Prefs        kv.Store
	Locator      *LocationWaiter

	mu        sync.Mutex
	input     inputMode
	tier      entitlement.TierID
	origin    string
	originLoc *hangout.Location
}

func (c *Chat) setInput(mode inputMode, tier entitlement.TierID) {
	c.mu.Lock()
	c.input = mode
	c.tier = tier
	c.mu.Unlock()
}

func (c *Chat) pendingInput() (inputMode, entitlement.TierID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input, c.tier
}

func (c *Chat) setOrigin(origin string, loc *hangout.Location) {
	c.mu.Lock()
	c.origin = origin
	c.originLoc = loc
	c.input = inputDeparture
	c.mu.Unlock()
}

// takeOrigin returns the remembered starting point and forgets it.
func (c *Chat) takeOrigin() (string, *hangout.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	origin, loc := c.origin, c.originLoc
	c.origin, c.originLoc = "", nil
	c.input = inputNone
	return origin, loc
}

// SessionDeps are shared by every chat session.
type SessionDeps struct {
	DB              *sql.DB
	Generator       wizard.Generator
	ConfigErr       error
	Payments        wizard.Payments
	Catalog         entitlement.Catalog
	Policy          entitlement.ExhaustedPolicy
	Collector       *metrics.Collector
	Now             func() time.Time
	LocationTimeout time.Duration
	Logger          *slog.Logger
}

func (d SessionDeps) newChat(chatID int64, listener wizard.Listener) *Chat {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("chat_id", chatID)

	store := kv.NewSQLiteStore(d.DB, strconv.FormatInt(chatID, 10))
	ent := entitlement.NewStore(store, d.Catalog, entitlement.WithPolicy(d.Policy), entitlement.WithLogger(logger))
	hist := history.NewStore(store, now, logger)
	locator := NewLocationWaiter(d.LocationTimeout)

	session := wizard.New(chatID, wizard.Deps{
		Generator:    d.Generator,
		Entitlements: ent,
		History:      hist,
		Payments:     d.Payments,
		Locator:      locator,
	},
		wizard.WithClock(now),
		wizard.WithCollector(d.Collector),
		wizard.WithListener(listener),
		wizard.WithConfigurationError(d.ConfigErr),
	)

	return &Chat{
		ID:           chatID,
		Session:      session,
		History:      hist,
		Entitlements: ent,
		Prefs:        store,
		Locator:      locator,
	}
}

// Registry holds the live chats, created on first contact.
type Registry struct {
	mu    sync.Mutex
	chats map[int64]*Chat
	build func(chatID int64) *Chat
}

func NewRegistry(build func(chatID int64) *Chat) *Registry {
	return &Registry{chats: make(map[int64]*Chat), build: build}
}

// Get returns the chat, creating it if needed.
func (r *Registry) Get(chatID int64) *Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chats[chatID]; ok {
		return c
	}
	c := r.build(chatID)
	r.chats[chatID] = c
	return c
}

// Len is the number of live chats.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}
