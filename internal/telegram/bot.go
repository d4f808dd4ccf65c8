package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"vibe-planner/internal/config"
	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/hangout"
	"vibe-planner/internal/kv"
	"vibe-planner/internal/logging"
	"vibe-planner/internal/metrics"
	"vibe-planner/internal/payment"
	"vibe-planner/internal/wizard"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sender is the part of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// StateParser reads the signed state carried by a payment callback URL.
type StateParser interface {
	ParseState(token string) (payment.State, error)
}

// BotDeps wires a Bot. States is nil when payments are disabled.
type BotDeps struct {
	Config   *config.Config
	Sessions SessionDeps
	Metrics  *metrics.Store
	Gatherer prometheus.Gatherer
	States   StateParser
	DataPath string
	Logger   *slog.Logger
}

// Bot routes Telegram updates and payment callbacks to per-chat sessions.
type Bot struct {
	api      Sender
	cfg      *config.Config
	registry *Registry
	metrics  *metrics.Store
	gatherer prometheus.Gatherer
	states   StateParser
	catalog  entitlement.Catalog
	dataPath string
	now      func() time.Time
	logger   *slog.Logger

	wg sync.WaitGroup
}

func NewBot(api Sender, deps BotDeps) *Bot {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Sessions.Now
	if now == nil {
		now = time.Now
	}
	catalog := deps.Sessions.Catalog
	if len(catalog) == 0 {
		catalog = entitlement.DefaultCatalog()
		deps.Sessions.Catalog = catalog
	}
	deps.Sessions.Logger = logger
	deps.Sessions.Now = now

	b := &Bot{
		api:      api,
		cfg:      deps.Config,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		states:   deps.States,
		catalog:  catalog,
		dataPath: deps.DataPath,
		now:      now,
		logger:   logger,
	}
	sessions := deps.Sessions
	b.registry = NewRegistry(func(chatID int64) *Chat {
		return sessions.newChat(chatID, b.onTransition(chatID))
	})
	return b
}

// SetWebhook points Telegram at url.
func SetWebhook(api Sender, url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url %s: %w", url, err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return fmt.Errorf("failed to set webhook to %s: %w", url, err)
	}
	slog.Info("webhook set", "url", url, "response", resp.Description)
	return nil
}

// UpdateSource is the long-polling side of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// RunPolling handles updates from src until ctx is done.
func (b *Bot) RunPolling(ctx context.Context, src UpdateSource) {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		b.logger.Warn("failed to delete webhook", "error", err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := src.GetUpdatesChan(u)
	b.logger.Info("polling for updates")
	for {
		select {
		case <-ctx.Done():
			src.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.dispatch(update)
		}
	}
}

// Wait blocks until every dispatched update has been handled.
func (b *Bot) Wait() { b.wg.Wait() }

// Routes returns the HTTP surface of the bot.
func (b *Bot) Routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/webhook", b.handleWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/payment/callback", b.handlePaymentCallback)
	if b.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(b.gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func (b *Bot) handleWebhook(c *gin.Context) {
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		b.logger.Warn("error parsing update", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}
	b.dispatch(update)
	c.Status(http.StatusOK)
}

// dispatch handles update in its own goroutine. Finding a closer plan blocks
// until a later update delivers the location.
func (b *Bot) dispatch(update tgbotapi.Update) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("panic while handling update", "update_id", update.UpdateID, "panic", r)
			}
		}()
		b.HandleUpdate(context.Background(), update)
	}()
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) chatContext(ctx context.Context, chatID int64) (context.Context, *Chat) {
	chat := b.registry.Get(chatID)
	return logging.ContextWithLogger(ctx, b.logger.With("chat_id", chatID)), chat
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	ctx, chat := b.chatContext(ctx, msg.Chat.ID)

	if msg.Location != nil {
		b.handleLocation(ctx, chat, hangout.Location{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude})
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, chat, msg)
		return
	}
	b.handleText(ctx, chat, strings.TrimSpace(msg.Text))
}

func (b *Bot) handleCommand(ctx context.Context, chat *Chat, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "restart":
		chat.setInput(inputNone, "")
		if err := chat.Session.Restart(ctx); err != nil {
			b.reject(ctx, chat, err)
			return
		}
		b.show(ctx, chat)
	case "back":
		chat.takeOrigin()
		b.run(ctx, chat, chat.Session.Back)
	case "history":
		b.send(ctx, chat.ID, formatHistory(chat.History.List(ctx)))
	case "theme":
		theme := b.theme(ctx, chat)
		next := ThemeLight
		if theme == ThemeLight {
			next = ThemeDark
		}
		if err := chat.Prefs.Set(ctx, kv.KeyThemePreference, string(next)); err != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "failed to save theme", "error", err)
		}
		b.send(ctx, chat.ID, outgoing{Text: fmt.Sprintf("%s Switched to the %s theme.", next.icon(), next)})
	case "metrics":
		if msg.From == nil || b.cfg == nil || b.cfg.AdminTelegramID == 0 || msg.From.ID != b.cfg.AdminTelegramID {
			b.send(ctx, chat.ID, outgoing{Text: "⛔ <b>Access Denied</b>: Admin only."})
			return
		}
		b.sendMetrics(ctx, chat.ID)
	default:
		b.send(ctx, chat.ID, outgoing{Text: helpText})
	}
}

const helpText = `<b>Commands</b>
/start - plan a new hangout
/back - go back one step
/history - your saved plans
/theme - switch between dark and light
/restart - start over`

func (b *Bot) handleText(ctx context.Context, chat *Chat, text string) {
	if text == declineLocation && chat.Locator.Decline() {
		return
	}

	mode, tier := chat.pendingInput()
	if mode == inputEmail {
		b.startCheckout(ctx, chat, tier, text)
		return
	}

	v := chat.Session.View()
	switch v.State {
	case wizard.StateGatheringInput:
		b.answerText(ctx, chat, v, text)
	case wizard.StateAskingLocation:
		if mode == inputDeparture {
			intended, err := departureTime(text, b.localNow())
			if err != nil {
				b.send(ctx, chat.ID, outgoing{Text: html.EscapeString(capitalize(err.Error())) + "."})
				return
			}
			b.submitLocation(ctx, chat, intended)
			return
		}
		if text == "" {
			b.send(ctx, chat.ID, askOrigin())
			return
		}
		chat.setOrigin(text, nil)
		b.send(ctx, chat.ID, askDeparture())
	default:
		b.send(ctx, chat.ID, outgoing{Text: "Use the buttons above, or send /start to plan a hangout."})
	}
}

func (b *Bot) answerText(ctx context.Context, chat *Chat, v wizard.View, text string) {
	if v.Question == nil {
		return
	}
	q := *v.Question
	var err error
	switch q.Kind {
	case hangout.KindTime:
		h, m, ap, perr := parseClock(text)
		if perr != nil {
			b.send(ctx, chat.ID, outgoing{Text: html.EscapeString(capitalize(perr.Error())) + "."})
			return
		}
		err = chat.Session.SubmitSpecificTime(ctx, "", h, m, ap)
	case hangout.KindDateTime:
		d, h, m, ap, perr := parseDateTime(text)
		if perr != nil {
			b.send(ctx, chat.ID, outgoing{Text: html.EscapeString(capitalize(perr.Error())) + "."})
			return
		}
		err = chat.Session.SubmitSpecificTime(ctx, d, h, m, ap)
	case hangout.KindNumber:
		value := text
		if matched, ok := matchOption(q, text); ok {
			value = matched
		}
		err = chat.Session.Answer(ctx, q.Key, value)
	default:
		value, ok := matchOption(q, text)
		if !ok {
			b.send(ctx, chat.ID, outgoing{Text: "Pick one of the options above."})
			return
		}
		err = chat.Session.Answer(ctx, q.Key, value)
	}
	if err != nil {
		b.reject(ctx, chat, err)
		return
	}
	b.show(ctx, chat)
}

func (b *Bot) handleLocation(ctx context.Context, chat *Chat, loc hangout.Location) {
	if chat.Locator.Deliver(loc) {
		return
	}
	if chat.Session.View().State != wizard.StateAskingLocation {
		b.send(ctx, chat.ID, outgoing{Text: "Thanks! I'll ask for your location when I need it."})
		return
	}
	chat.setOrigin("My current location", &loc)
	b.send(ctx, chat.ID, outgoing{Text: "📍 Got your location.", Markup: tgbotapi.NewRemoveKeyboard(false)})
	b.send(ctx, chat.ID, askDeparture())
}

func (b *Bot) submitLocation(ctx context.Context, chat *Chat, intendedTime string) {
	origin, loc := chat.takeOrigin()
	if origin == "" {
		b.send(ctx, chat.ID, askOrigin())
		return
	}
	if err := chat.Session.SubmitLocation(ctx, origin, loc, intendedTime); err != nil {
		chat.setOrigin(origin, loc)
		b.reject(ctx, chat, err)
		return
	}
	b.show(ctx, chat)
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	ctx, chat := b.chatContext(ctx, query.Message.Chat.ID)

	// Telegram shows a spinner until the query is answered; answer it once,
	// before any long-running operation.
	var once sync.Once
	answer := func(text string) {
		once.Do(func() {
			if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, text)); err != nil {
				logging.FromContext(ctx).WarnContext(ctx, "failed to answer callback", "error", err)
			}
		})
	}
	defer answer("")

	cb, err := parseCallback(query.Data)
	if err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "ignoring callback", "error", err)
		return
	}

	s := chat.Session
	switch cb.action {
	case cbStart:
		b.run(ctx, chat, s.Start)
	case cbBack:
		b.run(ctx, chat, s.Back)
	case cbSurprise:
		b.run(ctx, chat, s.SurpriseMe)
	case cbRegenerate:
		b.run(ctx, chat, s.Regenerate)
	case cbRestart:
		chat.setInput(inputNone, "")
		b.run(ctx, chat, s.Restart)
	case cbPlanAnother:
		chat.setInput(inputNone, "")
		if err := s.Restart(ctx); err != nil {
			b.reject(ctx, chat, err)
			return
		}
		b.run(ctx, chat, s.Start)
	case cbCloser:
		if s.View().State != wizard.StateShowingOptions {
			b.reject(ctx, chat, wizard.ErrInvalidTransition)
			return
		}
		answer("")
		b.send(ctx, chat.ID, askLocationShare())
		b.run(ctx, chat, s.FindCloser)
	case cbAnswer:
		v := s.View()
		i := hangout.Index(v.Questions, cb.key)
		if i < 0 || cb.index < 0 || cb.index >= len(v.Questions[i].Options) {
			b.reject(ctx, chat, wizard.ErrInvalidTransition)
			return
		}
		value := v.Questions[i].Options[cb.index].Value
		b.run(ctx, chat, func(ctx context.Context) error { return s.Answer(ctx, cb.key, value) })
	case cbPlan:
		b.run(ctx, chat, func(ctx context.Context) error { return s.SelectPlan(ctx, cb.index) })
	case cbDepartNow:
		if mode, _ := chat.pendingInput(); mode != inputDeparture {
			b.send(ctx, chat.ID, askOrigin())
			return
		}
		b.submitLocation(ctx, chat, b.localNow().Format("15:04"))
	case cbUpgrade:
		if b.states == nil {
			b.reject(ctx, chat, wizard.ErrPaymentsDisabled)
			return
		}
		b.send(ctx, chat.ID, b.renderer(ctx, chat).tierPicker())
	case cbTier:
		if b.states == nil {
			b.reject(ctx, chat, wizard.ErrPaymentsDisabled)
			return
		}
		tier, ok := b.catalog.Lookup(cb.tier)
		if !ok {
			answer("That plan is no longer available.")
			return
		}
		chat.setInput(inputEmail, tier.ID)
		b.send(ctx, chat.ID, outgoing{Text: fmt.Sprintf("📧 <b>%s</b> it is. What email should the receipt go to?", html.EscapeString(tier.Name))})
	case cbPayCancel:
		chat.setInput(inputNone, "")
		b.send(ctx, chat.ID, outgoing{Text: html.EscapeString(s.PaymentClosed(ctx))})
		b.show(ctx, chat)
	case cbRate:
		if err := chat.History.Rate(ctx, cb.id, cb.index); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "rating rejected", "plan_id", cb.id, "error", err)
			answer("Couldn't save that rating.")
			return
		}
		answer(fmt.Sprintf("Rated %s", strings.Repeat("⭐", cb.index)))
	case cbHistory:
		p, ok := chat.History.Get(ctx, cb.id)
		if !ok {
			answer("That plan is gone.")
			return
		}
		b.send(ctx, chat.ID, formatSavedPlan(p))
	}
}

func (b *Bot) startCheckout(ctx context.Context, chat *Chat, tierID entitlement.TierID, email string) {
	checkout, err := chat.Session.InitiatePayment(ctx, tierID, email)
	var verr *payment.ValidationError
	switch {
	case errors.As(err, &verr):
		b.send(ctx, chat.ID, outgoing{Text: html.EscapeString(verr.Message)})
		return
	case err != nil:
		chat.setInput(inputNone, "")
		if errors.Is(err, wizard.ErrBusy) || errors.Is(err, wizard.ErrInvalidTransition) || errors.Is(err, wizard.ErrPaymentsDisabled) {
			b.reject(ctx, chat, err)
			return
		}
		b.send(ctx, chat.ID, outgoing{Text: "❌ Couldn't start the payment. Please try again in a moment."})
		return
	}
	chat.setInput(inputNone, "")

	tier, _ := b.catalog.Lookup(tierID)
	b.send(ctx, chat.ID, outgoing{
		Text: fmt.Sprintf("💳 Tap below to pay <b>%s</b> for %s. I'll unlock it as soon as the payment clears.",
			formatPrice(tier), html.EscapeString(tier.Name)),
		Markup: tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💳 Pay "+formatPrice(tier), checkout.AuthorizationURL)),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", cbPayCancel)),
		),
	})
}

func (b *Bot) handlePaymentCallback(c *gin.Context) {
	if b.states == nil {
		c.String(http.StatusNotFound, "payments are disabled")
		return
	}
	st, err := b.states.ParseState(c.Query("state"))
	if err != nil {
		b.logger.Warn("rejected payment callback", "error", err)
		c.String(http.StatusBadRequest, "This payment link is invalid or has expired.")
		return
	}
	reference := c.Query("reference")
	if reference == "" {
		reference = c.Query("trxref")
	}
	if reference == "" || (st.Reference != "" && reference != st.Reference) {
		c.String(http.StatusBadRequest, "Missing or unknown payment reference.")
		return
	}

	ctx, chat := b.chatContext(c.Request.Context(), st.ChatID)
	if err := chat.Session.PaymentSucceeded(ctx, reference, st.Tier); err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "payment callback rejected", "reference", reference, "error", err)
		c.String(http.StatusConflict, "We're still processing a request for this chat. Please refresh in a moment.")
		return
	}

	v := chat.Session.View()
	var verr *wizard.PaymentVerificationError
	if errors.As(v.Err, &verr) {
		b.show(ctx, chat)
		c.String(http.StatusPaymentRequired, verr.UserMessage())
		return
	}

	tier, _ := b.catalog.Lookup(st.Tier)
	b.send(ctx, chat.ID, outgoing{Text: fmt.Sprintf("🎉 <b>%s</b> is active! You have %d plans to use within %s.",
		html.EscapeString(tier.Name), tier.PlanLimit, formatValidity(tier.Validity))})
	b.show(ctx, chat)
	c.String(http.StatusOK, "Payment received. You can head back to Telegram.")
}

// onTransition shows a progress message whenever a session starts working.
func (b *Bot) onTransition(chatID int64) wizard.Listener {
	return func(ctx context.Context, t wizard.Transition) {
		if t.To != wizard.StateLoading {
			return
		}
		if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "failed to send chat action", "error", err)
		}
		chat := b.registry.Get(chatID)
		for _, out := range b.renderer(ctx, chat).render(wizard.View{State: wizard.StateLoading}) {
			b.send(ctx, chatID, out)
		}
	}
}

func (b *Bot) run(ctx context.Context, chat *Chat, op func(context.Context) error) {
	if err := op(ctx); err != nil {
		b.reject(ctx, chat, err)
		return
	}
	b.show(ctx, chat)
}

// show renders the session's current view.
func (b *Bot) show(ctx context.Context, chat *Chat) {
	v := chat.Session.View()
	if v.State == wizard.StateLoading {
		return
	}
	for _, out := range b.renderer(ctx, chat).render(v) {
		b.send(ctx, chat.ID, out)
	}
}

// reject tells the user why an operation was refused.
func (b *Bot) reject(ctx context.Context, chat *Chat, err error) {
	logging.FromContext(ctx).InfoContext(ctx, "operation rejected", "error", err)
	var text string
	var verr *payment.ValidationError
	switch {
	case errors.Is(err, wizard.ErrBusy):
		text = "⏳ Hang on, I'm still working on your last request."
	case errors.Is(err, wizard.ErrInvalidTransition):
		text = "That button has expired. Here's where we are:"
	case errors.Is(err, wizard.ErrInvalidAnswer):
		text = "That answer doesn't fit. Try again."
	case errors.Is(err, wizard.ErrPaymentsDisabled):
		text = "💳 Payments aren't available right now."
	case errors.Is(err, entitlement.ErrUnknownTier):
		text = "That plan is no longer available."
	case errors.As(err, &verr):
		text = verr.Message
	default:
		text = wizard.UserMessage(err)
	}
	b.send(ctx, chat.ID, outgoing{Text: html.EscapeString(text)})
	if errors.Is(err, wizard.ErrInvalidTransition) {
		b.show(ctx, chat)
	}
}

func (b *Bot) sendMetrics(ctx context.Context, chatID int64) {
	if b.metrics == nil {
		b.send(ctx, chatID, outgoing{Text: "❌ Metrics are not enabled."})
		return
	}
	usage, err := b.metrics.GetDailyUsage(ctx, 7)
	if err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "failed to fetch metrics", "error", err)
		b.send(ctx, chatID, outgoing{Text: "❌ Error fetching metrics."})
		return
	}
	health := metrics.GetSysHealth(b.dataPath, b.registry.Len())
	b.send(ctx, chatID, outgoing{Text: formatMetricsReport(usage, health)})
}

func (b *Bot) renderer(ctx context.Context, chat *Chat) renderer {
	r := renderer{
		catalog:  b.catalog,
		payments: b.states != nil,
		theme:    b.theme(ctx, chat),
		appName:  "Vibe Planner",
		city:     "Accra",
	}
	if b.cfg != nil {
		r.appName = b.cfg.AppName
		r.city = b.cfg.City
	}
	return r
}

func (b *Bot) theme(ctx context.Context, chat *Chat) Theme {
	v, ok, err := chat.Prefs.Get(ctx, kv.KeyThemePreference)
	if err != nil || !ok || Theme(v) != ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

func (b *Bot) localNow() time.Time {
	now := b.now()
	if b.cfg != nil && b.cfg.Timezone != nil {
		return now.In(b.cfg.Timezone)
	}
	return now
}

func (b *Bot) send(ctx context.Context, chatID int64, out outgoing) {
	msg := tgbotapi.NewMessage(chatID, out.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if out.Markup != nil {
		msg.ReplyMarkup = out.Markup
	}
	if _, err := b.api.Send(msg); err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "failed to send message", "error", err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
