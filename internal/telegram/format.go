package telegram

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"vibe-planner/internal/entitlement"
	"vibe-planner/internal/hangout"
	"vibe-planner/internal/history"
	"vibe-planner/internal/metrics"
	"vibe-planner/internal/plantext"
	"vibe-planner/internal/wizard"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram rejects longer messages.
const maxMessageLen = 4096

// Theme is the per-chat look, persisted under kv.KeyThemePreference.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

func (t Theme) icon() string {
	if t == ThemeLight {
		return "☀️"
	}
	return "🌙"
}

// outgoing is one message to send. Markup is an inline keyboard, a reply
// keyboard, a keyboard removal, or nil.
type outgoing struct {
	Text   string
	Markup any
}

type renderer struct {
	appName  string
	city     string
	catalog  entitlement.Catalog
	payments bool
	theme    Theme
}

// render turns a session snapshot into the messages that show it.
func (r renderer) render(v wizard.View) []outgoing {
	switch v.State {
	case wizard.StateWelcome:
		return []outgoing{r.welcome()}
	case wizard.StateGatheringInput:
		return []outgoing{r.question(v)}
	case wizard.StateRateLimited:
		return []outgoing{r.rateLimited(v.TimeLeft)}
	case wizard.StateLoading:
		return []outgoing{{Text: "🤔 <b>Thinking...</b>\n<i>Finding the best vibes in " + html.EscapeString(r.city) + "</i>"}}
	case wizard.StateShowingOptions:
		return r.options(v.Plans)
	case wizard.StateAskingLocation:
		return []outgoing{askOrigin()}
	case wizard.StateShowingFinalPlan:
		return []outgoing{r.finalPlan(v)}
	case wizard.StateError:
		return []outgoing{{
			Text: "😕 " + html.EscapeString(v.ErrorMessage),
			Markup: tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔁 Try Again", cbRestart),
			)),
		}}
	}
	return nil
}

func (r renderer) welcome() outgoing {
	text := fmt.Sprintf("%s <b>Welcome to %s</b>\n\nTell me the vibe and I'll plan your next hangout in %s.",
		r.theme.icon(), html.EscapeString(r.appName), html.EscapeString(r.city))
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✨ Start Planning", cbStart)),
	}
	if r.payments {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💎 Upgrade", cbUpgrade)))
	}
	return outgoing{Text: text, Markup: tgbotapi.NewInlineKeyboardMarkup(rows...)}
}

func (r renderer) question(v wizard.View) outgoing {
	if v.Question == nil {
		return outgoing{Text: "🤔 <b>Thinking...</b>"}
	}
	q := v.Question

	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>Step %d of %d</b> %s\n\n%s", v.Step+1, len(v.Questions), progressBar(v.Progress), html.EscapeString(q.Prompt))
	switch q.Kind {
	case hangout.KindNumber:
		sb.WriteString("\n<i>Pick one or type a number.</i>")
	case hangout.KindTime:
		sb.WriteString("\n<i>Send a time like 7:30 PM.</i>")
	case hangout.KindDateTime:
		sb.WriteString("\n<i>Send a date and time like 2025-03-18 7:30 PM.</i>")
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, o := range q.Options {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(o.Label, answerData(q.Key, i)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	var nav []tgbotapi.InlineKeyboardButton
	if v.Step > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", cbBack))
	}
	if len(q.Options) > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("🎲 Surprise Me", cbSurprise))
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}

	out := outgoing{Text: sb.String()}
	if len(rows) > 0 {
		out.Markup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return out
}

func (r renderer) rateLimited(left time.Duration) outgoing {
	text := fmt.Sprintf("⏳ <b>You've used your free plan for today.</b>\n\nYour next free plan unlocks in %s.", formatCountdown(left))
	var rows [][]tgbotapi.InlineKeyboardButton
	if r.payments {
		text += "\n\nCan't wait? Grab a boost:"
		rows = append(rows, r.tierRows()...)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔁 Check Again", cbStart)))
	return outgoing{Text: text, Markup: tgbotapi.NewInlineKeyboardMarkup(rows...)}
}

func (r renderer) tierPicker() outgoing {
	return outgoing{
		Text:   "💎 <b>Pick a plan</b>",
		Markup: tgbotapi.NewInlineKeyboardMarkup(r.tierRows()...),
	}
}

func (r renderer) tierRows() [][]tgbotapi.InlineKeyboardButton {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(r.catalog))
	for _, t := range r.catalog {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(tierLabel(t), cbTier+string(t.ID)),
		))
	}
	return rows
}

func tierLabel(t entitlement.Tier) string {
	return fmt.Sprintf("💎 %s · %s · %d plans / %s", t.Name, formatPrice(t), t.PlanLimit, formatValidity(t.Validity))
}

func (r renderer) options(doc plantext.Document) []outgoing {
	out := make([]outgoing, 0, len(doc.Options)+1)
	for i, b := range doc.Options {
		place, _ := b.Lookup("Location")
		buttons := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ Choose Option %d", i+1), planData(i)),
		}
		if place != "" {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL("🗺 Map It", plantext.MapURL(place, r.city)))
		}
		out = append(out, outgoing{
			Text:   formatBlock(b),
			Markup: tgbotapi.NewInlineKeyboardMarkup(buttons),
		})
	}

	text := "Which one's the vibe?"
	if doc.Recommendation != "" {
		text = "💡 <b>Recommendation:</b> " + html.EscapeString(doc.Recommendation)
	}
	out = append(out, outgoing{
		Text: text,
		Markup: tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔄 Regenerate", cbRegenerate),
				tgbotapi.NewInlineKeyboardButtonData("📍 Find Closer", cbCloser),
			),
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔁 Start Over", cbRestart)),
		),
	})
	return out
}

func askOrigin() outgoing {
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonLocation("📍 Use My Location")))
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return outgoing{
		Text:   "📍 <b>Where are you starting from?</b>\nSend a place name or share your location. Send /back to pick another option.",
		Markup: kb,
	}
}

func askDeparture() outgoing {
	return outgoing{
		Text: "🕒 <b>When are you heading out?</b>\nSend a time like 7:30 PM.",
		Markup: tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Right Now", cbDepartNow),
		)),
	}
}

func askLocationShare() outgoing {
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButtonLocation("📍 Share Location"),
		tgbotapi.NewKeyboardButton(declineLocation),
	))
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return outgoing{Text: "📍 Share your location and I'll find vibes closer to you.", Markup: kb}
}

func (r renderer) finalPlan(v wizard.View) outgoing {
	doc := plantext.Parse(v.FinalPlan)
	parts := make([]string, 0, len(doc.Options))
	for _, b := range doc.Options {
		parts = append(parts, formatBlock(b))
	}
	text := "🎉 <b>Your plan is set!</b>\n\n" + strings.Join(parts, "\n")

	rows := [][]tgbotapi.InlineKeyboardButton{ratingRow(v.SavedPlanID, nil)}
	if len(doc.Options) > 0 {
		chosen := doc.Options[0]
		links := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonURL("📅 Add to Calendar", plantext.CalendarURL(chosen, r.appName)),
		}
		if place, ok := chosen.Lookup("Location"); ok && place != "" {
			links = append(links, tgbotapi.NewInlineKeyboardButtonURL("🗺 Map It", plantext.MapURL(place, r.city)))
		}
		rows = append(rows, links)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✨ Plan Another", cbPlanAnother)))
	return outgoing{Text: truncate(text), Markup: tgbotapi.NewInlineKeyboardMarkup(rows...)}
}

func ratingRow(planID string, current *int) []tgbotapi.InlineKeyboardButton {
	row := make([]tgbotapi.InlineKeyboardButton, 0, 5)
	for n := 1; n <= 5; n++ {
		label := "☆"
		if current != nil && n <= *current {
			label = "⭐"
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, rateData(planID, n)))
	}
	return row
}

// formatBlock renders a plan block as Telegram HTML.
func formatBlock(b plantext.Block) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<b>%s</b>\n", html.EscapeString(b.Title()))
	for _, l := range b.Lines {
		fmt.Fprintf(&sb, "<i>%s</i>\n", html.EscapeString(l))
	}
	for _, f := range b.Fields {
		if f.Key == "Title" {
			continue
		}
		value := f.Value
		if value == "" {
			value = plantext.NotAvailable
		}
		fmt.Fprintf(&sb, "<b>%s:</b> %s\n", html.EscapeString(f.Key), html.EscapeString(value))
	}
	return truncate(sb.String())
}

func formatHistory(plans []history.SavedPlan) outgoing {
	if len(plans) == 0 {
		return outgoing{Text: "📚 No saved plans yet. Finish a plan and it will show up here."}
	}
	const limit = 10

	var sb strings.Builder
	sb.WriteString("📚 <b>Your Saved Plans</b>\n\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, p := range plans {
		if i == limit {
			fmt.Fprintf(&sb, "<i>…and %d more</i>\n", len(plans)-limit)
			break
		}
		title := planTitle(p.PlanContent)
		fmt.Fprintf(&sb, "%d. <b>%s</b> · %s", i+1, html.EscapeString(title), p.SavedAt.Format("2 Jan 2006"))
		if p.Rating != nil {
			fmt.Fprintf(&sb, " · %s", strings.Repeat("⭐", *p.Rating))
		}
		sb.WriteString("\n")
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d. %s", i+1, shorten(title, 40)), historyData(p.ID)),
		))
	}
	return outgoing{Text: sb.String(), Markup: tgbotapi.NewInlineKeyboardMarkup(rows...)}
}

func formatSavedPlan(p history.SavedPlan) outgoing {
	doc := plantext.Parse(p.PlanContent)
	parts := make([]string, 0, len(doc.Options))
	for _, b := range doc.Options {
		parts = append(parts, formatBlock(b))
	}
	text := fmt.Sprintf("🗂 <i>Saved %s</i>\n\n%s", p.SavedAt.Format("Mon 2 Jan 2006, 15:04"), strings.Join(parts, "\n"))
	return outgoing{
		Text:   truncate(text),
		Markup: tgbotapi.NewInlineKeyboardMarkup(ratingRow(p.ID, p.Rating)),
	}
}

func planTitle(content string) string {
	doc := plantext.Parse(content)
	if len(doc.Options) == 0 {
		return plantext.DefaultTitle
	}
	return doc.Options[0].Title()
}

func formatMetricsReport(usage []metrics.DailyUsage, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 <b>Usage &amp; Health Report</b>\n\n")

	sb.WriteString("🗓 <b>Recent LLM Activity</b>\n")
	if len(usage) == 0 {
		sb.WriteString("<i>No data yet</i>\n")
	}
	for _, d := range usage {
		fmt.Fprintf(&sb, "• <b>%s</b>: %d tokens (%d calls, %d failed)\n", d.Date, d.TotalPrompt+d.TotalCompletion, d.TotalExecution, d.Failures)
	}

	sb.WriteString("\n🧠 <b>System Health</b>\n")
	fmt.Fprintf(&sb, "• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB)
	fmt.Fprintf(&sb, "• Goroutines: %d\n", health.Goroutines)
	fmt.Fprintf(&sb, "• Chats: %d\n", health.Sessions)
	fmt.Fprintf(&sb, "• Uptime: %s\n", health.Uptime)
	fmt.Fprintf(&sb, "• Disk Data: %s\n", health.DataDiskSize)
	return sb.String()
}

func progressBar(fraction float64) string {
	const width = 8
	filled := min(max(int(fraction*width+0.5), 0), width)
	return strings.Repeat("▓", filled) + strings.Repeat("░", width-filled)
}

func formatCountdown(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

func formatPrice(t entitlement.Tier) string {
	if t.Currency == "GHS" {
		return "GH₵" + strconv.Itoa(t.Price)
	}
	return t.Currency + " " + strconv.Itoa(t.Price)
}

func formatValidity(d time.Duration) string {
	if d >= 72*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%d days", int(d.Hours())/24)
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	cut := maxMessageLen - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
