package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"uptimebot/internal/storage"
	logx "uptimebot/pkg/logx"
)

const historyLimit = 10

// Audit action names.
const (
	ActionAddTarget    = "add_target"
	ActionRemoveTarget = "remove_target"
	ActionSetInterval  = "set_interval"
	ActionSetAlerts    = "set_alerts"
	ActionAddSub       = "add_subscription"
	ActionRemoveSub    = "remove_subscription"
)

func (r *Router) builtin() []Command {
	return []Command{
		{Name: "start", Description: "Welcome message", Access: AccessEveryone, Menu: true, Handle: r.handleStart},
		{Name: "whoami", Description: "Show your chat ID", Access: AccessEveryone, Menu: true, Handle: r.handleWhoami},
		{Name: "help", Description: "Show help", Access: AccessEveryone, Menu: true, Handle: r.handleHelp},
		{Name: "status", Description: "View your monitored targets", Access: AccessSubscriber, Menu: true, Handle: r.handleStatus},
		{Name: "history", Description: "Recent check history", Access: AccessSubscriber, Menu: true, Handle: r.handleHistory},
		{Name: "addtarget", Description: "Add target", Usage: "<name> <ip> <port>", Access: AccessSubscriber, Menu: true, Handle: r.handleAddTarget},
		{Name: "removetarget", Description: "Remove target", Usage: "<name>", Access: AccessSubscriber, Menu: true, Handle: r.handleRemoveTarget},
		{Name: "setinterval", Description: "Set check interval", Usage: "<seconds>", Access: AccessSubscriber, Menu: true, Handle: r.handleSetInterval},
		{Name: "alerts", Description: "Turn alerts on or off", Usage: "<on|off>", Access: AccessSubscriber, Menu: true, Handle: r.handleAlerts},
		{Name: "addsub", Description: "Add subscription", Usage: "<chat_id>", Access: AccessAdmin, Handle: r.handleAddSub},
		{Name: "rmsub", Description: "Remove subscription", Usage: "<chat_id>", Access: AccessAdmin, Handle: r.handleRemoveSub},
		{Name: "stats", Description: "Bot statistics", Access: AccessAdmin, Handle: r.handleStats},
	}
}

func (r *Router) handleStart(ctx context.Context, req *Request) error {
	r.reply(ctx, req, "👋 Welcome to UltraGiga Monitor Bot!\n\n"+
		"This bot monitors your servers and alerts you when issues are detected.\n\n"+
		"ℹ️ Note: This bot requires admin approval to use.\n"+
		"Use /whoami to get your chat_id and ask an admin to add you.\n\n"+
		"Available commands:\n"+
		"/whoami - Show your chat ID\n"+
		"/status - View your monitored targets\n"+
		"/help - Show help message")
	return nil
}

func yesNo(b bool) string {
	if b {
		return "✅ Yes"
	}
	return "❌ No"
}

func (r *Router) handleWhoami(ctx context.Context, req *Request) error {
	subbed, err := r.deps.Store.IsSubscribed(ctx, req.ChatID)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("📋 Your Information:\n")
	fmt.Fprintf(&b, "Chat ID: %d\n", req.ChatID)
	fmt.Fprintf(&b, "User ID: %d\n", req.FromID)
	fmt.Fprintf(&b, "Subscribed: %s\n", yesNo(subbed))
	fmt.Fprintf(&b, "Admin: %s\n", yesNo(r.deps.IsAdmin(req.FromID)))
	if !subbed {
		b.WriteString("\nTo subscribe, ask an admin to add your chat_id.")
	}
	r.reply(ctx, req, b.String())
	return nil
}

// handleHelp lists only the sections the caller can use.
func (r *Router) handleHelp(ctx context.Context, req *Request) error {
	subbed, err := r.deps.Store.IsSubscribed(ctx, req.ChatID)
	if err != nil {
		return err
	}
	admin := r.deps.IsAdmin(req.FromID)

	section := map[Access][]Command{}
	for _, c := range r.sorted() {
		section[c.Access] = append(section[c.Access], c)
	}
	var b strings.Builder
	b.WriteString("📚 Available Commands:\n")
	write := func(title string, cmds []Command) {
		fmt.Fprintf(&b, "\n🔹 %s:\n", title)
		for _, c := range cmds {
			b.WriteString("/" + c.Name)
			if c.Usage != "" {
				b.WriteString(" " + c.Usage)
			}
			b.WriteString(" - " + c.Description + "\n")
		}
	}
	write("Basic", section[AccessEveryone])
	if subbed {
		write("Monitoring", section[AccessSubscriber])
	}
	if admin {
		write("Admin", section[AccessAdmin])
	}
	r.reply(ctx, req, b.String())
	return nil
}

func (r *Router) handleStatus(ctx context.Context, req *Request) error {
	c, err := r.deps.Store.GetCustomerByChat(ctx, req.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		r.reply(ctx, req, "No monitoring configuration found.\nAsk an admin to configure targets for your account.")
		return nil
	}
	if err != nil {
		return err
	}

	alerts := "❌ Disabled"
	if c.AlertsEnabled {
		alerts = "✅ Enabled"
	}
	var b strings.Builder
	b.WriteString("📊 Monitoring Status\n\n")
	fmt.Fprintf(&b, "Alerts: %s\n", alerts)
	fmt.Fprintf(&b, "Check Interval: %ds\n", c.IntervalSeconds)
	fmt.Fprintf(&b, "Failure Threshold: %d\n\n", c.FailureThreshold)
	if len(c.Targets) == 0 {
		b.WriteString("No targets configured.")
	} else {
		fmt.Fprintf(&b, "Targets (%d):\n", len(c.Targets))
		for _, t := range c.Targets {
			icon := "✅"
			if !t.Enabled {
				icon = "❌"
			}
			fmt.Fprintf(&b, "%s %s: %s:%d", icon, t.Name, t.IP, t.Port)
			if t.ConsecutiveFailures > 0 {
				fmt.Fprintf(&b, " (%d failures)", t.ConsecutiveFailures)
			}
			b.WriteByte('\n')
		}
	}
	r.reply(ctx, req, b.String())
	return nil
}

func (r *Router) handleHistory(ctx context.Context, req *Request) error {
	entries, err := r.deps.Store.RecentHistory(ctx, req.ChatID, historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		r.reply(ctx, req, "No history available.")
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📜 Recent History (last %d checks):\n\n", historyLimit)
	for _, h := range entries {
		icon := "❌"
		if h.Status == storage.StatusSuccess {
			icon = "✅"
		}
		fmt.Fprintf(&b, "%s %s - %s\n", icon, h.TargetName, h.At.In(r.deps.Location).Format("2006-01-02 15:04:05"))
		if h.Error != "" {
			fmt.Fprintf(&b, "   Error: %s\n", h.Error)
		}
		fmt.Fprintf(&b, "   Response: %.3fs\n\n", h.ResponseTime)
	}
	r.reply(ctx, req, b.String())
	return nil
}

func (r *Router) handleAddTarget(ctx context.Context, req *Request) error {
	if len(req.Args) != 3 {
		r.reply(ctx, req, "Usage: /addtarget <name> <ip> <port>\nExample: /addtarget MyServer 192.168.1.100 9876")
		return nil
	}
	a, reason := parseAddTarget(req.Args)
	if reason != "" {
		r.reply(ctx, req, reason)
		return nil
	}
	c, err := r.deps.Store.EnsureCustomer(ctx, req.ChatID)
	if err != nil {
		return err
	}
	if _, err := r.deps.Store.UpsertTarget(ctx, c.ID, a.Name, a.IP, a.Port); err != nil {
		return err
	}
	r.audit(ctx, req.ChatID, ActionAddTarget, fmt.Sprintf("%s %s:%d", a.Name, a.IP, a.Port))
	r.reply(ctx, req, fmt.Sprintf("✅ Added target: %s (%s:%d)", a.Name, a.IP, a.Port))
	return nil
}

func (r *Router) handleRemoveTarget(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req, "Usage: /removetarget <name>")
		return nil
	}
	name := req.Args[0]
	c, err := r.deps.Store.GetCustomerByChat(ctx, req.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		r.reply(ctx, req, "No configuration found.")
		return nil
	}
	if err != nil {
		return err
	}
	removed, err := r.deps.Store.RemoveTarget(ctx, c.ID, name)
	if err != nil {
		return err
	}
	if !removed {
		r.reply(ctx, req, "Target not found: "+name)
		return nil
	}
	r.audit(ctx, req.ChatID, ActionRemoveTarget, name)
	r.reply(ctx, req, "✅ Removed target: "+name)
	return nil
}

func (r *Router) handleSetInterval(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req, "Usage: /setinterval <seconds>")
		return nil
	}
	seconds, err := strconv.Atoi(req.Args[0])
	if err != nil {
		r.reply(ctx, req, "Interval must be a number")
		return nil
	}
	minSec := int(r.deps.MinInterval().Seconds())
	if checkInterval(seconds, minSec) != nil {
		r.reply(ctx, req, fmt.Sprintf("Interval too low. Minimum: %ds", minSec))
		return nil
	}
	if _, err := r.deps.Store.EnsureCustomer(ctx, req.ChatID); err != nil {
		return err
	}
	got, err := r.deps.Store.UpdateCustomerInterval(ctx, req.ChatID, seconds)
	if err != nil {
		return err
	}
	r.audit(ctx, req.ChatID, ActionSetInterval, strconv.Itoa(got))
	r.reply(ctx, req, fmt.Sprintf("✅ Check interval set to %ds", got))
	return nil
}

func (r *Router) handleAlerts(ctx context.Context, req *Request) error {
	var enabled bool
	switch strings.ToLower(strings.Join(req.Args, " ")) {
	case "on":
		enabled = true
	case "off":
	default:
		r.reply(ctx, req, "Usage: /alerts <on|off>")
		return nil
	}
	if _, err := r.deps.Store.EnsureCustomer(ctx, req.ChatID); err != nil {
		return err
	}
	if err := r.deps.Store.SetAlertsEnabled(ctx, req.ChatID, enabled); err != nil {
		return err
	}
	state := "off"
	if enabled {
		state = "on"
	}
	r.audit(ctx, req.ChatID, ActionSetAlerts, state)
	if enabled {
		r.reply(ctx, req, "🔔 Alerts enabled")
	} else {
		r.reply(ctx, req, "🔕 Alerts disabled. Checks pause until you run /alerts on")
	}
	return nil
}

func parseChatID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	return id, err == nil
}

func (r *Router) handleAddSub(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req, "Usage: /addsub <chat_id>")
		return nil
	}
	chatID, ok := parseChatID(req.Args)
	if !ok {
		r.reply(ctx, req, "❌ Invalid chat_id. Must be an integer.")
		return nil
	}
	if err := r.deps.Store.AddSubscription(ctx, chatID); err != nil {
		return err
	}
	r.audit(ctx, req.FromID, ActionAddSub, fmt.Sprintf("Added %d", chatID))
	r.log.Info("subscription added", logx.Int64("admin", req.FromID), logx.Int64("chat_id", chatID))
	r.reply(ctx, req, fmt.Sprintf("✅ Added subscription for chat_id: %d", chatID))
	return nil
}

func (r *Router) handleRemoveSub(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		r.reply(ctx, req, "Usage: /rmsub <chat_id>")
		return nil
	}
	chatID, ok := parseChatID(req.Args)
	if !ok {
		r.reply(ctx, req, "❌ Invalid chat_id. Must be an integer.")
		return nil
	}
	if _, err := r.deps.Store.RemoveSubscription(ctx, chatID); err != nil {
		return err
	}
	r.audit(ctx, req.FromID, ActionRemoveSub, fmt.Sprintf("Removed %d", chatID))
	r.log.Info("subscription removed", logx.Int64("admin", req.FromID), logx.Int64("chat_id", chatID))
	r.reply(ctx, req, fmt.Sprintf("✅ Removed subscription for chat_id: %d", chatID))
	return nil
}

func (r *Router) handleStats(ctx context.Context, req *Request) error {
	n, err := r.deps.Store.Counts(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("📊 Bot Statistics\n\n")
	fmt.Fprintf(&b, "Subscriptions: %d\n", n.Subscriptions)
	fmt.Fprintf(&b, "Customers: %d\n", n.Customers)
	fmt.Fprintf(&b, "Total Targets: %d\n", n.Targets)
	if r.deps.Queue != nil {
		st := r.deps.Queue.Stats()
		b.WriteString("\nQueue Status:\n")
		fmt.Fprintf(&b, "  Pending: %d\n", r.deps.Queue.Depth())
		fmt.Fprintf(&b, "  Sent: %d\n", st.Sent)
		fmt.Fprintf(&b, "  Failed: %d\n", st.Failed)
		fmt.Fprintf(&b, "  Dropped: %d\n", st.Dropped)
	}
	r.reply(ctx, req, b.String())
	return nil
}

// audit failures are logged; the user-visible change already happened.
func (r *Router) audit(ctx context.Context, actor int64, action, details string) {
	if err := r.deps.Store.Audit(ctx, actor, action, details); err != nil {
		r.log.Warn("audit write failed", logx.String("action", action), logx.Err(err))
	}
}
