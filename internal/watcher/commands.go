package watcher

import (
	"fmt"
	"strings"

	"intraday_trader/internal/exits"
	"intraday_trader/internal/logger"
)

type CommandDoc struct {
	Name        string
	Description string
}

var commandDocs = []CommandDoc{
	{"info", "Balance, buy switch and open positions"},
	{"stop", "Pause new buys (exits keep running)"},
	{"start", "Resume new buys"},
	{"sell", "Emergency: sell every open position now"},
	{"ping", "Connectivity check"},
	{"help", "This list"},
}

// HandleCommand answers one operator message. Commands work with or without
// a leading slash and ignore a trailing @botname.
func (w *Watcher) HandleCommand(text string) string {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return ""
	}
	cmd := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	logger.Infof("Command received: %s", cmd)

	switch cmd {
	case "ping":
		return "Pong 🏓"
	case "help":
		return w.getHelp()
	case "info", "status":
		return w.StatusReport()
	case "stop":
		w.Pause()
		return "🛑 Buying paused. Open positions are still monitored."
	case "start":
		w.Resume()
		return "✅ Buying resumed."
	case "sell":
		return w.handleSellCommand()
	default:
		return "Unknown command. Try info, stop, start, sell or help."
	}
}

func (w *Watcher) getHelp() string {
	var sb strings.Builder
	sb.WriteString("🤖 COMMANDS\n\n")
	for _, c := range commandDocs {
		sb.WriteString(fmt.Sprintf("• %s: %s\n", c.Name, c.Description))
	}
	return sb.String()
}

func (w *Watcher) handleSellCommand() string {
	n := len(w.Positions())
	if n == 0 {
		return "Nothing to sell."
	}
	w.notifier.Notify(fmt.Sprintf("🚨 Emergency sell of %d positions started", n))
	sold, err := w.LiquidateAll(exits.Reason{Kind: exits.Manual, Note: "remote emergency sell"})
	if err != nil {
		return fmt.Sprintf("⚠️ Emergency sell: %d of %d sold. Errors:\n%v", sold, n, err)
	}
	return fmt.Sprintf("✅ Emergency sell complete: %d sold.", sold)
}
