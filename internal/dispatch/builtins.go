package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gdbrns/go-whatsapp-silva-bot/internal/plugin"
)

const builtinCategory = "general"

func (d *Dispatcher) builtinDescriptors() []*plugin.Descriptor {
	return []*plugin.Descriptor{
		{
			Name:        "menu",
			Names:       []string{"menu", "help"},
			Description: "List available commands",
			Category:    builtinCategory,
			Source:      "built-in",
			Handler:     plugin.HandlerFunc(d.menu),
		},
		{
			Name:        "ping",
			Names:       []string{"ping"},
			Description: "Check response time",
			Category:    builtinCategory,
			Source:      "built-in",
			Handler:     plugin.HandlerFunc(d.ping),
		},
		{
			Name:        "alive",
			Names:       []string{"alive", "uptime"},
			Description: "Show bot uptime",
			Category:    builtinCategory,
			Source:      "built-in",
			Handler:     plugin.HandlerFunc(d.alive),
		},
	}
}

// BuiltinNames lists the command tokens the dispatcher answers itself.
func BuiltinNames() []string {
	var names []string
	for _, desc := range (&Dispatcher{}).builtinDescriptors() {
		names = append(names, desc.Names...)
	}
	return names
}

func (d *Dispatcher) menu(ctx context.Context, c *plugin.Context) error {
	byCategory := make(map[string][]*plugin.Descriptor)
	for _, desc := range d.builtinList {
		byCategory[desc.Category] = append(byCategory[desc.Category], desc)
	}
	for _, desc := range d.registry.Descriptors() {
		byCategory[desc.Category] = append(byCategory[desc.Category], desc)
	}

	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", d.cfg.BotName)
	fmt.Fprintf(&b, "Prefix: %s\n", d.cfg.Prefix)
	for _, cat := range categories {
		fmt.Fprintf(&b, "\n*%s*\n", strings.ToUpper(cat))
		for _, desc := range byCategory[cat] {
			line := "• " + d.cfg.Prefix + desc.Name
			if desc.Description != "" {
				line += " - " + desc.Description
			}
			b.WriteString(line + "\n")
		}
	}

	_, err := c.Reply(ctx, strings.TrimRight(b.String(), "\n"))
	return err
}

func (d *Dispatcher) ping(ctx context.Context, c *plugin.Context) error {
	start := d.now()
	if c.Message != nil && !c.Message.Info.Timestamp.IsZero() && c.Message.Info.Timestamp.Before(start) {
		start = c.Message.Info.Timestamp
	}
	latency := d.now().Sub(start)
	_, err := c.Reply(ctx, fmt.Sprintf("🏓 Pong! %dms", latency.Milliseconds()))
	return err
}

func (d *Dispatcher) alive(ctx context.Context, c *plugin.Context) error {
	uptime := d.now().Sub(d.started).Truncate(time.Second)
	_, err := c.Reply(ctx, fmt.Sprintf("✅ %s is alive\n⏱ Uptime: %s", d.cfg.BotName, uptime))
	return err
}
