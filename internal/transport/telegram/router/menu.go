package router

import (
	"strings"

	kit "gexbot/internal/transport"
)

// sanitizeMenuName maps a route token onto Telegram's [a-z0-9_]{1,32}
// command-name alphabet.
func sanitizeMenuName(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == ' ' || r == '/':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func menuCommandName(route []string) (string, bool) {
	if len(route) == 0 {
		return "", false
	}
	out := sanitizeMenuName(strings.Join(route, "_"))
	return out, out != ""
}

// buildMenuCommands flattens the registry into the platform command menu:
// top-level entries first, then multi-token leaves as underscore aliases.
func buildMenuCommands(root *cmdNode) []kit.BotCommand {
	var out []kit.BotCommand
	seen := map[string]bool{}
	add := func(name, desc string) {
		name = sanitizeMenuName(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		desc := nodeDesc(n)
		if nodeOwnerOnly(n) {
			desc = "\U0001f512 " + desc
		}
		add(name, desc)
	}
	var walk func(n *cmdNode, path []string)
	walk = func(n *cmdNode, path []string) {
		if n.cmd != nil && len(path) > 1 {
			if menu, ok := menuCommandName(path); ok {
				desc := n.cmd.Description
				if n.cmd.Access == AccessOwnerOnly {
					desc = "\U0001f512 " + desc
				}
				add(menu, desc)
			}
		}
		for _, name := range n.childNames() {
			child, _ := n.child(name)
			next := append(append([]string(nil), path...), name)
			walk(child, next)
		}
	}
	walk(root, nil)

	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
