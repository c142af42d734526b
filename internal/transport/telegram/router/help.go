package router

import (
	"sort"
	"strings"

	"gexbot/pkg/chatfmt"
)

// helpText renders HTML help for the whole registry or one route.
func (r *Router) helpText(path []string) string {
	r.mu.RLock()
	root, alias := r.root, r.alias
	r.mu.RUnlock()

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok2 := alias[p]; ok2 && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ " + chatfmt.B("Unknown command").String() + "\nTry " + chatfmt.Code("/help").String() + "."
		}
		cur = n
		full = append(full, p)
	}

	if len(full) == 0 {
		return helpTop(root)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	type row struct {
		name string
		desc string
		lock bool
	}
	rows := make([]row, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, row{name: name, desc: nodeDesc(n), lock: nodeOwnerOnly(n)})
	}
	// Public commands first, owner-only at the bottom.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{
		"\U0001f4da " + chatfmt.B("Commands").String(),
		"Use " + chatfmt.Code("/help <command>").String() + " for details.",
		"",
	}
	for _, rw := range rows {
		prefix := "• "
		if rw.lock {
			prefix = "• \U0001f512 "
		}
		line := prefix + chatfmt.Code("/"+rw.name).String()
		if rw.desc != "" {
			line += " " + chatfmt.Esc(rw.desc).String()
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func helpNode(n *cmdNode, full []string) string {
	title := "/" + strings.Join(full, " ")
	lines := []string{"\U0001f4da " + chatfmt.B("Help").String() + " " + chatfmt.Code(title).String()}

	if n.cmd != nil {
		c := n.cmd
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, chatfmt.Esc(d).String())
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "\U0001f512 "+chatfmt.I("owner only").String())
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", chatfmt.B("Usage").String(), chatfmt.Code(u).String())
		}
	} else {
		lines = append(lines, chatfmt.I("command group").String())
	}

	if len(n.children) > 0 {
		lines = append(lines, "", chatfmt.B("Subcommands").String())
		for _, name := range n.childNames() {
			child, _ := n.child(name)
			line := "• " + chatfmt.Code(title+" "+name).String()
			if d := nodeDesc(child); d != "" {
				line += " " + chatfmt.Esc(d).String()
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func nodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	if kids := n.childNames(); len(kids) > 0 {
		return strings.Join(kids, " | ")
	}
	return ""
}

// nodeOwnerOnly reports whether every command under the node is gated.
func nodeOwnerOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, child := range n.children {
		if !nodeOwnerOnly(child) {
			return false
		}
	}
	return len(n.children) > 0
}
