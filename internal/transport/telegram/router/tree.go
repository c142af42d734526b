package router

import (
	"sort"
	"strings"
)

// cmdNode is one level of the command tree. Leaves carry a Command;
// inner nodes group subcommands ("brief" over "brief morning").
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	route = strings.TrimSpace(route)
	if route == "" {
		return nil
	}
	return strings.Fields(route)
}

func (n *cmdNode) add(route []string, c Command) {
	cur := n
	for _, tok := range route {
		child, ok := cur.children[tok]
		if !ok {
			child = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = child
		}
		cur = child
	}
	cur.cmd = &c
}

func (n *cmdNode) find(path []string) *cmdNode {
	cur := n
	for _, tok := range path {
		child, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[name]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// tokenize splits a command line into tokens, honoring single and double
// quotes so `/brief "pre market"` stays one argument.
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseArgs separates positionals from --key=value / --key value / --flag
// style options.
func parseArgs(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "--") || len(a) == 2 {
			pos = append(pos, a)
			continue
		}
		key := strings.TrimPrefix(a, "--")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			flags[key[:eq]] = key[eq+1:]
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			flags[key] = args[i+1]
			i++
			continue
		}
		bools[key] = true
	}
	return pos, flags, bools
}
