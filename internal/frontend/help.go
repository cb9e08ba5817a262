package frontend

import (
	"html"
	"strings"
)

// helpText renders the command list in HTML parse mode. Owner commands are
// listed only for owners.
func helpText(cmds []Command, owner bool) string {
	lines := []string{"📚 <b>Commands</b>", ""}
	var admin []string
	for _, c := range cmds {
		line := "/" + html.EscapeString(c.Name)
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		if c.Usage != "" {
			line += "\n   <code>" + html.EscapeString(c.Usage) + "</code>"
		}
		if c.Access == AccessOwnerOnly {
			admin = append(admin, line)
			continue
		}
		lines = append(lines, line)
	}
	if owner && len(admin) > 0 {
		lines = append(lines, "", "🔒 <b>Admin</b>")
		lines = append(lines, admin...)
	}
	lines = append(lines, "", "Times are 24-hour UTC.")
	return strings.Join(lines, "\n")
}
