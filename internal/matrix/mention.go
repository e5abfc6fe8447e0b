package matrix

import "strings"

// Identity holds the names the bot answers to.
type Identity struct {
	UserID      string
	DisplayName string
}

// Localpart returns the user ID without the leading '@' and the server.
func (id Identity) Localpart() string {
	local, _, _ := strings.Cut(strings.TrimPrefix(id.UserID, "@"), ":")
	return local
}

func (id Identity) names() []string {
	var out []string
	for _, n := range []string{id.DisplayName, id.Localpart(), id.UserID} {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// ParseMention reports whether body starts by addressing the bot by
// display name, localpart or user ID, compared case-insensitively. The
// name must be followed by a space, ':', ',', tab, newline or the end of
// the body. The returned task has the name and one leading ':' or ','
// removed. A body consisting of the name alone yields "!help".
//
// A mention followed only by punctuation ("bot:") is not addressed.
func ParseMention(body string, id Identity) (task string, addressed bool) {
	for _, name := range id.names() {
		if len(body) < len(name) || !strings.EqualFold(body[:len(name)], name) {
			continue
		}
		rest := body[len(name):]
		if rest == "" {
			return "!help", true
		}
		switch rest[0] {
		case ' ', ':', ',', '\t', '\n':
		default:
			continue
		}
		task = strings.TrimSpace(rest)
		if strings.HasPrefix(task, ":") || strings.HasPrefix(task, ",") {
			task = strings.TrimSpace(task[1:])
		}
		if task != "" {
			return task, true
		}
	}
	return "", false
}

// Route decides whether body from a room reaches the command router
// and, if so, with what text. Commands pass through unchanged.
func Route(body string, id Identity) (string, bool) {
	if task, ok := ParseMention(body, id); ok {
		return task, true
	}
	if strings.HasPrefix(body, "!") {
		return body, true
	}
	return "", false
}
