package memory

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/kalambet/pal/internal/profile"
)

// openTagRe matches an opening tag at the start of a line, allowing leading
// spaces or tabs.
var openTagRe = regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(UpdateOpenTag))

// closeTagRe matches a closing tag alone on its line.
var closeTagRe = regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(UpdateCloseTag) + `[ \t\r]*$`)

// Extract splits a model reply into the text shown to the user and the
// profile update the model asked to remember.
//
// Only the last opening tag counts, and the closing tag must sit on a line
// of its own. When no well-formed block is found the
// reply is returned unchanged with a nil update. A block holding an empty
// object is stripped but yields no update.
func Extract(reply string) (string, *profile.Profile) {
	locs := openTagRe.FindAllStringIndex(reply, -1)
	if len(locs) == 0 {
		return reply, nil
	}
	start := locs[len(locs)-1][0]
	innerStart := locs[len(locs)-1][1]

	loc := closeTagRe.FindStringIndex(reply[innerStart:])
	if loc == nil {
		return reply, nil
	}
	innerEnd := innerStart + loc[0]
	end := innerStart + loc[1]

	inner := stripCodeFence(strings.TrimSpace(reply[innerStart:innerEnd]))
	update, err := profile.ParseJSON([]byte(inner))
	if err != nil {
		slog.Debug("ignoring malformed memory update", "error", err)
		return reply, nil
	}

	clean := strings.TrimSpace(reply[:start] + reply[end:])
	if update.IsEmpty() {
		return clean, nil
	}
	return clean, update
}

// stripCodeFence removes a Markdown fence wrapping s, if any.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s
	}
	body := strings.TrimSpace(s[nl+1:])
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}
