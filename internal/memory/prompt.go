package memory

import (
	"fmt"
	"strings"

	"github.com/kalambet/pal/internal/profile"
)

// Delimiters shared by the prompt builder and the extractor.
const (
	ProfileOpenTag  = "[PROFILE]"
	ProfileCloseTag = "[/PROFILE]"
	UpdateOpenTag   = "[MEMORY_UPDATE]"
	UpdateCloseTag  = "[/MEMORY_UPDATE]"
)

const fallbackName = "the user"

const instructions = `You are the personal assistant of %s. Everything you know about %s is the profile below.

Rules:
- Answer only from the profile data. Do not guess or fabricate details.
- If the profile does not contain what is asked, say so explicitly.
- Keep answers short and direct.

Memory:
If the user shares new or changed personal information in their message, append this block at the very end of your reply:
%s
{"snake_case_key": "value"}
%s
Include only new or changed fields, as a flat JSON object with snake_case keys. If nothing new was shared, omit the block entirely.`

// BuildSystemPrompt renders the system message for a chat turn over p.
func BuildSystemPrompt(p *profile.Profile) string {
	name := strings.TrimSpace(p.GetString("name"))
	if name == "" {
		name = fallbackName
	}

	body, err := p.Indent()
	if err != nil {
		// Values come from decoded JSON or YAML, so this only happens for
		// programmatically built profiles.
		body = []byte("{}\n")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, instructions, name, name, UpdateOpenTag, UpdateCloseTag)
	sb.WriteString("\n\n")
	sb.WriteString(ProfileOpenTag)
	sb.WriteByte('\n')
	sb.Write(body)
	sb.WriteString(ProfileCloseTag)
	return sb.String()
}
