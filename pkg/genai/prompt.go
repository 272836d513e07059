package genai

import (
	"fmt"
	"strings"
)

const (
	appName    = "LeadsRadar"
	defaultBio = "I help businesses grow."
)

// BuildPitchPrompt renders the copywriting instructions for one lead
func BuildPitchPrompt(req PitchRequest) string {
	bio := strings.TrimSpace(req.UserBio)
	if bio == "" {
		bio = defaultBio
	}
	tone := req.Tone
	if tone == "" {
		tone = "professional"
	}
	lead := req.LeadName
	if lead == "" {
		lead = "there"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert sales copywriter assistant for %q.\n", appName)
	b.WriteString("Your goal is to write a personalized Twitter DM pitch.\n\n")
	b.WriteString("CONTEXT:\n")
	fmt.Fprintf(&b, "- User's Service/Bio: %q\n", bio)
	fmt.Fprintf(&b, "- Lead: @%s\n", lead)
	fmt.Fprintf(&b, "- Lead's Tweet: %q\n", req.TweetText)
	b.WriteString("- Goal: Start a conversation to offer the user's service.\n\n")
	b.WriteString("INSTRUCTIONS:\n")
	fmt.Fprintf(&b, "- Tone: %s.\n", tone)
	b.WriteString("- Length: Keep it under 280 characters if possible, or max 2 brief sentences.\n")
	b.WriteString("- Personalization: Reference their tweet specifically.\n")
	b.WriteString("- Call to Action: Low friction question.\n")
	if tone == "friendly" {
		b.WriteString("- Formatting: Plain text, no hashtags. A single emoji is fine.\n")
	} else {
		b.WriteString("- Formatting: Plain text, no hashtags, no emojis.\n")
	}
	b.WriteString("\nDRAFT THE DM:\n")
	return b.String()
}
