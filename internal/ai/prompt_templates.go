package ai

import (
	"fmt"
	"strings"

	"github.com/bilgisen/chanpost/internal/models"
)

// SourceStyle holds the per-source pieces shared by the prompt and the
// fallback post.
type SourceStyle struct {
	Glyph     string // leading glyph of a fallback post
	LinkGlyph string // glyph in front of the trailing link
	LinkLabel string
	Subject   string
	Focus     string
	Tone      string
}

var sourceStyles = map[models.SourceTag]SourceStyle{
	models.SourceGitHub: {
		Glyph:     "🚀",
		LinkGlyph: "🔗",
		LinkLabel: "View on GitHub",
		Subject:   "a GitHub project",
		Focus:     "Briefly describe what the project does (2-3 sentences) and highlight its key features",
		Tone:      "Be energetic and positive!",
	},
	models.SourceHabr: {
		Glyph:     "📖",
		LinkGlyph: "📖",
		LinkLabel: "Read on Habr",
		Subject:   "a Habr article",
		Focus:     "Briefly retell the main idea of the article (2-3 sentences) and highlight its key points",
		Tone:      "Be informative and engaging!",
	},
}

var defaultStyle = SourceStyle{
	Glyph:     "📌",
	LinkGlyph: "🔗",
	LinkLabel: "Read more",
	Subject:   "a post",
	Focus:     "Briefly summarise it in 2-3 sentences",
	Tone:      "Be clear and friendly!",
}

// StyleFor returns the style of source and whether the source is known.
func StyleFor(source models.SourceTag) (SourceStyle, bool) {
	s, ok := sourceStyles[source]
	if !ok {
		return defaultStyle, false
	}
	return s, true
}

var PromptTemplates = struct {
	ChannelPost string
}{
	ChannelPost: `Write an engaging Telegram channel post about %s.

Title: %s
Description: %s
Link: %s

Requirements:
1. Use lively, engaging language
2. Add 2-3 relevant emoji at the start and through the text
3. %s
4. Use Markdown formatting: **bold**, *italic*, ` + "`code`" + `
5. End with a call to action
6. Total length: 150-250 words
7. Finish with the link: %s [%s](%s)

Write in %s. %s`,
}

// PromptFor builds the rewrite prompt for item. The second result is false
// when the source has no dedicated template.
func PromptFor(item models.ContentItem, language string) (string, bool) {
	style, ok := StyleFor(item.Source)
	if !ok {
		return "", false
	}
	url := escapeForPrompt(item.Identifier)
	return fmt.Sprintf(PromptTemplates.ChannelPost,
		style.Subject,
		escapeForPrompt(item.Title),
		escapeForPrompt(item.Description),
		url,
		style.Focus,
		style.LinkGlyph, style.LinkLabel, url,
		language,
		style.Tone,
	), true
}

// escapeForPrompt flattens whitespace so item fields cannot break the
// template layout
func escapeForPrompt(s string) string {
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}
