// Package format converts rewritten text into Telegram MarkdownV2.
//
// Format must be applied exactly once to freshly generated text. It is not
// idempotent: running it over its own output double-escapes.
package format

import (
	"strings"
)

// ReservedChars are escaped by the escape phase of Format.
const ReservedChars = "_[]()~>#+-=|{}.!"

// LiteralChars are escaped by EscapeLiteral. Raw literals carry no intended
// emphasis, so the emphasis delimiters are reserved as well.
const LiteralChars = ReservedChars + "*`"

// ellipsis marks a TruncateWords cut.
const ellipsis = "..."

// Placeholder tokens used between the protect and restore phases. They must not
// contain any character from LiteralChars.
const (
	tokenBoldOpen    = "⟪BOLDO⟫"
	tokenBoldClose   = "⟪BOLDC⟫"
	tokenItalicOpen  = "⟪ITALO⟫"
	tokenItalicClose = "⟪ITALC⟫"
	tokenCodeOpen    = "⟪CODEO⟫"
	tokenCodeClose   = "⟪CODEC⟫"
	tokenStar        = "⟪STAR⟫"
	tokenTick        = "⟪TICK⟫"
)

type delimiter struct {
	source   string
	open     string
	close    string
	unpaired string // emitted for a trailing occurrence with no partner
}

// Order matters: "**" has to be claimed before "*".
var delimiters = []delimiter{
	{source: "**", open: tokenBoldOpen, close: tokenBoldClose, unpaired: tokenStar + tokenStar},
	{source: "*", open: tokenItalicOpen, close: tokenItalicClose, unpaired: tokenStar},
	{source: "`", open: tokenCodeOpen, close: tokenCodeClose, unpaired: tokenTick},
}

var restorer = strings.NewReplacer(
	tokenBoldOpen, "*",
	tokenBoldClose, "*",
	tokenItalicOpen, "_",
	tokenItalicClose, "_",
	tokenCodeOpen, "`",
	tokenCodeClose, "`",
	tokenStar, `\*`,
	tokenTick, "\\`",
)

// Format turns informal markdown (**bold**, *italic*, `code`) into MarkdownV2.
// It runs three phases in a fixed order: protect, escape, restore.
func Format(text string) string {
	protected := protect(text)
	escaped := escape(protected, ReservedChars)
	return restorer.Replace(escaped)
}

// EscapeLiteral escapes a raw string (title, description, URL) for MarkdownV2.
func EscapeLiteral(s string) string {
	return escape(s, LiteralChars)
}

func protect(text string) string {
	for _, d := range delimiters {
		text = protectDelimiter(text, d)
	}
	return text
}

// protectDelimiter pairs occurrences left to right: odd ones open, even ones
// close. A final unpaired occurrence becomes an escaped literal.
func protectDelimiter(text string, d delimiter) string {
	parts := strings.Split(text, d.source)
	occurrences := len(parts) - 1
	if occurrences == 0 {
		return text
	}
	paired := occurrences - occurrences%2

	var b strings.Builder
	b.Grow(len(text) + occurrences*len(d.open))
	for i, part := range parts {
		b.WriteString(part)
		if i == occurrences {
			break
		}
		switch {
		case i >= paired:
			b.WriteString(d.unpaired)
		case i%2 == 0:
			b.WriteString(d.open)
		default:
			b.WriteString(d.close)
		}
	}
	return b.String()
}

func escape(s, reserved string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for _, r := range s {
		if r < 128 && strings.ContainsRune(reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// TruncateWords caps s at max runes, suffix included, without cutting a word
// in half. A "..." suffix marks the cut. Text without any space is cut hard.
func TruncateWords(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	keep := max - len(ellipsis)
	if keep <= 0 {
		return string(runes[:max])
	}
	cut := string(runes[:keep])
	if runes[keep] != ' ' {
		if i := strings.LastIndex(cut, " "); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.TrimRight(cut, " ") + ellipsis
}
