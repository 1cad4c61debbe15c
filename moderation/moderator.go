// Package moderation masks blacklisted words in received chat messages before
// the console shows them. Only the displayed copy is altered: history and the
// wire always carry what the sender typed.
package moderation

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"lan-chat/domain/event"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Scope selects which conversations are moderated.
type Scope string

const (
	// ScopeAll moderates broadcasts and directed messages.
	ScopeAll Scope = "all"
	// ScopeBroadcast moderates the shared room only, private messages stay as sent.
	ScopeBroadcast Scope = "broadcast"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeBroadcast:
		return ScopeBroadcast, nil
	default:
		return "", fmt.Errorf("unknown moderation scope %q", s)
	}
}

// boundary separates words in the searchable text. Patterns are stripped of
// spaces, so a match cannot span two words, a link or a user name.
const boundary = ' '

type Moderator struct {
	matcher *goahocorasick.Machine
	mask    rune
	scope   Scope
	log     *slog.Logger
}

// searchable is the normalized text with, for each rune, its index in the original.
type searchable struct {
	runes  []rune
	origin []int
}

// NewModerator builds the Aho-Corasick automaton over the normalized words.
// Words made only of punctuation are skipped, they would match everywhere.
func NewModerator(words []string, mask rune, scope Scope, log *slog.Logger) (*Moderator, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		if normalized := normalizeWord(word); len(normalized) > 0 {
			patterns = append(patterns, normalized)
		}
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("failed to build moderation automaton: %w", err)
	}
	log.Debug("Moderator ready", "patterns", len(patterns), "scope", scope)
	return &Moderator{matcher: m, mask: mask, scope: scope, log: log}, nil
}

// Moderate returns the message as it should be displayed together with the
// blacklisted words found in it. The local user's own messages and, with
// ScopeBroadcast, directed messages are returned untouched. Sender and target
// are never altered; names lists peers whose name is kept intact wherever it
// appears in the content.
func (m *Moderator) Moderate(evt event.MessageReceived, names ...string) (event.MessageReceived, []string) {
	if evt.IsLocal || (m.scope == ScopeBroadcast && !evt.Broadcast) {
		return evt, nil
	}
	content, words := m.Censor(evt.Content, names...)
	if len(words) > 0 {
		m.log.Debug("Message censored", "id", evt.ID, "sender", evt.Sender, "words", len(words))
	}
	evt.Content = content
	return evt, words
}

// Censor masks every blacklisted word of text, keeping its length and spacing.
// Links and the given names are left as typed.
func (m *Moderator) Censor(text string, names ...string) (string, []string) {
	original := []rune(text)
	s := m.prepare(original, names)
	if len(s.runes) == 0 {
		return text, nil
	}
	spans := m.matcher.MultiPatternSearch(s.runes, false)
	if len(spans) == 0 {
		return text, nil
	}
	var words []string
	for _, span := range spans {
		end := span.Pos + len(span.Word)
		if span.Pos < 0 || end > len(s.origin) {
			continue
		}
		for i := s.origin[span.Pos]; i <= s.origin[end-1]; i++ {
			if !unicode.IsSpace(original[i]) {
				original[i] = m.mask
			}
		}
		words = append(words, string(span.Word))
	}
	return string(original), words
}

// prepare walks the whitespace separated tokens of text. Protected tokens
// become a boundary; others are lowered, leet-decoded and stripped of punctuation.
func (m *Moderator) prepare(text []rune, names []string) searchable {
	s := searchable{
		runes:  make([]rune, 0, len(text)),
		origin: make([]int, 0, len(text)),
	}
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if !protected(string(text[start:end]), names) {
			for i := start; i < end; i++ {
				if r := decode(text[i]); !isNoise(r) {
					s.runes = append(s.runes, r)
					s.origin = append(s.origin, i)
				}
			}
		}
		s.runes = append(s.runes, boundary)
		s.origin = append(s.origin, end-1)
		start = -1
	}
	for i, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case start < 0:
			start = i
		}
	}
	flush(len(text))
	return s
}

// protected reports whether a token is a link or a user name, possibly
// @-mentioned or followed by punctuation.
func protected(token string, names []string) bool {
	lower := strings.ToLower(token)
	if strings.Contains(lower, "://") || strings.HasPrefix(lower, "www.") || strings.HasPrefix(lower, "mailto:") {
		return true
	}
	bare := strings.TrimRightFunc(strings.TrimPrefix(token, "@"), unicode.IsPunct)
	for _, name := range names {
		if name != "" && bare == name {
			return true
		}
	}
	return false
}

func normalizeWord(word string) []rune {
	out := make([]rune, 0, len(word))
	for _, r := range word {
		if r = decode(r); !isNoise(r) && !unicode.IsSpace(r) {
			out = append(out, r)
		}
	}
	return out
}

// decode lowers r and maps common leet characters back to letters.
func decode(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return unicode.ToLower(r)
	}
}

func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
