// Package knowledge answers off-topic questions from admin-maintained
// knowledge entries, optionally through a language model.
package knowledge

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bookingagent/internal/booking"
	"bookingagent/internal/database"
)

// ErrNoAnswer is returned when nothing in the knowledge base fits the question.
var ErrNoAnswer = errors.New("no answer")

// Query is a digression the agent could not map to the booking flow.
type Query struct {
	Question string
	Language booking.Language
	Stage    string
	History  []booking.Message
}

// Answerer answers a digression.
type Answerer interface {
	Answer(ctx context.Context, q Query) (string, error)
}

// Generator completes a prompt with a language model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EntrySource lists the active entries for a language.
type EntrySource interface {
	ActiveEntries(ctx context.Context, lang string) ([]database.KnowledgeEntry, error)
}

// Service answers from the knowledge entries. With a Generator the entries
// become the model's context; without one the best matching entry is
// returned as is.
type Service struct {
	entries  EntrySource
	gen      Generator
	logger   *zerolog.Logger
	redis    *redis.Client
	cacheTTL time.Duration
}

// NewService creates a knowledge service. gen may be nil.
func NewService(entries EntrySource, gen Generator, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{entries: entries, gen: gen, logger: logger}
}

// UseRedisCache caches answers per language and question for ttl.
func (s *Service) UseRedisCache(client *redis.Client, ttl time.Duration) {
	s.redis = client
	s.cacheTTL = ttl
}

// Answer implements Answerer.
func (s *Service) Answer(ctx context.Context, q Query) (string, error) {
	question := strings.TrimSpace(q.Question)
	if question == "" {
		return "", ErrNoAnswer
	}

	key := cacheKey(q.Language, question)
	var cached string
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	entries, err := s.loadEntries(ctx, q.Language)
	if err != nil {
		return "", err
	}

	var answer string
	if s.gen != nil {
		raw, err := s.gen.Generate(ctx, buildPrompt(q, entries))
		if err != nil {
			return "", fmt.Errorf("generate answer: %w", err)
		}
		answer = cleanAnswer(raw)
	} else {
		answer = bestMatch(question, entries)
	}
	if answer == "" {
		return "", ErrNoAnswer
	}

	s.writeCache(ctx, key, answer)
	s.logger.Debug().Str("lang", string(q.Language)).Int("entries", len(entries)).Msg("Knowledge answer")
	return answer, nil
}

// loadEntries returns the entries for lang, or the English ones when lang has none.
func (s *Service) loadEntries(ctx context.Context, lang booking.Language) ([]database.KnowledgeEntry, error) {
	if s.entries == nil {
		return nil, nil
	}
	entries, err := s.entries.ActiveEntries(ctx, string(lang))
	if err != nil {
		return nil, fmt.Errorf("load knowledge entries: %w", err)
	}
	if len(entries) == 0 && lang != booking.LangEnglish {
		return s.loadEntries(ctx, booking.LangEnglish)
	}
	return entries, nil
}

func cacheKey(lang booking.Language, question string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.Join(strings.Fields(question), " "))))
	return "agent:kb:" + string(lang) + ":" + hex.EncodeToString(sum[:])
}

func (s *Service) readCache(ctx context.Context, key string, dest any) bool {
	if s.redis == nil || s.cacheTTL <= 0 {
		return false
	}
	val, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), dest) == nil
}

func (s *Service) writeCache(ctx context.Context, key string, value any) {
	if s.redis == nil || s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.redis.Set(ctx, key, data, s.cacheTTL).Err()
}

var languageInstructions = map[booking.Language]string{
	booking.LangEnglish: "Answer in English.",
	booking.LangHindi:   "Answer in Hindi (Devanagari script).",
	booking.LangNepali:  "Answer in Nepali (Devanagari script).",
	booking.LangMarathi: "Answer in Marathi (Devanagari script).",
}

func buildPrompt(q Query, entries []database.KnowledgeEntry) string {
	instr, ok := languageInstructions[q.Language]
	if !ok {
		instr = languageInstructions[booking.LangEnglish]
	}

	var b strings.Builder
	b.WriteString("You are a helpful assistant for Chirag Sharma's makeup artist booking service.\n")
	b.WriteString(instr)
	b.WriteString(" Keep the answer to 2-3 short sentences.\n")

	if len(entries) > 0 {
		b.WriteString("\nKNOWLEDGE BASE:\n")
		for i, e := range entries {
			if i > 0 {
				b.WriteString("\n---\n")
			}
			if e.Category != "" {
				fmt.Fprintf(&b, "[%s]\n", e.Category)
			}
			b.WriteString(e.Content)
		}
		b.WriteString("\n")
	}
	if q.Stage != "" {
		fmt.Fprintf(&b, "\nCONTEXT: the customer is in the %s step of a booking.\n", q.Stage)
	}
	if len(q.History) > 0 {
		b.WriteString("\nRECENT CONVERSATION:\n")
		for _, m := range q.History {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text)
		}
	}
	fmt.Fprintf(&b, "\nQUESTION: %s\n", q.Question)
	return b.String()
}

var unwantedPrefixes = []string{
	"according to the knowledge base",
	"based on the information",
	"as per the knowledge base",
	"the knowledge base states",
	"from the knowledge base",
	"according to",
	"based on",
}

func cleanAnswer(answer string) string {
	answer = strings.TrimSpace(answer)
	lower := strings.ToLower(answer)
	for _, p := range unwantedPrefixes {
		if strings.HasPrefix(lower, p) {
			answer = strings.TrimLeft(strings.TrimSpace(answer[len(p):]), ",:")
			answer = strings.TrimSpace(answer)
			if answer != "" {
				r := []rune(answer)
				r[0] = unicode.ToUpper(r[0])
				answer = string(r)
			}
			break
		}
	}
	return answer
}

func words(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) > 2 && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "you": true, "your": true, "what": true, "how": true,
	"are": true, "can": true, "does": true, "for": true, "have": true, "with": true,
	"this": true, "that": true, "there": true, "any": true,
}

// bestMatch returns the content of the entry sharing the most words with
// the question. Title words count double.
func bestMatch(question string, entries []database.KnowledgeEntry) string {
	q := words(question)
	type scored struct {
		score int
		e     database.KnowledgeEntry
	}
	var best []scored
	for _, e := range entries {
		score := 0
		for w := range words(e.Title) {
			if q[w] {
				score += 2
			}
		}
		for w := range words(e.Content) {
			if q[w] {
				score++
			}
		}
		if score > 0 {
			best = append(best, scored{score, e})
		}
	}
	if len(best) == 0 {
		return ""
	}
	sort.SliceStable(best, func(i, j int) bool { return best[i].score > best[j].score })
	return best[0].e.Content
}
