package knowledge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bookingagent/internal/database"
)

type seedEntry struct {
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
	Content  string `yaml:"content"`
	Language string `yaml:"language"`
}

// LoadSeed reads knowledge entries from a YAML list. An empty path returns
// DefaultEntries.
func LoadSeed(path string) ([]database.KnowledgeEntry, error) {
	if path == "" {
		return DefaultEntries(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []seedEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse knowledge seed %s: %w", path, err)
	}
	out := make([]database.KnowledgeEntry, 0, len(raw))
	for _, r := range raw {
		if r.Language == "" {
			r.Language = "en"
		}
		out = append(out, database.KnowledgeEntry{
			Title:    r.Title,
			Category: r.Category,
			Content:  r.Content,
			Language: r.Language,
			IsActive: true,
		})
	}
	return out, nil
}

// DefaultEntries is the knowledge base a fresh database starts with.
func DefaultEntries() []database.KnowledgeEntry {
	entry := func(title, category, content string) database.KnowledgeEntry {
		return database.KnowledgeEntry{Title: title, Category: category, Content: content, Language: "en", IsActive: true}
	}
	return []database.KnowledgeEntry{
		entry("Instagram and social media", "contact",
			"You can follow Chirag Sharma on Instagram at @chiragsharma_makeup for recent bridal and party looks."),
		entry("Service areas", "travel",
			"Chirag Sharma and team travel for events in India, Nepal, Pakistan, Bangladesh and Dubai."),
		entry("Products used", "services",
			"Only premium international brands are used, including HD and airbrush products for bridal makeup."),
		entry("Payment and advance", "pricing",
			"An advance confirms the date; the balance is paid on the event day. Prices are listed with each package."),
		entry("Trial makeup", "services",
			"Trial sessions can be arranged on request before the wedding date, subject to availability."),
	}
}
