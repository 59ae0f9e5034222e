package catalog

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchService(t *testing.T) {
	c := Default()

	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"bridal keyword", "I need bridal makeup", "Bridal Makeup Services", true},
		{"wedding", "makeup for my wedding", "Bridal Makeup Services", true},
		{"pre-wedding beats wedding", "pre-wedding shoot makeup", "Engagement & Pre-Wedding Makeup", true},
		{"mehndi", "Mehndi for my sister", "Henna (Mehendi) Services", true},
		{"party", "a party next week", "Party Makeup Services", true},
		{"partial word ignored", "partying all night", "", false},
		{"nothing", "do you have instagram?", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.MatchService(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestMatchPackage(t *testing.T) {
	c := Default()
	bridal, ok := c.Service(1)
	require.True(t, ok)

	p, ok := bridal.MatchPackage("the luxury HD one please")
	require.True(t, ok)
	assert.Equal(t, "Luxury Bridal Makeup (HD / Brush)", p.Name)

	p, ok = bridal.MatchPackage("Chirag's Signature Bridal Makeup")
	require.True(t, ok)
	assert.Equal(t, "Chirag's Signature Bridal Makeup", p.Name)

	_, ok = bridal.MatchPackage("something else")
	assert.False(t, ok)

	_, ok = bridal.Package(4)
	assert.False(t, ok)
}

func TestCountries(t *testing.T) {
	c := Default()

	nepal, ok := c.CountryByDialCode("9779876543210")
	require.True(t, ok)
	assert.Equal(t, "Nepal", nepal.Name)
	assert.True(t, nepal.ValidLocal("9876543210"))
	assert.False(t, nepal.ValidLocal("8876543210"))
	assert.True(t, nepal.MatchPincode("44600"))
	assert.False(t, nepal.MatchPincode("446001"))

	india, ok := c.CountryByName("Bharat")
	require.True(t, ok)
	assert.Equal(t, "India", india.Name)
	assert.True(t, india.MatchPincode("110001"))
	assert.False(t, india.MatchPincode("010001"))

	got, ok := c.CountryByCity("Thamel, Kathmandu")
	require.True(t, ok)
	assert.Equal(t, "Nepal", got.Name)

	got, ok = c.MentionedCountry("the event is in the UAE")
	require.True(t, ok)
	assert.Equal(t, "Dubai", got.Name)

	_, ok = c.CountryByDialCode("4412345678")
	assert.False(t, ok)
}

func TestLoadRejectsInvalidCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services: []\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWatchReloadsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	write := func(name string) {
		body := "services:\n  - name: " + name + "\n    keywords: [x]\n    packages:\n      - name: Basic\n        price: \"100\"\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("First")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := zerolog.New(io.Discard)
	store := NewStore(Default())
	require.NoError(t, Watch(ctx, path, 10*time.Millisecond, store, &logger))
	assert.Equal(t, "First", store.Catalog().Services[0].Name)

	write("Second")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool {
		return store.Catalog().Services[0].Name == "Second"
	}, time.Second, 10*time.Millisecond)
}
