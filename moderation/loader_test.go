package moderation

import (
	"testing"
	"testing/fstest"

	"lan-chat/errors"

	"github.com/stretchr/testify/require"
)

func TestCensoredLoader_LoadAll(t *testing.T) {
	req := require.New(t)

	// Given two dictionaries sharing a word, with CRLF endings and blank lines
	fsys := fstest.MapFS{
		"words/en.txt":    {Data: []byte("badger\r\nsnake\r\n\r\n")},
		"words/fr.txt":    {Data: []byte("  blaireau \nbadger\n")},
		"words/README.md": {Data: []byte("not a dictionary")},
	}

	// When loading the directory
	data, err := NewCensoredLoader(fsys).LoadAll("words")

	// Then words are unique and sorted, and only .txt files count as languages
	req.NoError(err)
	req.Equal([]string{"badger", "blaireau", "snake"}, data.Words)
	req.Equal([]string{"en", "fr"}, data.Languages)
}

func TestCensoredLoader_EmptyDictionaries(t *testing.T) {
	req := require.New(t)

	// Given a dictionary with only blank lines
	fsys := fstest.MapFS{"words/en.txt": {Data: []byte("\n  \n")}}

	// When loading the directory
	_, err := NewCensoredLoader(fsys).LoadAll("words")

	// Then no words is an error
	req.ErrorIs(err, errors.ErrEmptyWords)
}

func TestCensoredLoader_Embedded(t *testing.T) {
	req := require.New(t)

	// When loading the dictionaries shipped with the binary
	data, err := NewEmbeddedLoader().LoadAll(DefaultCensoredDir)

	// Then every language is available
	req.NoError(err)
	req.Contains(data.Languages, "en")
	req.Contains(data.Languages, "fr")
	req.NotEmpty(data.Words)
}
