/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package undercover

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
)

// WordPair is one playable pairing: the civilians' word and the similar but
// different word handed to the undercovers.
type WordPair struct {
	Civilian   string `toml:"civilian"`
	Undercover string `toml:"undercover"`
}

// WordList is an ordered, read-only list of word pairs, loaded once at
// process start. An empty list is valid but makes Start fail.
type WordList struct {
	Pairs []WordPair `toml:"pair"`
}

//go:embed words.toml
var defaultWords string

// DefaultWordList returns the word pairs embedded in the binary.
func DefaultWordList() (WordList, error) {
	var list WordList

	if _, err := toml.Decode(defaultWords, &list); err != nil {
		return WordList{}, fmt.Errorf("embedded word list: %w", err)
	}

	return list, nil
}

// LoadWordList reads word pairs from a TOML file of [[pair]] tables, each
// with "civilian" and "undercover" string keys.
func LoadWordList(path string) (WordList, error) {
	var list WordList

	if _, err := toml.DecodeFile(path, &list); err != nil {
		return WordList{}, fmt.Errorf("word list %s: %w", path, err)
	}

	for i, pair := range list.Pairs {
		if pair.Civilian == "" || pair.Undercover == "" {
			return WordList{}, fmt.Errorf("word list %s: pair %d is missing a word", path, i+1)
		}
	}

	return list, nil
}
