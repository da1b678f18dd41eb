// Package dict validates hint words against an optional wordlist.
package dict

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Dictionary struct {
	words map[string]struct{}
}

// New loads a newline-separated wordlist. A missing file yields an empty
// dictionary, which lets every word pass.
func New(file string, log *logrus.Logger) (*Dictionary, error) {
	d := &Dictionary{words: make(map[string]struct{})}

	f, err := os.Open(file)
	if os.IsNotExist(err) {
		log.WithField("file", file).Info("no dictionary file, allowing all hint words")
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary file %q: %w", file, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		word := strings.TrimSpace(sc.Text())
		if word == "" {
			continue
		}
		d.words[strings.ToLower(word)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	log.WithField("words", len(d.words)).Info("loaded dictionary")

	return d, nil
}

// Valid reports whether the word can be used as a hint. An empty dictionary
// considers every word valid.
func (d *Dictionary) Valid(word string) bool {
	if len(d.words) == 0 {
		return true
	}
	_, valid := d.words[strings.ToLower(word)]
	return valid
}
