// Package cases is the read-only case book sessions are played against.
package cases

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/DoyleJ11/trial-backend/internal/evaluation"
)

var ErrUnknownCase = errors.New("unknown case")
var ErrUnknownWitness = errors.New("unknown witness")

//go:embed cases.json
var defaultCases []byte

type Book struct {
	cases   map[string]evaluation.CaseContext
	ordered []string
}

// Default returns the embedded case book.
func Default() (*Book, error) {
	return parse(defaultCases)
}

// Load reads a case book from a JSON file in the embedded format.
func Load(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Book, error) {
	var list []evaluation.CaseContext
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("decode cases: empty case book")
	}

	b := &Book{cases: make(map[string]evaluation.CaseContext, len(list))}
	for _, c := range list {
		if !c.Type.Valid() {
			return nil, fmt.Errorf("case %q: invalid type %q", c.ID, c.Type)
		}
		if _, dup := b.cases[c.ID]; dup {
			return nil, fmt.Errorf("case %q: duplicate id", c.ID)
		}
		b.cases[c.ID] = c
		b.ordered = append(b.ordered, c.ID)
	}
	return b, nil
}

// Case returns the case with id, or the first case when id is empty.
func (b *Book) Case(id string) (evaluation.CaseContext, error) {
	if id == "" {
		id = b.ordered[0]
	}
	c, ok := b.cases[id]
	if !ok {
		return evaluation.CaseContext{}, fmt.Errorf("%w: %q", ErrUnknownCase, id)
	}
	return c, nil
}

func (b *Book) Witness(caseID, name string) (evaluation.Witness, error) {
	c, err := b.Case(caseID)
	if err != nil {
		return evaluation.Witness{}, err
	}
	for _, w := range c.Witnesses {
		if strings.EqualFold(w.Name, name) {
			return w, nil
		}
	}
	return evaluation.Witness{}, fmt.Errorf("%w: %q in case %q", ErrUnknownWitness, name, c.ID)
}

func (b *Book) IDs() []string {
	return append([]string(nil), b.ordered...)
}
