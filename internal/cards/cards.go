// Package cards is the dictionary the sentence builder draws card metadata
// and placement legality from.
package cards

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/kaputi/kaputi-backend/internal/engine"
)

//go:embed dictionary.json
var builtin []byte

type Dictionary struct {
	byID  map[string]engine.Card
	order []string
}

// Default loads the embedded word list.
func Default() *Dictionary {
	d, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("cards: embedded dictionary: %v", err))
	}
	return d
}

func Load(r io.Reader) (*Dictionary, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Dictionary, error) {
	var list []engine.Card
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	d := &Dictionary{byID: make(map[string]engine.Card, len(list))}
	for _, c := range list {
		if c.ID == "" {
			return nil, fmt.Errorf("card %q has no id", c.Text)
		}
		if _, dup := d.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate card id %q", c.ID)
		}
		d.byID[c.ID] = c
		d.order = append(d.order, c.ID)
	}
	return d, nil
}

func (d *Dictionary) Card(id string) (engine.Card, bool) {
	c, ok := d.byID[id]
	return c, ok
}

// CanPlace accepts any card for an untyped slot, otherwise the card must
// carry the slot's role among its tags.
func (d *Dictionary) CanPlace(card engine.Card, role string) bool {
	if _, ok := d.byID[card.ID]; !ok {
		return false
	}
	return role == "" || slices.Contains(card.Tags, role)
}

// All lists cards in dictionary order.
func (d *Dictionary) All() []engine.Card {
	out := make([]engine.Card, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}
