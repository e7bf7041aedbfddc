package engine

// Slot is one word position. Role is the grammatical role the slot expects;
// an empty role accepts any card.
type Slot struct {
	Role string
	Card *Card
}

func (s Slot) Filled() bool { return s.Card != nil }

// Sentence is the in-progress sentence of the active turn. Filled slots
// always form a prefix, so mutation only ever happens at the end.
type Sentence struct {
	Slots []Slot
}

func (s Sentence) Len() int { return len(s.Slots) }

// Filled counts placed cards.
func (s Sentence) Filled() int {
	n := 0
	for _, slot := range s.Slots {
		if slot.Filled() {
			n++
		}
	}
	return n
}

// Complete reports whether every created slot holds a card. An empty
// sentence is complete.
func (s Sentence) Complete() bool {
	return s.Filled() == len(s.Slots)
}

func (s Sentence) firstEmpty() int {
	for i, slot := range s.Slots {
		if !slot.Filled() {
			return i
		}
	}
	return -1
}

func (s *Sentence) CreateSlot(role string, maxSlots int) (int, error) {
	if maxSlots > 0 && len(s.Slots) >= maxSlots {
		return 0, ErrSentenceTooLong
	}
	s.Slots = append(s.Slots, Slot{Role: role})
	return len(s.Slots) - 1, nil
}

// PlayCard fills slot index with card. Cards go left to right: only the
// first empty slot may be filled.
func (s *Sentence) PlayCard(index int, card Card, cards CardProvider) error {
	if index < 0 || index >= len(s.Slots) {
		return ErrInvalidSlot
	}
	if s.Slots[index].Filled() {
		return ErrSlotFilled
	}
	if index != s.firstEmpty() {
		return ErrInvalidSlotOrder
	}
	if cards != nil && !cards.CanPlace(card, s.Slots[index].Role) {
		return ErrIllegalCard
	}
	c := card
	s.Slots[index].Card = &c
	return nil
}

// Undo pops from the end: the last slot's card if it has one, otherwise the
// empty last slot itself.
func (s *Sentence) Undo() (index int, removedCard bool, err error) {
	n := len(s.Slots)
	if n == 0 {
		return 0, false, ErrNothingToUndo
	}
	last := n - 1
	if s.Slots[last].Filled() {
		s.Slots[last].Card = nil
		return last, true, nil
	}
	s.Slots = s.Slots[:last]
	return last, false, nil
}

// Trim drops trailing empty slots.
func (s *Sentence) Trim() {
	n := len(s.Slots)
	for n > 0 && !s.Slots[n-1].Filled() {
		n--
	}
	s.Slots = s.Slots[:n]
}

// Words is the card text in sentence order.
func (s Sentence) Words() []string {
	words := make([]string, 0, len(s.Slots))
	for _, slot := range s.Slots {
		if slot.Filled() {
			words = append(words, slot.Card.Text)
		}
	}
	return words
}

func (s *State) createSlot(cmd Command) ([]Event, error) {
	t, err := s.requireActive(cmd, TurnPlaying)
	if err != nil {
		return nil, err
	}
	idx, err := t.Sentence.CreateSlot(cmd.Role, s.Rules.MaxSlots)
	if err != nil {
		return nil, err
	}
	return []Event{{Type: EvtSlotCreated, PlayerID: cmd.PlayerID, TurnNumber: t.Number, Slot: idx}}, nil
}

func (s *State) playCard(cmd Command, cards CardProvider) ([]Event, error) {
	t, err := s.requireActive(cmd, TurnPlaying)
	if err != nil {
		return nil, err
	}
	if cards == nil {
		return nil, ErrUnknownCard
	}
	card, ok := cards.Card(cmd.CardID)
	if !ok {
		return nil, ErrUnknownCard
	}
	if err := t.Sentence.PlayCard(cmd.Slot, card, cards); err != nil {
		return nil, err
	}
	return []Event{{Type: EvtCardPlayed, PlayerID: cmd.PlayerID, TurnNumber: t.Number, Slot: cmd.Slot}}, nil
}

func (s *State) undoLastCard(cmd Command) ([]Event, error) {
	t, err := s.requireActive(cmd, TurnPlaying)
	if err != nil {
		return nil, err
	}
	idx, removedCard, err := t.Sentence.Undo()
	if err != nil {
		return nil, err
	}
	evt := EvtSlotRemoved
	if removedCard {
		evt = EvtCardRemoved
	}
	return []Event{{Type: evt, PlayerID: cmd.PlayerID, TurnNumber: t.Number, Slot: idx}}, nil
}
