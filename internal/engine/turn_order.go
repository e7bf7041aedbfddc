package engine

// nextSeat picks who plays after the seat that just finished. Players are kept
// in seat order, so the search is the first eligible seat after `after`,
// wrapping to the lowest seat. Disconnected seats are skipped; when nobody
// else is available the plain next seat is returned and its turn will be held.
func (s State) nextSeat(after int) (next Player, wrapped bool, ok bool) {
	if len(s.Players) == 0 {
		return Player{}, false, false
	}
	for _, p := range s.Players {
		if p.Seat > after && p.Status != StatusDisconnected {
			return p, false, true
		}
	}
	for _, p := range s.Players {
		if p.Seat <= after && p.Status != StatusDisconnected {
			return p, true, true
		}
	}
	for _, p := range s.Players {
		if p.Seat > after {
			return p, false, true
		}
	}
	return s.Players[0], true, true
}

// SeatOrder lists player ids in turn order.
func (s State) SeatOrder() []string {
	ids := make([]string, 0, len(s.Players))
	for _, p := range s.Players {
		ids = append(ids, p.ID)
	}
	return ids
}
