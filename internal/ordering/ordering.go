// Package ordering computes position changes for ordered sibling
// collections: lists within a project and tasks within a list. Functions
// here are pure; callers read the scope and persist the returned changes
// inside one transaction.
//
// Positions are sort keys. Every function sorts by (Position, ID) before
// doing anything, so gaps or duplicates in stored data never change the
// visible order, and every result is renumbered to 0..n-1.
package ordering

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrOutOfBounds   = errors.New("ordering: move out of bounds")
	ErrUnknownItem   = errors.New("ordering: unknown item")
	ErrUnknownScope  = errors.New("ordering: unknown scope")
	ErrDuplicateItem = errors.New("ordering: item listed twice")
)

type Direction int

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	if d == Left {
		return "left"
	}
	return "right"
}

// ParseDirection accepts "left"/"right" and the vertical aliases "up"/"down"
// used for tasks.
func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "left", "up":
		return Left, nil
	case "right", "down":
		return Right, nil
	default:
		return Left, fmt.Errorf("ordering: unknown direction %q", value)
	}
}

type Item struct {
	ID       string
	Position int
}

// Sorted returns a copy of items ordered by position, ties broken by id.
func Sorted(items []Item) []Item {
	out := append([]Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Append returns the position a new item takes at the end of the scope.
func Append(items []Item) int {
	return len(items)
}

// Contiguous reports whether the positions are exactly 0..n-1.
func Contiguous(items []Item) bool {
	for i, item := range Sorted(items) {
		if item.Position != i {
			return false
		}
	}
	return true
}

// Swap is the result of SwapAdjacent. Both items carry their new positions.
type Swap struct {
	Moved Item
	With  Item
}

// SwapAdjacent exchanges the positions of id and its neighbour in the given
// direction. Moving the first item left or the last item right returns
// ErrOutOfBounds.
func SwapAdjacent(items []Item, id string, dir Direction) (Swap, error) {
	sorted := Sorted(items)
	index := -1
	for i, item := range sorted {
		if item.ID == id {
			index = i
			break
		}
	}
	if index < 0 {
		return Swap{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}

	neighbour := index - 1
	if dir == Right {
		neighbour = index + 1
	}
	if neighbour < 0 || neighbour >= len(sorted) {
		return Swap{}, ErrOutOfBounds
	}

	return Swap{
		Moved: Item{ID: sorted[index].ID, Position: sorted[neighbour].Position},
		With:  Item{ID: sorted[neighbour].ID, Position: sorted[index].Position},
	}, nil
}

// Compact returns the items whose position must change for the scope to be
// renumbered 0..n-1, carrying their new positions.
func Compact(items []Item) []Item {
	var changes []Item
	for i, item := range Sorted(items) {
		if item.Position != i {
			changes = append(changes, Item{ID: item.ID, Position: i})
		}
	}
	return changes
}

// Move requests that item ID land in Scope at Position.
type Move struct {
	ID       string
	Scope    string
	Position int
}

// Placement is a computed final scope and position for an item whose
// placement changed.
type Placement struct {
	ID       string
	Scope    string
	Position int
}

// Arrange applies a batch of moves across scopes. Moved items are taken
// out of their current scopes and inserted into their target scopes in
// ascending order of requested position (clamped to the scope length);
// items that were not moved keep their relative order. Every touched scope
// is renumbered 0..n-1.
//
// scopes must contain every origin scope and every target scope, the
// latter possibly empty. The returned placements list the moved items in
// request order first, then the other items whose position changed.
func Arrange(scopes map[string][]Item, moves []Move) ([]Placement, error) {
	origin := make(map[string]string)
	current := make(map[string]int)
	for scope, items := range scopes {
		for _, item := range items {
			origin[item.ID] = scope
			current[item.ID] = item.Position
		}
	}

	moved := make(map[string]int, len(moves))
	touched := make(map[string]struct{})
	for i, move := range moves {
		from, ok := origin[move.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownItem, move.ID)
		}
		if _, ok := scopes[move.Scope]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownScope, move.Scope)
		}
		if _, dup := moved[move.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, move.ID)
		}
		moved[move.ID] = i
		touched[from] = struct{}{}
		touched[move.Scope] = struct{}{}
	}

	incoming := make(map[string][]Move)
	for _, move := range moves {
		incoming[move.Scope] = append(incoming[move.Scope], move)
	}

	final := make(map[string]Placement)
	for scope := range touched {
		var order []string
		for _, item := range Sorted(scopes[scope]) {
			if _, isMoved := moved[item.ID]; !isMoved {
				order = append(order, item.ID)
			}
		}

		arrivals := incoming[scope]
		sort.SliceStable(arrivals, func(i, j int) bool {
			return arrivals[i].Position < arrivals[j].Position
		})
		for _, move := range arrivals {
			at := move.Position
			if at < 0 {
				at = 0
			}
			if at > len(order) {
				at = len(order)
			}
			order = append(order, "")
			copy(order[at+1:], order[at:])
			order[at] = move.ID
		}

		for position, id := range order {
			final[id] = Placement{ID: id, Scope: scope, Position: position}
		}
	}

	out := make([]Placement, 0, len(final))
	for _, move := range moves {
		out = append(out, final[move.ID])
	}

	var shifted []Placement
	for id, placement := range final {
		if _, isMoved := moved[id]; isMoved {
			continue
		}
		if placement.Scope == origin[id] && placement.Position == current[id] {
			continue
		}
		shifted = append(shifted, placement)
	}
	sort.Slice(shifted, func(i, j int) bool {
		if shifted[i].Scope != shifted[j].Scope {
			return shifted[i].Scope < shifted[j].Scope
		}
		return shifted[i].Position < shifted[j].Position
	})
	return append(out, shifted...), nil
}
