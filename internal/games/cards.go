package games

import "math"

// Card is a playing card.
type Card struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

func (c Card) String() string {
	return c.Suit + c.Rank
}

var cardSuits = []string{"♦", "♥", "♠", "♣"}

var cardRanks = []string{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"}

// cardDeck orders cards by rank, then suit: ♦2, ♥2, ♠2, ♣2, ♦3, ...
var cardDeck [52]Card

func init() {
	i := 0
	for _, rank := range cardRanks {
		for _, suit := range cardSuits {
			cardDeck[i] = Card{Rank: rank, Suit: suit}
			i++
		}
	}
}

// cardFromFloat draws from an unlimited deck.
func cardFromFloat(f float64) Card {
	return cardDeck[cardIndexFromFloat(f)]
}

func cardIndexFromFloat(f float64) int {
	index := int(math.Floor(f * 52))
	if index < 0 {
		return 0
	}
	if index >= 52 {
		return 51
	}
	return index
}

// cardRankValue orders ranks for hi-lo: A=1, 2..10, J=11, Q=12, K=13.
func cardRankValue(rank string) int {
	switch rank {
	case "A":
		return 1
	case "J":
		return 11
	case "Q":
		return 12
	case "K":
		return 13
	}
	for i, r := range cardRanks[:9] {
		if r == rank {
			return i + 2
		}
	}
	return 0
}

// cardFromMap reads a card stored in game state.
func cardFromMap(v any) (Card, bool) {
	switch c := v.(type) {
	case Card:
		return c, true
	case map[string]any:
		rank, _ := c["rank"].(string)
		suit, _ := c["suit"].(string)
		return Card{Rank: rank, Suit: suit}, rank != ""
	}
	return Card{}, false
}

func (c Card) toMap() map[string]any {
	return map[string]any{"rank": c.Rank, "suit": c.Suit}
}
