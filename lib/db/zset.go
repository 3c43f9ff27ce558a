package db

import (
	"errors"
	"github.com/google/btree"
	"math"
	"strconv"
	"strings"
)

// zsetDegree is the btree degree of sorted sets
const zsetDegree = 16

// --------------------------------------------------------------------------
// Sorted Set
// --------------------------------------------------------------------------

// ZItem is one member of a sorted set with its score.
type ZItem struct {
	Member string
	Score  float64
}

// Less orders by score, then by member (part of btree.Item)
func (a ZItem) Less(than btree.Item) bool {
	b := than.(ZItem)
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

// ZSet is a sorted set: a member -> score map plus a btree ordered by (score, member).
type ZSet struct {
	dict map[string]float64
	tree *btree.BTree
}

// NewZSet creates an empty sorted set.
func NewZSet() *ZSet {
	return &ZSet{
		dict: make(map[string]float64),
		tree: btree.New(zsetDegree),
	}
}

// Len returns the number of members.
func (z *ZSet) Len() int {
	return len(z.dict)
}

// Add inserts member or moves it to score. added is true for new members, updated for
// existing members whose score changed.
func (z *ZSet) Add(member string, score float64) (added, updated bool) {
	old, exists := z.dict[member]
	if exists {
		if old == score {
			return false, false
		}
		z.tree.Delete(ZItem{Member: member, Score: old})
	}
	z.dict[member] = score
	z.tree.ReplaceOrInsert(ZItem{Member: member, Score: score})
	return !exists, exists
}

// Score returns the score of member.
func (z *ZSet) Score(member string) (float64, bool) {
	s, ok := z.dict[member]
	return s, ok
}

// Rem removes member and reports whether it existed.
func (z *ZSet) Rem(member string) bool {
	s, ok := z.dict[member]
	if !ok {
		return false
	}
	delete(z.dict, member)
	z.tree.Delete(ZItem{Member: member, Score: s})
	return true
}

// Items returns all members in ascending order.
func (z *ZSet) Items() []ZItem {
	out := make([]ZItem, 0, z.Len())
	z.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(ZItem))
		return true
	})
	return out
}

// RangeByScore returns the members inside r, descending if reverse is set.
func (z *ZSet) RangeByScore(r ScoreRange, reverse bool) []ZItem {
	var out []ZItem
	if r.Empty() {
		return out
	}

	if !reverse {
		pivot := ZItem{Score: r.Min}
		z.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
			it := i.(ZItem)
			if !r.aboveMin(it.Score) {
				return true
			}
			if !r.belowMax(it.Score) {
				return false
			}
			out = append(out, it)
			return true
		})
		return out
	}

	z.tree.Descend(func(i btree.Item) bool {
		it := i.(ZItem)
		if !r.belowMax(it.Score) {
			return true
		}
		if !r.aboveMin(it.Score) {
			return false
		}
		out = append(out, it)
		return true
	})
	return out
}

// RangeByLex returns the members inside r, descending if reverse is set. Lex ranges are
// only meaningful when all members share the same score.
func (z *ZSet) RangeByLex(r LexRange, reverse bool) []ZItem {
	var out []ZItem
	iter := func(i btree.Item) bool {
		it := i.(ZItem)
		if !r.Min.lessOrAt(it.Member, true) {
			return !reverse
		}
		if !r.Max.lessOrAt(it.Member, false) {
			return reverse
		}
		out = append(out, it)
		return true
	}
	if reverse {
		z.tree.Descend(iter)
	} else {
		z.tree.Ascend(iter)
	}
	return out
}

// --------------------------------------------------------------------------
// Ranges
// --------------------------------------------------------------------------

// ScoreRange is a score interval; MinEx/MaxEx exclude the bounds.
type ScoreRange struct {
	Min, Max     float64
	MinEx, MaxEx bool
}

// Empty reports whether no score can be inside r.
func (r ScoreRange) Empty() bool {
	return r.Min > r.Max || (r.Min == r.Max && (r.MinEx || r.MaxEx))
}

func (r ScoreRange) aboveMin(s float64) bool {
	if r.MinEx {
		return s > r.Min
	}
	return s >= r.Min
}

func (r ScoreRange) belowMax(s float64) bool {
	if r.MaxEx {
		return s < r.Max
	}
	return s <= r.Max
}

// Contains reports whether s is inside r.
func (r ScoreRange) Contains(s float64) bool {
	return r.aboveMin(s) && r.belowMax(s)
}

// ErrInvalidScoreBound is returned by ParseScoreBound.
var ErrInvalidScoreBound = errors.New("ERR min or max is not a float")

// ParseScoreBound parses a score bound: a float, "-inf", "+inf" or "(" followed by a
// float for an exclusive bound.
func ParseScoreBound(s string) (v float64, exclusive bool, err error) {
	if strings.HasPrefix(s, "(") {
		exclusive = true
		s = s[1:]
	}
	switch strings.ToLower(s) {
	case "-inf":
		return math.Inf(-1), exclusive, nil
	case "+inf", "inf":
		return math.Inf(1), exclusive, nil
	}
	v, err = strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false, ErrInvalidScoreBound
	}
	return v, exclusive, nil
}

// LexBound is one end of a lexicographic range.
type LexBound struct {
	Value     string
	Inclusive bool
	Inf       int // -1 for "-", +1 for "+", 0 for a value bound
}

// ErrInvalidLexBound is returned by ParseLexBound.
var ErrInvalidLexBound = errors.New("ERR min or max not valid string range item")

// ParseLexBound parses "[value" (inclusive), "(value" (exclusive), "-" or "+".
func ParseLexBound(b []byte) (LexBound, error) {
	if len(b) == 0 {
		return LexBound{}, ErrInvalidLexBound
	}
	switch b[0] {
	case '-':
		if len(b) != 1 {
			return LexBound{}, ErrInvalidLexBound
		}
		return LexBound{Inf: -1}, nil
	case '+':
		if len(b) != 1 {
			return LexBound{}, ErrInvalidLexBound
		}
		return LexBound{Inf: 1}, nil
	case '[':
		return LexBound{Value: string(b[1:]), Inclusive: true}, nil
	case '(':
		return LexBound{Value: string(b[1:])}, nil
	default:
		return LexBound{}, ErrInvalidLexBound
	}
}

// lessOrAt checks member against the bound: as a min bound (asMin) the member must be
// above it, as a max bound below it.
func (b LexBound) lessOrAt(member string, asMin bool) bool {
	switch b.Inf {
	case -1:
		return asMin
	case 1:
		return !asMin
	}
	c := strings.Compare(member, b.Value)
	if asMin {
		return c > 0 || (c == 0 && b.Inclusive)
	}
	return c < 0 || (c == 0 && b.Inclusive)
}

// LexRange is a lexicographic interval.
type LexRange struct {
	Min, Max LexBound
}

// Contains reports whether member is inside r.
func (r LexRange) Contains(member string) bool {
	return r.Min.lessOrAt(member, true) && r.Max.lessOrAt(member, false)
}
