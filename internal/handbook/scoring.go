package handbook

import (
	"strings"
	"unicode"

	"github.com/sha1n/mcp-handbook-server/internal/domain"
)

// Weights holds the fusion constants used to rerank hybrid candidates.
type Weights struct {
	// RankDecay is subtracted per rank position from a base score of 1.0.
	RankDecay float64

	// Vector and Keyword weight the two component scores.
	Vector  float64
	Keyword float64

	// Agreement is added when a candidate has both a vector and a keyword score.
	Agreement float64

	// LiteralHit is added per digit-bearing query token found in the chunk,
	// capped at LiteralCap.
	LiteralHit float64
	LiteralCap float64
}

// DefaultWeights returns the standard fusion constants.
func DefaultWeights() Weights {
	return Weights{
		RankDecay:  0.08,
		Vector:     0.60,
		Keyword:    0.40,
		Agreement:  0.35,
		LiteralHit: 0.12,
		LiteralCap: 0.35,
	}
}

// minLiteralTokenLen is the shortest query token considered for literal matching.
const minLiteralTokenLen = 3

// rankScore is the position score for a 0-indexed rank, floored at zero.
// Vector result sizes are capped at config.MaxVectorTopK so that every vector
// rank stays above the floor and keeps its agreement bonus.
func (w Weights) rankScore(rank int) float64 {
	return max(0, 1.0-float64(rank)*w.RankDecay)
}

// fuse computes the final score of a candidate.
func (w Weights) fuse(c domain.Candidate, content string, literals []string) float64 {
	score := w.Vector*c.VectorScore + w.Keyword*c.KeywordScore
	if c.VectorScore > 0 && c.KeywordScore > 0 {
		score += w.Agreement
	}
	return score + w.literalBonus(content, literals)
}

func (w Weights) literalBonus(content string, literals []string) float64 {
	if len(literals) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, token := range literals {
		if strings.Contains(lower, token) {
			hits++
		}
	}
	return min(w.LiteralCap, float64(hits)*w.LiteralHit)
}

// literalTokens returns the distinct, lower-cased, digit-bearing tokens of a
// query: numbers, dates, policy codes and the like.
func literalTokens(query string) []string {
	var tokens []string
	seen := make(map[string]struct{})
	for _, field := range strings.Fields(query) {
		token := strings.ToLower(strings.Map(keepLiteralRune, field))
		if len([]rune(token)) < minLiteralTokenLen || !strings.ContainsFunc(token, unicode.IsDigit) {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		tokens = append(tokens, token)
	}
	return tokens
}

func keepLiteralRune(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '/' {
		return r
	}
	return -1
}
