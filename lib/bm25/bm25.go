// Copyright 2026 The Aether Authors
// SPDX-License-Identifier: Apache-2.0

package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Okapi BM25 parameters, standard values.
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Field is one weighted text field. Weight is the repetition count of
// the field's tokens in the composite document; zero or negative
// skips the field.
type Field struct {
	Text   string
	Weight int
}

// Document is a named collection of weighted fields. Name identifies
// the document in results and is not itself scored.
type Document struct {
	Name   string
	Fields []Field
}

// Result is a single hit. Score is unbounded; higher is more relevant.
type Result struct {
	Name  string
	Score float64
}

// Index is an immutable BM25 index. Safe for concurrent reads.
type Index struct {
	documents []Document

	// termFrequencies[i][term] counts term in document i's composite.
	termFrequencies []map[string]int
	documentLengths []int
	averageLength   float64

	// idf[term] is the precomputed inverse document frequency.
	idf map[string]float64
}

// New builds an index over the documents. Construction is linear in
// total token count.
func New(documents []Document) *Index {
	index := &Index{
		documents:       documents,
		termFrequencies: make([]map[string]int, len(documents)),
		documentLengths: make([]int, len(documents)),
		idf:             make(map[string]float64),
	}

	documentFrequency := make(map[string]int)
	var totalLength int

	for i, document := range documents {
		tokens := compositeTokens(document)
		index.documentLengths[i] = len(tokens)
		totalLength += len(tokens)

		frequencies := make(map[string]int)
		seen := make(map[string]bool)
		for _, token := range tokens {
			frequencies[token]++
			if !seen[token] {
				seen[token] = true
				documentFrequency[token]++
			}
		}
		index.termFrequencies[i] = frequencies
	}

	if len(documents) > 0 {
		index.averageLength = float64(totalLength) / float64(len(documents))
	}

	// Terms present in every document get epsilon instead of a
	// non-positive IDF so they still tip close rankings.
	documentCount := float64(len(documents))
	for term, frequency := range documentFrequency {
		idf := math.Log(1 + (documentCount-float64(frequency)+0.5)/(float64(frequency)+0.5))
		if idf < 0 {
			idf = paramEpsilon
		}
		index.idf[term] = idf
	}

	return index
}

// Search returns up to limit documents ranked by relevance to query.
// Nil when the query tokenizes to nothing or matches nothing.
func (index *Index) Search(query string, limit int) []Result {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	type scored struct {
		index int
		score float64
	}
	var hits []scored
	for i := range index.documents {
		if score := index.score(i, queryTokens); score > 0 {
			hits = append(hits, scored{index: i, score: score})
		}
	}

	sort.Slice(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{Name: index.documents[hit.index].Name, Score: hit.score}
	}
	return results
}

func (index *Index) score(documentIndex int, queryTokens []string) float64 {
	frequencies := index.termFrequencies[documentIndex]
	length := float64(index.documentLengths[documentIndex])

	var score float64
	for _, token := range queryTokens {
		idf, exists := index.idf[token]
		if !exists {
			continue
		}
		frequency := float64(frequencies[token])
		if frequency == 0 {
			continue
		}
		numerator := frequency * (paramK1 + 1)
		denominator := frequency + paramK1*(1-paramB+paramB*length/index.averageLength)
		score += idf * numerator / denominator
	}
	return score
}

func compositeTokens(document Document) []string {
	var tokens []string
	for _, field := range document.Fields {
		if field.Weight <= 0 {
			continue
		}
		fieldTokens := Tokenize(field.Text)
		for i := 0; i < field.Weight; i++ {
			tokens = append(tokens, fieldTokens...)
		}
	}
	return tokens
}

// Tokenize lowercases text and splits it into alphanumeric runs,
// dropping single-character tokens.
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, match := range matches {
		if len(match) >= 2 {
			tokens = append(tokens, match)
		}
	}
	return tokens
}
