// Copyright (C) 2026 Ops Online Support (security@opsonline.support)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package kb

import (
	"math"
	"regexp"
	"strings"

	"github.com/opsonline/chattia-gateway/services/gateway/policy"
)

// BM25 parameters and the answer threshold. Scores below the threshold
// mean the corpus has nothing confident to say and the request falls
// through to the model.
const (
	bm25K1    = 1.2
	bm25B     = 0.75
	Threshold = 1.15
)

// tokenPattern splits on anything outside the bilingual alphanumeric
// set, keeping accented vowels and ñ/ü intact.
var tokenPattern = regexp.MustCompile(`[^a-záéíóúñü0-9]+`)

// Tokenize lowercases and splits text into scoring terms.
func Tokenize(s string) []string {
	parts := tokenPattern.Split(strings.ToLower(s), -1)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stopWords per language; filtered from queries, never from documents.
var stopWords = map[string]map[string]struct{}{
	"en": wordSet("a,about,an,and,are,as,at,be,by,for,from,how,in,is,it,of,on,or,our,that,the,their,to,we,what,when,with,can"),
	"es": wordSet("a,al,como,con,de,del,el,ella,ellas,ellos,en,es,esta,este,las,los,para,por,que,se,son,su,sus,un,una,y,puede"),
}

func wordSet(csv string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Split(csv, ",") {
		set[w] = struct{}{}
	}
	return set
}

// Result is a knowledge-base answer.
type Result struct {
	Reply    string
	DocID    string
	Title    string
	Language string
	Score    float64
}

// indexedDoc carries the per-document precomputation: lowercased
// content for document-frequency checks, token counts for term
// frequency, and the whitespace word length BM25 normalizes by.
type indexedDoc struct {
	doc          Document
	contentLower string
	tokenCounts  map[string]int
	wordLen      float64
}

// Index is an immutable BM25 index over the corpus. Build once at
// startup; safe for concurrent lookups.
type Index struct {
	docs       []indexedDoc
	avgWordLen float64
}

// NewIndex builds the index, precomputing token counts and the average
// document length.
func NewIndex(corpus []Document) *Index {
	idx := &Index{docs: make([]indexedDoc, 0, len(corpus))}
	var total float64
	for _, d := range corpus {
		lower := strings.ToLower(d.Content)
		counts := make(map[string]int)
		for _, tok := range Tokenize(d.Content) {
			counts[tok]++
		}
		wordLen := float64(len(strings.Fields(d.Content)))
		if wordLen == 0 {
			wordLen = 1
		}
		idx.docs = append(idx.docs, indexedDoc{
			doc:          d,
			contentLower: lower,
			tokenCounts:  counts,
			wordLen:      wordLen,
		})
		total += wordLen
	}
	if len(idx.docs) > 0 {
		idx.avgWordLen = total / float64(len(idx.docs))
	} else {
		idx.avgWordLen = 1
	}
	return idx
}

// idf uses document frequency by substring containment, so a query
// term like "site" also credits documents mentioning "website".
func (idx *Index) idf(term string) float64 {
	n := len(idx.docs)
	if n == 0 {
		n = 1
	}
	df := 0
	for _, d := range idx.docs {
		if strings.Contains(d.contentLower, term) {
			df++
		}
	}
	if df == 0 {
		df = 1
	}
	return math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
}

func (idx *Index) score(d *indexedDoc, terms []string) float64 {
	var score float64
	for _, t := range terms {
		tf := float64(d.tokenCounts[t])
		if tf == 0 {
			continue
		}
		idf := idx.idf(t)
		score += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*(1-bm25B+bm25B*(d.wordLen/idx.avgWordLen)))
	}
	return score
}

// Lookup answers a user query from the corpus, or returns nil when no
// document clears the threshold. Candidate documents are filtered by
// detected query language, falling back to the whole corpus when that
// language has no documents. The reply is the summary in the query's
// language, then the other summary, then raw content.
func (idx *Index) Lookup(query string) *Result {
	q := policy.Sanitize(query)
	if q == "" {
		return nil
	}
	lang := policy.DetectLanguage(q)

	stop := stopWords[lang]
	terms := make([]string, 0, 8)
	for _, t := range Tokenize(q) {
		if _, isStop := stop[t]; !isStop {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return nil
	}

	candidates := make([]*indexedDoc, 0, len(idx.docs))
	for i := range idx.docs {
		if idx.docs[i].doc.Lang == lang {
			candidates = append(candidates, &idx.docs[i])
		}
	}
	if len(candidates) == 0 {
		for i := range idx.docs {
			candidates = append(candidates, &idx.docs[i])
		}
	}

	var best *indexedDoc
	var bestScore float64
	for _, cand := range candidates {
		s := idx.score(cand, terms)
		if best == nil || s > bestScore {
			best, bestScore = cand, s
		}
	}
	if best == nil || bestScore < Threshold {
		return nil
	}

	reply := best.doc.SummaryEn
	if lang == "es" {
		reply = best.doc.SummaryEs
	}
	if reply == "" {
		reply = best.doc.Content
	}
	return &Result{
		Reply:    reply,
		DocID:    best.doc.ID,
		Title:    best.doc.Title,
		Language: lang,
		Score:    bestScore,
	}
}
