// Package evaluation scores search rankings against stored click judgments.
package evaluation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// Ranking maps each query to its documents in rank order.
type Ranking map[string][]string

// QueryResult holds the metrics of one query.
type QueryResult struct {
	Query     string
	DCG       float64
	NDCG      float64
	Precision float64
	Judged    int // ranked documents with a judgment
	Results   int // ranked documents considered
}

// Summary aggregates metrics across queries.
type Summary struct {
	K             int
	Threshold     float64
	Queries       []QueryResult
	MeanDCG       float64
	MeanNDCG      float64
	MeanPrecision float64
	Unjudged      int // queries without any judged document, excluded from the means
}

// ReadRanking parses a CSV with a header row and the columns query, document,
// rank. Documents are ordered by ascending rank within each query.
func ReadRanking(r io.Reader) (Ranking, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return Ranking{}, nil
		}
		return nil, err
	}

	type ranked struct {
		doc  string
		rank int
	}
	byQuery := make(map[string][]ranked)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rank, err := strconv.Atoi(strings.TrimSpace(record[2]))
		if err != nil {
			line, _ := cr.FieldPos(2)
			return nil, fmt.Errorf("line %d: invalid rank %q", line, record[2])
		}
		byQuery[record[0]] = append(byQuery[record[0]], ranked{doc: record[1], rank: rank})
	}

	ranking := make(Ranking, len(byQuery))
	for query, docs := range byQuery {
		sort.SliceStable(docs, func(i, j int) bool { return docs[i].rank < docs[j].rank })
		ids := make([]string, len(docs))
		for i, d := range docs {
			ids[i] = d.doc
		}
		ranking[query] = ids
	}
	return ranking, nil
}

// Evaluate scores ranking at cutoff k using the judgment of each (query,
// document) pair as its graded relevance. Unjudged documents have relevance 0.
func Evaluate(ranking Ranking, judgments []models.Judgment, k int, threshold float64) (*Summary, error) {
	if k < 1 {
		return nil, fmt.Errorf("invalid k %d: must be at least 1", k)
	}

	relevance := make(map[models.PairKey]float64, len(judgments))
	for i := range judgments {
		relevance[judgments[i].Pair()] = judgments[i].Judgment
	}

	queries := make([]string, 0, len(ranking))
	for q := range ranking {
		queries = append(queries, q)
	}
	sort.Strings(queries)

	summary := &Summary{K: k, Threshold: threshold}
	var dcgs, ndcgs, precisions []float64
	for _, q := range queries {
		docs := ranking[q]
		if len(docs) > k {
			docs = docs[:k]
		}

		res := QueryResult{Query: q, Results: len(docs)}
		rels := make([]float64, len(docs))
		for i, doc := range docs {
			if rel, ok := relevance[models.PairKey{Query: q, Document: doc}]; ok {
				rels[i] = rel
				res.Judged++
			}
		}
		if res.Judged == 0 {
			summary.Unjudged++
			summary.Queries = append(summary.Queries, res)
			continue
		}

		res.DCG = DCG(rels, k)
		res.NDCG = NDCG(rels, k)
		res.Precision = Precision(rels, k, threshold)
		summary.Queries = append(summary.Queries, res)

		dcgs = append(dcgs, res.DCG)
		ndcgs = append(ndcgs, res.NDCG)
		precisions = append(precisions, res.Precision)
	}

	if len(dcgs) > 0 {
		summary.MeanDCG = stat.Mean(dcgs, nil)
		summary.MeanNDCG = stat.Mean(ndcgs, nil)
		summary.MeanPrecision = stat.Mean(precisions, nil)
	}
	return summary, nil
}
