package session

import (
	"strings"

	"github.com/veritest/veritest-backend/internal/model"
)

// Compact answer serialization: a semicolon-separated list of
// questionID:selection pairs, where selection is one option ID for
// single-select or a comma-joined list for multi-select, e.g.
//
//	Q1:a;Q2:b,d;Q3:c
//
// Encoding is deterministic: questions appear in exam order and multi-select
// options in the question's option order, so identical snapshots always
// produce identical strings.

// EncodeAnswers serializes a frozen snapshot. Unanswered questions are
// omitted.
func EncodeAnswers(questions []*model.Question, snap Snapshot) string {
	var b strings.Builder
	for _, q := range questions {
		qid := q.ID.String()
		sel, ok := snap.Selections[qid]
		if !ok {
			continue
		}

		var rhs string
		switch sel.Kind {
		case model.QuestionKindSingleSelect:
			rhs = sel.Single
		case model.QuestionKindMultiSelect:
			picked := make([]string, 0, len(sel.Multi))
			for _, opt := range q.Options {
				if sel.Multi[opt.ID] {
					picked = append(picked, opt.ID)
				}
			}
			rhs = strings.Join(picked, ",")
		}
		if rhs == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(qid)
		b.WriteByte(':')
		b.WriteString(rhs)
	}
	return b.String()
}

// DecodeAnswers parses the compact serialization into question ID → selected
// option IDs. Splitting is strict: first on ';', then on the first ':', then
// on ',' for the right-hand side. A pair with an empty right-hand side means
// "no entry" and is skipped rather than treated as a parse error. Pairs
// without a colon are skipped the same way.
func DecodeAnswers(raw string) map[string][]string {
	out := make(map[string][]string)
	if raw == "" {
		return out
	}

	for _, pair := range strings.Split(raw, ";") {
		if pair == "" {
			continue
		}
		qid, rhs, found := strings.Cut(pair, ":")
		if !found || qid == "" || rhs == "" {
			continue
		}

		var ids []string
		for _, id := range strings.Split(rhs, ",") {
			if id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			out[qid] = ids
		}
	}
	return out
}

// EncodeSelection serializes one selection's right-hand side for the
// autosave mirror, using the question's option order for multi-select.
func EncodeSelection(q *model.Question, sel Selection) string {
	switch sel.Kind {
	case model.QuestionKindSingleSelect:
		return sel.Single
	case model.QuestionKindMultiSelect:
		picked := make([]string, 0, len(sel.Multi))
		for _, opt := range q.Options {
			if sel.Multi[opt.ID] {
				picked = append(picked, opt.ID)
			}
		}
		return strings.Join(picked, ",")
	}
	return ""
}

// DecodeSelection splits one autosaved right-hand side back into option IDs.
func DecodeSelection(rhs string) []string {
	if rhs == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(rhs, ",") {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
