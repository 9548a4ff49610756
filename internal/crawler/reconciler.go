package crawler

import (
	"context"
	"fmt"
)

// LabelReconciler resolves raw label text to persisted labels, creating
// only the ones that do not exist yet.
type LabelReconciler struct {
	repo Repository
}

// NewLabelReconciler builds a reconciler over repo.
func NewLabelReconciler(repo Repository) *LabelReconciler {
	return &LabelReconciler{repo: repo}
}

// Resolve returns one Label per distinct entry of raw, in first-seen order,
// and the number of labels it created. Repository failures are returned as
// *StoreError.
func (r *LabelReconciler) Resolve(ctx context.Context, raw []string) ([]Label, int, error) {
	texts := DistinctLabels(raw)
	if len(texts) == 0 {
		return nil, 0, nil
	}

	existing, err := r.repo.FindLabelsByText(ctx, texts)
	if err != nil {
		return nil, 0, storeErr("find labels", err)
	}
	byText := make(map[string]Label, len(texts))
	for _, l := range existing {
		byText[l.Text] = l
	}

	missing := make([]string, 0, len(texts))
	for _, t := range texts {
		if _, ok := byText[t]; !ok {
			missing = append(missing, t)
		}
	}

	created := 0
	if len(missing) > 0 {
		made, err := r.repo.BulkCreateLabels(ctx, missing)
		if err != nil {
			return nil, 0, storeErr("create labels", err)
		}
		for _, l := range made {
			if _, ok := byText[l.Text]; !ok {
				created++
			}
			byText[l.Text] = l
		}
	}

	out := make([]Label, 0, len(texts))
	for _, t := range texts {
		l, ok := byText[t]
		if !ok {
			return nil, 0, storeErr("create labels", fmt.Errorf("label %q was not returned", t))
		}
		out = append(out, l)
	}
	return out, created, nil
}
