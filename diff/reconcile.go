package diff

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/alwitt/stockpile/models"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DisplayChange a field change decorated for display
type DisplayChange struct {
	models.FieldChange
	// TextDelta inline character level delta, set when both values are strings
	TextDelta string `json:"textDelta,omitempty"`
}

// CollectionReconciliation how one collection of an incoming dump differs from live state
type CollectionReconciliation struct {
	// Added IDs present only in the incoming dump
	Added []string `json:"added"`
	// Removed IDs present only in the live collection
	Removed []string `json:"removed"`
	// Changed field changes of records present on both sides
	Changed map[string][]DisplayChange `json:"changed"`
	// Unchanged number of records identical on both sides
	Unchanged int `json:"unchanged"`
}

// Reconciliation per collection comparison of live state against an incoming dump
type Reconciliation map[models.Collection]CollectionReconciliation

/*
Reconcile compare live collections against an incoming dump. The result is meant for
display only; applying a dump always replaces collections wholesale.

	@param current map[models.Collection][]models.Record - live records
	@param incoming map[models.Collection][]models.Record - records of the dump
	@returns the per collection comparison
*/
func Reconcile(
	current map[models.Collection][]models.Record, incoming map[models.Collection][]models.Record,
) (Reconciliation, error) {
	result := Reconciliation{}
	for _, collection := range models.RecordCollections {
		live := indexByID(current[collection])
		proposed := indexByID(incoming[collection])

		entry := CollectionReconciliation{
			Added:   []string{},
			Removed: []string{},
			Changed: map[string][]DisplayChange{},
		}

		for id, record := range proposed {
			existing, ok := live[id]
			if !ok {
				entry.Added = append(entry.Added, id)
				continue
			}
			changes, err := Compute(existing, record)
			if err != nil {
				return nil, err
			}
			if len(changes) == 0 {
				entry.Unchanged++
				continue
			}
			decorated := make([]DisplayChange, 0, len(changes))
			for _, change := range changes {
				decorated = append(decorated, decorate(change))
			}
			entry.Changed[id] = decorated
		}
		for id := range live {
			if _, ok := proposed[id]; !ok {
				entry.Removed = append(entry.Removed, id)
			}
		}

		sort.Strings(entry.Added)
		sort.Strings(entry.Removed)
		result[collection] = entry
	}
	return result, nil
}

func indexByID(records []models.Record) map[string]models.Record {
	index := make(map[string]models.Record, len(records))
	for _, record := range records {
		index[record.GetMeta().ID] = record
	}
	return index
}

func decorate(change models.FieldChange) DisplayChange {
	result := DisplayChange{FieldChange: change}
	var oldText, newText string
	if json.Unmarshal(change.OldValue, &oldText) == nil && json.Unmarshal(change.NewValue, &newText) == nil {
		result.TextDelta = TextDelta(oldText, newText)
	}
	return result
}

/*
TextDelta render a character level delta between two strings. Deletions are shown as
`[-text-]`, insertions as `{+text+}`.

	@param oldText string - old value
	@param newText string - new value
	@returns the rendered delta
*/
func TextDelta(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(oldText, newText, false))

	var builder strings.Builder
	for _, one := range diffs {
		switch one.Type {
		case diffmatchpatch.DiffDelete:
			builder.WriteString("[-" + one.Text + "-]")
		case diffmatchpatch.DiffInsert:
			builder.WriteString("{+" + one.Text + "+}")
		default:
			builder.WriteString(one.Text)
		}
	}
	return builder.String()
}
