package diff

import (
	"fmt"

	"github.com/phobologic/apidrift/internal/model"
)

var kindRules = RuleSet{
	Name: "kind",
	Rules: []Rule{
		{
			Name: "ChangeEntryKind",
			Rank: model.High,
			Applies: func(old, new model.Kind) bool {
				return old != new && old != model.KindSpecial && new != model.KindSpecial
			},
			Check: func(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
				return []model.DiffEntry{{
					Message: fmt.Sprintf("Change entry kind (%s): %s -> %s.", old.Info().ID, old.Kind(), new.Kind()),
					Data:    map[string]any{"old": string(old.Kind()), "new": string(new.Kind())},
				}}, nil
			},
		},
	},
}
