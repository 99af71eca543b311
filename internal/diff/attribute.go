package diff

import (
	"fmt"

	"github.com/phobologic/apidrift/internal/model"
)

const unknownType = "unknown"

var attributeRules = RuleSet{
	Name: "attribute",
	Rules: []Rule{
		{Name: "ChangeAttributeType", Rank: model.Low, Applies: bothKind(model.KindAttribute), Check: changeAttributeType},
		{Name: "ChangeAttributeAnnotation", Rank: model.Low, Applies: bothKind(model.KindAttribute), Check: changeAttributeAnnotation},
	},
}

func knownType(t string) bool { return t != "" && t != unknownType }

func changeAttributeType(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
	oa, na := old.(*model.AttributeEntry), new.(*model.AttributeEntry)
	if !knownType(oa.RawType) || !knownType(na.RawType) || oa.RawType == na.RawType {
		return nil, nil
	}
	return []model.DiffEntry{{
		Message: fmt.Sprintf("Change attribute type (%s): %s -> %s.", oa.ID, oa.RawType, na.RawType),
		Data:    map[string]any{"old": oa.RawType, "new": na.RawType},
	}}, nil
}

func changeAttributeAnnotation(old, new model.Entry, _ *Context) ([]model.DiffEntry, error) {
	oa, na := old.(*model.AttributeEntry), new.(*model.AttributeEntry)
	before, after := normalizeAnnotation(oa.Annotation), normalizeAnnotation(na.Annotation)
	if before == after {
		return nil, nil
	}
	return []model.DiffEntry{{
		Message: fmt.Sprintf("Change attribute annotation (%s): %q -> %q.", oa.ID, before, after),
		Data:    map[string]any{"old": before, "new": after},
	}}, nil
}
