package model

import (
	"encoding/json"
	"fmt"
)

type collectionJSON struct {
	Manifest Manifest                   `json:"manifest"`
	Entries  map[string]json.RawMessage `json:"entries"`
}

// MarshalJSON encodes the collection with a "form" discriminator on every
// entry. Entries are keyed by id, so output is deterministic.
func (c *Collection) MarshalJSON() ([]byte, error) {
	out := collectionJSON{Manifest: c.Manifest, Entries: make(map[string]json.RawMessage, len(c.entries))}
	if out.Manifest.TopLevel == nil {
		out.Manifest.TopLevel = []string{}
	}
	for id, e := range c.entries {
		raw, err := MarshalEntry(e)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", id, err)
		}
		out.Entries[id] = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a collection written by MarshalJSON. The result is
// sealed.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var in collectionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.Manifest = in.Manifest
	c.entries = make(map[string]Entry, len(in.Entries))
	c.sealed = false
	for id, raw := range in.Entries {
		e, err := UnmarshalEntry(raw)
		if err != nil {
			return fmt.Errorf("entry %s: %w", id, err)
		}
		if e.Info().ID != id {
			return fmt.Errorf("entry keyed %s has id %s", id, e.Info().ID)
		}
		if err := c.AddEntry(e); err != nil {
			return err
		}
	}
	c.sealed = true
	return nil
}

// MarshalEntry encodes a single entry with its "form" discriminator.
func MarshalEntry(e Entry) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	form, _ := json.Marshal(e.Kind())
	fields["form"] = form
	return json.Marshal(fields)
}

// UnmarshalEntry decodes an entry, selecting the variant from "form".
func UnmarshalEntry(data []byte) (Entry, error) {
	var head struct {
		Form Kind `json:"form"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	var e Entry
	switch head.Form {
	case KindModule:
		e = &ModuleEntry{}
	case KindClass:
		e = &ClassEntry{}
	case KindFunction:
		e = &FunctionEntry{}
	case KindAttribute:
		e = &AttributeEntry{}
	case KindSpecial:
		e = &SpecialEntry{}
	default:
		return nil, fmt.Errorf("unknown entry form %q", head.Form)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}
