package proposal

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	apperrors "github.com/louisbranch/reviewdesk/internal/platform/errors"
)

// maxKeywords bounds the keyword list accepted from an update.
const maxKeywords = 16

type setter func(p *Proposal, value any) error

// updatableFields is the complete set of fields an external party may change
// through an update request. Keys outside this table are ignored.
var updatableFields = map[string]setter{
	"title":        requiredText(func(p *Proposal, v string) { p.Title = v }),
	"abstract":     optionalText(func(p *Proposal, v string) { p.Abstract = v }),
	"owner_name":   requiredText(func(p *Proposal, v string) { p.OwnerName = v }),
	"department":   optionalText(func(p *Proposal, v string) { p.Department = v }),
	"update_notes": optionalText(func(p *Proposal, v string) { p.UpdateNotes = v }),
	"keywords":     setKeywords,
}

// UpdatableFields returns the sorted names accepted by ApplyUpdates.
func UpdatableFields() []string {
	names := make([]string, 0, len(updatableFields))
	for name := range updatableFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyUpdates returns a copy of p with the whitelisted keys of updates
// applied, plus the sorted list of fields that were applied. Unknown keys are
// ignored. A known key with a value of the wrong shape fails the whole merge
// and leaves p untouched.
func ApplyUpdates(p Proposal, updates map[string]any) (Proposal, []string, error) {
	next := p.Clone()
	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	applied := make([]string, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimSpace(key)
		set, ok := updatableFields[name]
		if !ok {
			continue
		}
		if err := set(&next, updates[key]); err != nil {
			return p, nil, apperrors.WithMetadata(
				apperrors.CodeProposalInvalidField,
				fmt.Sprintf("update field %s: %v", name, err),
				map[string]string{"Field": name},
			)
		}
		applied = append(applied, name)
	}
	return next, applied, nil
}

// ApplyArtifacts returns a copy of p with each slot pointed at its new file
// reference, plus the references that were displaced. Displaced references
// must only be deleted from file storage after the copy is persisted.
func ApplyArtifacts(p Proposal, files map[Slot]string) (Proposal, []string, error) {
	for slot, ref := range files {
		if !slices.Contains(Slots, slot) {
			return p, nil, apperrors.WithMetadata(apperrors.CodeProposalInvalidField, "artifact slot is unknown", map[string]string{"Field": string(slot)})
		}
		if strings.TrimSpace(ref) == "" {
			return p, nil, apperrors.WithMetadata(apperrors.CodeProposalInvalidField, "artifact reference is empty", map[string]string{"Field": string(slot)})
		}
	}

	next := p.Clone()
	var replaced []string
	for _, slot := range Slots {
		ref, ok := files[slot]
		if !ok {
			continue
		}
		ref = strings.TrimSpace(ref)
		previous := next.ArtifactRef(slot)
		next.setArtifactRef(slot, ref)
		if previous != "" && previous != ref {
			replaced = append(replaced, previous)
		}
	}
	return next, replaced, nil
}

func requiredText(assign func(*Proposal, string)) setter {
	return func(p *Proposal, value any) error {
		text, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return fmt.Errorf("value is required")
		}
		assign(p, text)
		return nil
	}
}

func optionalText(assign func(*Proposal, string)) setter {
	return func(p *Proposal, value any) error {
		if value == nil {
			assign(p, "")
			return nil
		}
		text, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		assign(p, strings.TrimSpace(text))
		return nil
	}
}

// setKeywords accepts a list of strings or a comma-separated string.
func setKeywords(p *Proposal, value any) error {
	var raw []string
	switch typed := value.(type) {
	case nil:
	case string:
		raw = strings.Split(typed, ",")
	case []string:
		raw = typed
	case []any:
		for _, item := range typed {
			text, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string keyword, got %T", item)
			}
			raw = append(raw, text)
		}
	default:
		return fmt.Errorf("expected list of strings, got %T", value)
	}

	keywords := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keywords = append(keywords, item)
	}
	if len(keywords) > maxKeywords {
		return fmt.Errorf("at most %d keywords are allowed", maxKeywords)
	}
	p.Keywords = keywords
	return nil
}
