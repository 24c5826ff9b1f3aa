// Package variants derives canonical identities for variants and variant combos.
package variants

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/davidthor/bundlefix/pkg/errors"
	"github.com/davidthor/bundlefix/pkg/model"
)

// ComboSeparator joins member keys of a combo key. No variant key contains it.
const ComboSeparator = "|"

// BaseKey is the key of every base variant.
const BaseKey = "base"

// Key returns the structural identity of v. Two variants describing the same
// axis value get the same key regardless of their display names or arena
// addresses.
func Key(site *model.Site, v *model.Variant) string {
	switch {
	case v.Parent != "":
		return "uuid:" + v.UUID
	case v.IsBase():
		return BaseKey
	case v.IsCodeComponentVariant():
		// Key order is significant.
		return digest("cc", struct {
			Name string   `json:"codeComponentName"`
			Keys []string `json:"codeComponentVariantKeys"`
		}{v.CodeComponentName, v.CodeComponentVariantKeys})
	case v.IsStyleVariant():
		selectors := append([]string(nil), v.Selectors...)
		sort.Strings(selectors)
		var forTpl *string
		if v.ForTpl != "" {
			uuid := string(v.ForTpl)
			if tpl, ok := site.Tpl(v.ForTpl); ok {
				uuid = tpl.UUID
			}
			forTpl = &uuid
		}
		return digest("style", []interface{}{selectors, forTpl})
	default:
		return "uuid:" + v.UUID
	}
}

// digest hashes a JSON rendering of fields so the key never contains the
// combo separator, whatever the selectors look like.
func digest(kind string, fields interface{}) string {
	// Marshalling plain strings and slices cannot fail.
	raw, _ := json.Marshal(fields)
	sum := sha256.Sum256(raw)
	return kind + ":" + hex.EncodeToString(sum[:])
}

// KeyOf resolves id in the site arena and returns its key.
func KeyOf(site *model.Site, id model.ID) (string, error) {
	v, ok := site.Variant(id)
	if !ok {
		return "", errors.InvariantViolation("variant reference does not resolve", map[string]interface{}{
			"variant": id,
		})
	}
	return Key(site, v), nil
}

// ComboKey returns the canonical key of a variant combo: member keys sorted
// and joined with ComboSeparator. The empty combo maps to "".
func ComboKey(site *model.Site, combo []model.ID) (string, error) {
	if len(combo) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(combo))
	for _, id := range combo {
		k, err := KeyOf(site, id)
		if err != nil {
			return "", err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ComboSeparator), nil
}
