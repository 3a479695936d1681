package shadowsim

import (
	"maps"
	"reflect"
)

// Thing is the stored shadow of one thing.
type Thing struct {
	Desired  map[string]any `json:"desired,omitempty"`
	Reported map[string]any `json:"reported,omitempty"`
	Version  int64          `json:"version"`
	Updated  int64          `json:"timestamp"`
}

// Delta returns the desired properties that differ from reported.
func (t *Thing) Delta() map[string]any {
	return delta(t.Desired, t.Reported)
}

func (t *Thing) clone() Thing {
	return Thing{
		Desired:  cloneSection(t.Desired),
		Reported: cloneSection(t.Reported),
		Version:  t.Version,
		Updated:  t.Updated,
	}
}

func cloneSection(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneSection(nested)
			continue
		}

		out[k] = v
	}

	return out
}

// merge applies patch to dst and returns the result. A nil value removes the key, nested objects are merged key by
// key and emptied objects are removed.
func merge(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}

	for k, v := range patch {
		switch pv := v.(type) {
		case nil:
			delete(dst, k)
		case map[string]any:
			existing, _ := dst[k].(map[string]any)
			merged := merge(maps.Clone(existing), pv)
			if len(merged) == 0 {
				delete(dst, k)
			} else {
				dst[k] = merged
			}
		default:
			dst[k] = v
		}
	}

	return dst
}

// delta returns every key of desired whose value is missing from or different in reported. Nested objects produce a
// nested delta holding only their differing keys.
func delta(desired, reported map[string]any) map[string]any {
	out := map[string]any{}

	for k, dv := range desired {
		rv, ok := reported[k]

		if dm, isObject := dv.(map[string]any); isObject {
			rm, _ := rv.(map[string]any)
			if sub := delta(dm, rm); len(sub) > 0 {
				out[k] = sub
			}
			continue
		}

		if !ok || !reflect.DeepEqual(dv, rv) {
			out[k] = dv
		}
	}

	return out
}
