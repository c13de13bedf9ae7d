// Package entities owns the entity keyvalue table (spec.md Sec4.C): an
// ordered list of keyvalue bags parsed from the Entities lump's text blob,
// with insertion-order-preserving accessors and a stable re-serialization.
//
// The teacher never parses the Entities lump (Quake 2's viewer only needs
// geometry/textures), so this package's decode loop follows the teacher's
// general manual-scan style (q2file's byte-at-a-time string termination in
// getTextureIds / byteToString) applied to the brace/quoted-pair grammar
// from spec.md Sec6.
package entities

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bspedit/bspedit/bspfile"
)

// Keyvalue is one "key" "value" pair, kept in insertion order within its
// entity.
type Keyvalue struct {
	Key   string
	Value string
}

// Entity is an ordered bag of keyvalues. Order matters both for stable
// re-serialization and because some engine behaviors read keys in
// declaration order.
type Entity struct {
	pairs []Keyvalue
}

// AngleBehavior selects how a directional keyvalue should be interpreted,
// per spec.md Sec4.C ("the table knows three behaviors ... caller selects
// which semantic to apply"), following bspguy's ANGLE_ROTATE / ANGLE_DIRECTION
// / ambiguous-default split (original_source/src/bsp/Bsp.cpp).
type AngleBehavior int

const (
	AngleAmbiguous AngleBehavior = iota
	AngleRotate                  // brush entities: "angles" pitch/yaw/roll triple
	AngleDirection                // info_landmark et al.: single "angle" yaw, with -1/-2 up/down sentinels
)

// GetKeyvalue returns the value for key and whether it was present.
func (e *Entity) GetKeyvalue(key string) (string, bool) {
	for _, kv := range e.pairs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// SetOrAddKeyvalue updates key in place if present, else appends it
// (preserving insertion order for every other key).
func (e *Entity) SetOrAddKeyvalue(key, value string) {
	for i := range e.pairs {
		if e.pairs[i].Key == key {
			e.pairs[i].Value = value
			return
		}
	}
	e.pairs = append(e.pairs, Keyvalue{Key: key, Value: value})
}

// RemoveKeyvalue deletes key if present.
func (e *Entity) RemoveKeyvalue(key string) {
	for i := range e.pairs {
		if e.pairs[i].Key == key {
			e.pairs = append(e.pairs[:i], e.pairs[i+1:]...)
			return
		}
	}
}

// RenameKey renames a key in place, preserving its position and value.
func (e *Entity) RenameKey(oldKey, newKey string) {
	for i := range e.pairs {
		if e.pairs[i].Key == oldKey {
			e.pairs[i].Key = newKey
			return
		}
	}
}

// Keys returns the keys in insertion order (read-only convenience for
// callers such as GetAllTargetnames).
func (e *Entity) Keys() []string {
	out := make([]string, len(e.pairs))
	for i, kv := range e.pairs {
		out[i] = kv.Key
	}
	return out
}

// Classname is shorthand for GetKeyvalue("classname").
func (e *Entity) Classname() string {
	v, _ := e.GetKeyvalue("classname")
	return v
}

// GetBspModelIdx parses the leading '*' of a "model" value ("*3" -> 3,
// ok=true). Entities without a model key, or whose model does not start
// with '*' (a studio/sprite model path), return ok=false.
func (e *Entity) GetBspModelIdx() (int, bool) {
	v, ok := e.GetKeyvalue("model")
	if !ok || !strings.HasPrefix(v, "*") {
		return 0, false
	}
	n, err := strconv.Atoi(v[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetOrigin parses "origin" as "x y z", defaulting to the zero vector.
func (e *Entity) GetOrigin() [3]float64 {
	v, ok := e.GetKeyvalue("origin")
	if !ok {
		return [3]float64{}
	}
	var out [3]float64
	fields := strings.Fields(v)
	for i := 0; i < 3 && i < len(fields); i++ {
		f, _ := strconv.ParseFloat(fields[i], 64)
		out[i] = f
	}
	return out
}

// SetOrigin writes "origin" as "x y z" with the precision the compile
// tools themselves emit (integral where possible, otherwise %g).
func (e *Entity) SetOrigin(v [3]float64) {
	e.SetOrAddKeyvalue("origin", fmt.Sprintf("%g %g %g", v[0], v[1], v[2]))
}

// GetVectorKey generalizes GetOrigin to any "x y z" formatted keyvalue
// (e.g. "spawnorigin"), reporting whether the key was present.
func (e *Entity) GetVectorKey(key string) ([3]float64, bool) {
	v, ok := e.GetKeyvalue(key)
	if !ok {
		return [3]float64{}, false
	}
	var out [3]float64
	fields := strings.Fields(v)
	for i := 0; i < 3 && i < len(fields); i++ {
		f, _ := strconv.ParseFloat(fields[i], 64)
		out[i] = f
	}
	return out, true
}

// SetVectorKey generalizes SetOrigin to any "x y z" formatted keyvalue.
func (e *Entity) SetVectorKey(key string, v [3]float64) {
	e.SetOrAddKeyvalue(key, fmt.Sprintf("%g %g %g", v[0], v[1], v[2]))
}

// Table is the ordered list of entities parsed from the Entities lump. By
// invariant (spec.md Sec3 invariant 4) entity 0 is always worldspawn.
type Table struct {
	Entities []*Entity
}

// Parse decodes the entities text grammar (spec.md Sec6):
//
//	entities := (entity)*
//	entity    := '{' pair* '}'
//	pair      := '"' key '"' '"' value '"'
//
// A '{' appearing while already inside an entity, or EOF before the
// closing '}', is a MalformedEnts condition -- the offending entity is
// dropped with a diagnostic rather than failing the whole parse, matching
// the "dropped with a diagnostic" wording of spec.md Sec4.C.
func Parse(text []byte) (*Table, []error) {
	var errs []error
	table := &Table{}

	s := string(text)
	i := 0
	n := len(s)

	skipSpace := func() {
		for i < n && (s[i] == ' ' || s[i] == '\t' || s[i] == '\r' || s[i] == '\n') {
			i++
		}
	}

	for {
		skipSpace()
		if i >= n {
			break
		}
		if s[i] != '{' {
			errs = append(errs, fmt.Errorf("%w: unexpected %q outside entity at byte %d", bspfile.ErrMalformedEnts, s[i], i))
			i++
			continue
		}
		i++ // consume '{'

		ent := &Entity{}
		malformed := false
	pairs:
		for {
			skipSpace()
			if i >= n {
				errs = append(errs, fmt.Errorf("%w: eof inside entity", bspfile.ErrMalformedEnts))
				malformed = true
				break
			}
			switch s[i] {
			case '}':
				i++
				break pairs
			case '{':
				errs = append(errs, fmt.Errorf("%w: nested '{' at byte %d", bspfile.ErrMalformedEnts, i))
				malformed = true
				i++
				// consume to the matching close brace best-effort
				for i < n && s[i] != '}' {
					i++
				}
				if i < n {
					i++
				}
				break pairs
			case '"':
				key, ni, err := parseQuoted(s, i)
				if err != nil {
					errs = append(errs, fmt.Errorf("%w: %v", bspfile.ErrMalformedEnts, err))
					malformed = true
					break pairs
				}
				i = ni
				skipSpace()
				if i >= n || s[i] != '"' {
					errs = append(errs, fmt.Errorf("%w: expected value after key %q", bspfile.ErrMalformedEnts, key))
					malformed = true
					break pairs
				}
				val, ni2, err := parseQuoted(s, i)
				if err != nil {
					errs = append(errs, fmt.Errorf("%w: %v", bspfile.ErrMalformedEnts, err))
					malformed = true
					break pairs
				}
				i = ni2
				ent.pairs = append(ent.pairs, Keyvalue{Key: key, Value: val})
			default:
				errs = append(errs, fmt.Errorf("%w: unexpected byte %q at %d", bspfile.ErrMalformedEnts, s[i], i))
				malformed = true
				i++
			}
		}

		if !malformed {
			table.Entities = append(table.Entities, ent)
		}
	}

	return table, errs
}

func parseQuoted(s string, i int) (string, int, error) {
	if i >= len(s) || s[i] != '"' {
		return "", i, fmt.Errorf("expected '\"' at byte %d", i)
	}
	i++
	start := i
	for i < len(s) && s[i] != '"' {
		i++
	}
	if i >= len(s) {
		return "", i, fmt.Errorf("unterminated quoted string")
	}
	return s[start:i], i + 1, nil
}

// Serialize regenerates the entity lump text: braces separated by
// newlines, no trailing newline after the final '}' (spec.md Sec6 notes
// this omission reproduces an observed engine parsing quirk).
func (t *Table) Serialize() []byte {
	var b strings.Builder
	for idx, ent := range t.Entities {
		b.WriteString("{\n")
		for _, kv := range ent.pairs {
			fmt.Fprintf(&b, "\"%s\" \"%s\"\n", kv.Key, kv.Value)
		}
		b.WriteString("}")
		if idx != len(t.Entities)-1 {
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

// ModelEntities returns every entity whose "model" keyvalue addresses
// modelIdx (spec.md Sec4.D get_model_ents).
func (t *Table) ModelEntities(modelIdx int) []*Entity {
	var out []*Entity
	for _, e := range t.Entities {
		if idx, ok := e.GetBspModelIdx(); ok && idx == modelIdx {
			out = append(out, e)
		}
	}
	return out
}

// GetAllTargetnames collects the value of every keyvalue whose *key* is a
// known target-name synonym. In the full system this consults the FGD
// symbol table to learn which keys are typed target_source; since FGD
// parsing is an external collaborator (spec.md Sec1), this accepts the
// resolved key set from the caller instead of parsing FGD itself.
func (t *Table) GetAllTargetnames(targetSourceKeys []string) []string {
	set := map[string]bool{}
	for _, key := range targetSourceKeys {
		set[key] = true
	}
	var names []string
	seen := map[string]bool{}
	for _, e := range t.Entities {
		for _, kv := range e.pairs {
			if set[kv.Key] && kv.Value != "" && !seen[kv.Value] {
				seen[kv.Value] = true
				names = append(names, kv.Value)
			}
		}
	}
	return names
}

// WorldspawnIndex returns the index of the worldspawn entity, which
// invariant 4 (spec.md Sec3) requires to be 0.
func (t *Table) WorldspawnIndex() (int, bool) {
	for i, e := range t.Entities {
		if e.Classname() == "worldspawn" {
			return i, true
		}
	}
	return 0, false
}
