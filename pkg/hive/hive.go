// Package hive edits registry hives through hivexsh. Edits are built as a typed command sequence
// and serialized into the line oriented script hivexsh reads with -f.
package hive

import (
	"strconv"
	"strings"
)

// Prefix hivexsh puts in front of the raw bytes of values it has no text form for.
const hexPrefix = "hex:"

// Kind is a registry value type as hivexsh spells it.
type Kind string

const (
	KIND_DWORD        Kind = "dword"
	KIND_QWORD        Kind = "qword"
	KIND_STRING       Kind = "string"
	KIND_EXPANDSTRING Kind = "expandstring"
)

// Value is one named registry value.
type Value struct {
	Name string
	Kind Kind
	Data string
}

// Command is one step of an edit script.
type Command interface {
	Lines() []string
}

// Navigate changes to the key at Path, relative to the hive root.
type Navigate struct {
	Path []string
}

func (c Navigate) Lines() []string {
	return []string{"cd \\" + strings.Join(c.Path, "\\")}
}

// ListKeys lists the subkeys of the current key.
type ListKeys struct{}

func (ListKeys) Lines() []string { return []string{"ls"} }

// AddKey creates a subkey of the current key.
type AddKey struct {
	Name string
}

func (c AddKey) Lines() []string { return []string{"add " + c.Name} }

// ListValues prints the values of the current key.
type ListValues struct{}

func (ListValues) Lines() []string { return []string{"lsval"} }

// SetValues replaces the values of the current key. Values left out are deleted.
type SetValues struct {
	Values []Value
}

func (c SetValues) Lines() []string {
	lines := []string{"setval " + strconv.Itoa(len(c.Values))}
	for _, v := range c.Values {
		lines = append(lines, v.Name, string(v.Kind)+":"+v.Data)
	}
	return lines
}

// Commit writes the changes back to the hive file.
type Commit struct{}

func (Commit) Lines() []string { return []string{"commit"} }

// Quit ends the session.
type Quit struct{}

func (Quit) Lines() []string { return []string{"quit"} }

// Serialize renders commands as a hivexsh script.
func Serialize(cmds []Command) string {
	var b strings.Builder
	for _, c := range cmds {
		for _, line := range c.Lines() {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// PatchSpec describes values to merge into the key Key below KeyPath.
type PatchSpec struct {
	KeyPath []string
	Key     string
	Values  []Value
}

// DefaultPatchSpec lifts the TPM and Secure Boot requirements of Windows setup.
func DefaultPatchSpec() PatchSpec {
	return PatchSpec{
		KeyPath: []string{"Setup"},
		Key:     "LabConfig",
		Values: []Value{
			{Name: "BypassTPMCheck", Kind: KIND_DWORD, Data: "1"},
			{Name: "BypassSecureBootCheck", Kind: KIND_DWORD, Data: "1"},
		},
	}
}

// Path returns the full path of the patched key.
func (s PatchSpec) Path() []string {
	return append(append([]string{}, s.KeyPath...), s.Key)
}

// CreateScript navigates to the parent, creates the key and sets the values.
func (s PatchSpec) CreateScript() []Command {
	return []Command{
		Navigate{Path: s.KeyPath},
		ListKeys{},
		AddKey{Name: s.Key},
		Navigate{Path: s.Path()},
		SetValues{Values: s.Values},
		Commit{},
		Quit{},
	}
}

// ListScript prints the values of the patched key.
func (s PatchSpec) ListScript() []Command {
	return []Command{
		Navigate{Path: s.Path()},
		ListValues{},
		Quit{},
	}
}

// Merge returns s with the existing values it does not name put in front of its own, so an
// update keeps them.
func (s PatchSpec) Merge(existing []Value) PatchSpec {
	own := map[string]bool{}
	for _, v := range s.Values {
		own[strings.ToLower(v.Name)] = true
	}
	var values []Value
	for _, v := range existing {
		if !own[strings.ToLower(v.Name)] {
			values = append(values, v)
		}
	}
	s.Values = append(values, s.Values...)
	return s
}

// ParseValues reads the output of lsval back into values setval accepts. Lines it cannot read
// are returned separately.
func ParseValues(out string) ([]Value, []string) {
	var values []Value
	var bad []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, ok := parseValue(line)
		if !ok {
			bad = append(bad, line)
			continue
		}
		values = append(values, v)
	}
	return values, bad
}

// parseValue reads one lsval line: "name"=data, or @=data for the default value.
func parseValue(line string) (Value, bool) {
	var name, data string
	switch {
	case strings.HasPrefix(line, "@="):
		name, data = "@", line[2:]
	case strings.HasPrefix(line, `"`):
		i := strings.Index(line, `"=`)
		if i < 1 {
			return Value{}, false
		}
		name, data = line[1:i], line[i+2:]
	default:
		return Value{}, false
	}

	switch {
	case strings.HasPrefix(data, "dword:"):
		n, err := strconv.ParseUint(strings.TrimPrefix(data, "dword:"), 16, 32)
		if err != nil {
			return Value{}, false
		}
		return Value{Name: name, Kind: KIND_DWORD, Data: strconv.FormatUint(n, 10)}, true
	case strings.HasPrefix(data, `str(2):"`) && strings.HasSuffix(data, `"`):
		return Value{Name: name, Kind: KIND_EXPANDSTRING, Data: data[len(`str(2):"`) : len(data)-1]}, true
	case len(data) >= 2 && strings.HasPrefix(data, `"`) && strings.HasSuffix(data, `"`):
		return Value{Name: name, Kind: KIND_STRING, Data: data[1 : len(data)-1]}, true
	case strings.HasPrefix(data, "hex("):
		i := strings.Index(data, "):")
		if i < 0 {
			return Value{}, false
		}
		if _, err := strconv.Atoi(data[4:i]); err != nil {
			return Value{}, false
		}
		return Value{Name: name, Kind: Kind(hexPrefix + data[4:i]), Data: data[i+2:]}, true
	}
	return Value{}, false
}

// UpdateScript sets the values of a key that already exists.
func (s PatchSpec) UpdateScript() []Command {
	return []Command{
		Navigate{Path: s.Path()},
		SetValues{Values: s.Values},
		Commit{},
		Quit{},
	}
}
