// Package meta models the function metadata the compiler pipeline emits
// alongside the circuit IR: the entry function name, its return shape, and
// the ordered parameter descriptors the runtime needs to bind argument
// buffers and route back-writes.
package meta

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/mod/semver"

	"github.com/malchev/fully-homomorphic-encryption/core/ir"
)

// MinCompilerVersion is the oldest metadata producer this runtime accepts.
// The field is optional in the metadata; when present it must be valid
// semver at or above this floor.
const MinCompilerVersion = "v0.1.0"

// ReturnType describes the declared return of the entry function.
type ReturnType struct {
	AsVoid bool
}

// Param is one entry-function parameter descriptor. Order matches the
// source-function signature and the IR parameter list.
type Param struct {
	Name        string
	Type        *ir.Type
	IsConst     bool
	IsReference bool
}

// OutputBinding reports whether the parameter receives back-writes after a
// run: a non-const reference.
func (p Param) OutputBinding() bool {
	return !p.IsConst && p.IsReference
}

// Metadata is the parsed, validated metadata record.
type Metadata struct {
	CompilerVersion string
	TopFuncName     string
	Return          ReturnType
	Params          []Param
}

// Param looks a parameter up by name.
func (m *Metadata) Param(name string) (Param, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// ParamNames returns parameter names in signature order.
func (m *Metadata) ParamNames() []string {
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.Name
	}
	return names
}

// OutputBindings returns the output-binding parameters in signature order.
func (m *Metadata) OutputBindings() []Param {
	var out []Param
	for _, p := range m.Params {
		if p.OutputBinding() {
			out = append(out, p)
		}
	}
	return out
}

// rawMetadata mirrors the JSON wire shape.
type rawMetadata struct {
	CompilerVersion string `json:"compiler_version,omitempty"`
	TopFuncName     string `json:"top_func_name"`
	ReturnType      struct {
		AsVoid bool `json:"as_void"`
	} `json:"return_type"`
	Params []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		IsConst     bool   `json:"is_const"`
		IsReference bool   `json:"is_reference"`
	} `json:"params"`
}

// Parse validates text against the metadata schema and decodes it.
func Parse(text string) (*Metadata, error) {
	if err := validateSchema([]byte(text)); err != nil {
		return nil, err
	}

	var raw rawMetadata
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("meta: decoding metadata: %w", err)
	}

	if raw.CompilerVersion != "" {
		if !semver.IsValid(raw.CompilerVersion) {
			return nil, fmt.Errorf("meta: compiler_version %q is not valid semver", raw.CompilerVersion)
		}
		if semver.Compare(raw.CompilerVersion, MinCompilerVersion) < 0 {
			return nil, fmt.Errorf("meta: compiler_version %s is older than minimum supported %s",
				raw.CompilerVersion, MinCompilerVersion)
		}
	}

	m := &Metadata{
		CompilerVersion: raw.CompilerVersion,
		TopFuncName:     raw.TopFuncName,
		Return:          ReturnType{AsVoid: raw.ReturnType.AsVoid},
	}
	seen := make(map[string]bool, len(raw.Params))
	for _, rp := range raw.Params {
		if seen[rp.Name] {
			return nil, fmt.Errorf("meta: duplicate parameter %q", rp.Name)
		}
		seen[rp.Name] = true
		typ, err := ir.ParseType(rp.Type)
		if err != nil {
			return nil, fmt.Errorf("meta: parameter %s: %w", rp.Name, err)
		}
		m.Params = append(m.Params, Param{
			Name:        rp.Name,
			Type:        typ,
			IsConst:     rp.IsConst,
			IsReference: rp.IsReference,
		})
	}
	return m, nil
}

// Load reads and parses a metadata file.
func Load(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("meta: reading %s: %w", path, err)
	}
	return Parse(string(data))
}
