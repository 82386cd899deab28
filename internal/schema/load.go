package schema

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed core.cue
var coreCUE []byte

// LoadError reports a schema document that failed to load.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// attributeDef mirrors #Attribute in core.cue.
type attributeDef struct {
	ID        int  `json:"id"`
	Single    bool `json:"single"`
	Sensitive bool `json:"sensitive"`
}

// Default returns a registry containing only the core attribute types.
func Default() (*Registry, error) {
	return LoadSource("", nil)
}

// Load reads a CUE schema file and returns a registry containing the core
// attribute types plus those defined in the file.
func Load(path string) (*Registry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return LoadSource(path, src)
}

// LoadSource compiles src against the core schema. An empty src yields the
// core schema alone.
func LoadSource(filename string, src []byte) (*Registry, error) {
	cctx := cuecontext.New()

	v := cctx.CompileBytes(coreCUE, cue.Filename("core.cue"))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	if len(src) > 0 {
		user := cctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		v = v.Unify(user)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	attrs := v.LookupPath(cue.ParsePath("attributes"))
	if !attrs.Exists() {
		return nil, &LoadError{Field: "attributes", Message: "attributes is required", Pos: v.Pos()}
	}

	iter, err := attrs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []Descriptor
	for iter.Next() {
		name := iter.Selector().Unquoted()
		var def attributeDef
		if err := iter.Value().Decode(&def); err != nil {
			return nil, formatCUEError(err)
		}
		defs = append(defs, Descriptor{
			Name:        name,
			ID:          uint16(def.ID),
			MultiValued: !def.Single,
			Sensitive:   def.Sensitive,
		})
	}

	// Field order from CUE is declaration order; sort so ID collisions are
	// reported the same way on every run.
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	return NewRegistry(defs)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
