package archive

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/BDNK1/plugpack/internal/constants"
	"github.com/BDNK1/plugpack/internal/metadata"
	"github.com/BDNK1/plugpack/internal/security"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Namer turns plugin metadata into an archive file name using an expression
// over id, version and name. The default yields "<id>-v<version>.zip".
type Namer struct {
	source  string
	program *vm.Program
}

// NewNamer compiles expression. An empty expression selects the default.
func NewNamer(expression string) (*Namer, error) {
	if strings.TrimSpace(expression) == "" {
		expression = constants.DefaultArchiveName
	}

	program, err := expr.Compile(expression,
		expr.Env(nameEnv(&metadata.PluginMetadata{})),
		expr.AsKind(reflect.String),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid archive name expression %q: %w", expression, err)
	}

	return &Namer{source: expression, program: program}, nil
}

// Name evaluates the expression for meta. The result is a bare file name
// ending in .zip; identical metadata always gives the same name.
func (n *Namer) Name(meta *metadata.PluginMetadata) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}

	out, err := expr.Run(n.program, nameEnv(meta))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate archive name expression %q: %w", n.source, err)
	}

	name, _ := out.(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("archive name expression %q produced an empty name", n.source)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}

	if err := security.ValidateFileName(name); err != nil {
		return "", fmt.Errorf("archive name expression %q produced an invalid name: %w", n.source, err)
	}

	return name, nil
}

func nameEnv(meta *metadata.PluginMetadata) map[string]any {
	return map[string]any{
		"id":      meta.ID,
		"version": meta.Version,
		"name":    meta.Name,
	}
}
