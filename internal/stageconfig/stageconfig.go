package stageconfig

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/connectogrid/internal/ctxlog"
	"github.com/specialistvlad/connectogrid/internal/failure"
	"github.com/specialistvlad/connectogrid/internal/hclutil"
	"github.com/specialistvlad/connectogrid/internal/stage"
	"github.com/zclconf/go-cty/cty"
)

// ErrUnknownStage is returned for a stage block naming no stage of the
// target pipeline.
var ErrUnknownStage = errors.New("unknown stage")

const blockType = "stage"

var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: blockType, LabelNames: []string{"name"}},
	},
}

// Vars are the variables stage attributes may reference.
type Vars struct {
	OutputDir  string
	DatasetDir string
	Subject    string
}

func (v Vars) evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"output_dir":  cty.StringVal(v.OutputDir),
			"dataset_dir": cty.StringVal(v.DatasetDir),
			"subject":     cty.StringVal(v.Subject),
		},
	}
}

// Target is the pipeline a File is applied to.
type Target interface {
	Name() string
	Stage(name string) (stage.Stage, bool)
}

type stageBlock struct {
	name  string
	attrs []*hcl.Attribute
}

// File is a parsed per-domain configuration file.
type File struct {
	Path   string
	stages []stageBlock
}

// Stages returns the stage names configured by f in source order.
func (f *File) Stages() []string {
	names := make([]string, len(f.stages))
	for i, s := range f.stages {
		names[i] = s.name
	}
	return names
}

// ParseFile reads and parses the configuration file at path. Syntax
// errors and duplicate stage blocks are ConfigurationErrors carrying the
// source ranges.
func ParseFile(path string) (*File, error) {
	f, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, failure.Configuration("", diags)
	}
	return decode(path, f.Body)
}

// Parse parses src as if read from filename.
func Parse(src []byte, filename string) (*File, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, failure.Configuration("", diags)
	}
	return decode(filename, f.Body)
}

func decode(path string, body hcl.Body) (*File, error) {
	content, diags := body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, failure.Configuration("", diags)
	}
	blocks, order, diags := hclutil.UniqueLabeledBlocks(content.Blocks, blockType)
	if diags.HasErrors() {
		return nil, failure.Configuration("", diags)
	}

	file := &File{Path: path}
	for _, name := range order {
		var attrs map[string]*hcl.Attribute
		if diags := gohcl.DecodeBody(blocks[name].Body, nil, &attrs); diags.HasErrors() {
			return nil, failure.Configuration(name, diags)
		}
		sorted := make([]*hcl.Attribute, 0, len(attrs))
		for _, a := range attrs {
			sorted = append(sorted, a)
		}
		// Source order, so that a derived option sees its source set first.
		slices.SortFunc(sorted, func(a, b *hcl.Attribute) int {
			return a.Range.Start.Byte - b.Range.Start.Byte
		})
		file.stages = append(file.stages, stageBlock{name: name, attrs: sorted})
	}
	return file, nil
}

// Apply evaluates every attribute of f with vars and sets it on the
// matching stage of t. It stops at the first error.
func (f *File) Apply(ctx context.Context, t Target, vars Vars) error {
	logger := ctxlog.FromContext(ctx).With("config", f.Path, "pipeline", t.Name())
	evalCtx := vars.evalContext()

	for _, sb := range f.stages {
		s, ok := t.Stage(sb.name)
		if !ok {
			return failure.Configuration(sb.name, fmt.Errorf("%w %q in pipeline %q (%s)", ErrUnknownStage, sb.name, t.Name(), f.Path))
		}
		cfg := s.Config()
		for _, attr := range sb.attrs {
			for _, tr := range attr.Expr.Variables() {
				if _, known := evalCtx.Variables[tr.RootName()]; !known {
					return failure.Configuration(sb.name, fmt.Errorf("%s: unknown variable %s, expected one of output_dir, dataset_dir, subject",
						tr.SourceRange(), hclutil.TraversalKey(tr)))
				}
			}
			v, diags := attr.Expr.Value(evalCtx)
			if diags.HasErrors() {
				return failure.Configuration(sb.name, diags)
			}
			if err := cfg.Set(attr.Name, v); err != nil {
				return failure.Configuration(sb.name, fmt.Errorf("%s: %w", attr.Range, err))
			}
			logger.Debug("Stage option set.", "stage", sb.name, "option", attr.Name, "value", hclutil.Render(v))
		}
	}
	return nil
}
