package testutil

import (
	"context"

	"github.com/specialistvlad/connectogrid/internal/ledger"
	"github.com/specialistvlad/connectogrid/internal/option"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stage"
)

// ToyStage is a small two-branch stage used by engine tests.
//
// tool=ToolA builds convert -> process; tool=ToolB builds a single
// mrconvert node plus apply_mask when the optional mask input is bound.
// use_existing builds nothing and binds result to existing_dir.
type ToyStage struct {
	name string
	cfg  *option.Object
	// InKind and OutKind default to port.Volume.
	InKind, OutKind port.Kind
}

// NewToyStage returns a ToyStage with default options.
func NewToyStage(name string) *ToyStage {
	opts := append([]option.Option{
		option.Enum("tool", "Processing tool.", "ToolA", "ToolB"),
		option.Number("voxel_size", 1.2, &option.Range{Min: 0, Max: 10, MinExclusive: true}, "Voxel size used by ToolA."),
		option.Bool("use_existing", false, "Bind outputs to existing_dir instead of computing."),
		option.Bool("compute_anyway", false, "Recompute even with existing data."),
		option.String("existing_dir", "", "Directory of precomputed results."),
	}, stage.CommonOptions()...)
	return &ToyStage{name: name, cfg: option.MustNew(name, opts), InKind: port.Volume, OutKind: port.Volume}
}

// Object returns the concrete configuration object.
func (s *ToyStage) Object() *option.Object { return s.cfg }

func (s *ToyStage) Name() string          { return s.name }
func (s *ToyStage) Config() option.Config { return s.cfg }

func (s *ToyStage) Inputs() []port.Spec {
	return []port.Spec{port.Required("image", s.InKind), port.Optional("mask", s.InKind)}
}

func (s *ToyStage) Outputs() []port.Spec {
	return []port.Spec{port.Required("result", s.OutKind)}
}

func (s *ToyStage) resultPath(env stage.Env) string {
	v := s.cfg.Values()
	if v.Bool("use_existing") {
		return v.String("existing_dir") + "/result.nii.gz"
	}
	if v.String("tool") == "ToolA" {
		return env.Path("process", "result.nii.gz")
	}
	return env.Path("mrconvert", "result.nii.gz")
}

func (s *ToyStage) Completion(env stage.Env) stage.Completion {
	v := s.cfg.Values()
	entry := env.Entry(s.resultPath(env))
	entry.External = v.Bool("use_existing")
	return stage.Completion{
		Entry:   entry,
		Reuse:   v.Bool(stage.OptReuse),
		Outputs: port.Bindings{"result": port.External(s.OutKind, s.resultPath(env))},
	}
}

func (s *ToyStage) HasCompleted(ctx context.Context, l ledger.Ledger, env stage.Env) bool {
	return stage.Check(ctx, l, s.Completion(env))
}

func (s *ToyStage) Expand(ctx context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	if err := stage.CheckInputs(s.name, s.Inputs(), in); err != nil {
		return nil, nil, err
	}
	v := s.cfg.Values()
	if v.Bool("use_existing") {
		if v.Bool("compute_anyway") {
			return nil, nil, stage.Unsupported(s.name, "use_existing together with compute_anyway")
		}
		return stage.NewSubgraph(), port.Bindings{"result": port.External(s.OutKind, s.resultPath(env))}, nil
	}
	branches := stage.Branches{"ToolA": s.expandA, "ToolB": s.expandB}
	return branches.Expand(ctx, env, in, s.name, "tool", v.String("tool"))
}

func (s *ToyStage) expandA(_ context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	v := s.cfg.Values()
	g := stage.NewSubgraph()
	threads := env.Threads(v.Int(stage.OptThreads))

	convert := g.Add(env.Node("convert", "mri_convert", in.Value("image"), env.Path("convert", "image.mgz"),
		"-vs", option.FormatFloat(v.Float("voxel_size"))).
		WithOutput("out_file", port.Volume, env.Path("convert", "image.mgz")).
		WithThreads(threads), in["image"])
	process := g.Add(env.Node("process", "process", convert.Output("out_file").Value, s.resultPath(env)).
		WithOutput("out_file", s.OutKind, s.resultPath(env)).
		WithThreads(threads), convert.Output("out_file"))

	return g, port.Bindings{"result": process.Output("out_file")}, nil
}

func (s *ToyStage) expandB(_ context.Context, env stage.Env, in port.Bindings) (*stage.Subgraph, port.Bindings, error) {
	g := stage.NewSubgraph()
	src := in["image"]
	if mask, ok := in["mask"]; ok {
		masked := g.Add(env.Node("apply_mask", "fslmaths", src.Value, "-mas", mask.Value, env.Path("apply_mask", "masked.nii.gz")).
			WithOutput("out_file", port.Volume, env.Path("apply_mask", "masked.nii.gz")), src, mask)
		src = masked.Output("out_file")
	}
	conv := g.Add(env.Node("mrconvert", "mrconvert", src.Value, s.resultPath(env)).
		WithOutput("out_file", s.OutKind, s.resultPath(env)), src)
	return g, port.Bindings{"result": conv.Output("out_file")}, nil
}
