package pipelines

import (
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/port"
)

// Outputs of the subject pipeline that are not anatomical.
const (
	StructuralConnectome = "structural_connectome"
	FunctionalConnectome = "functional_connectome"
)

// Modalities selects the optional domain pipelines of a subject run.
type Modalities struct {
	Diffusion  bool
	Functional bool
}

// Subject nests the anatomical pipeline and the selected optional
// pipelines. The subject pipeline itself adds no address component, so
// node IDs read domain.stage.node.
func Subject(m Modalities) (*pipeline.Pipeline, error) {
	inputs := []port.Spec{
		port.Required(T1, port.Volume),
		port.Optional(BrainMask, port.Volume),
	}
	outputs := []port.Spec{
		port.Required(ROIVolume, port.Volume),
		port.Required(Scheme, port.Text),
		port.Required(SubjectsDir, port.Directory),
	}
	if m.Diffusion {
		inputs = append(inputs,
			port.Required(DWI, port.Volume),
			port.Required(Bvecs, port.Gradients),
			port.Required(Bvals, port.Gradients),
		)
		outputs = append(outputs,
			port.Required(StructuralConnectome, port.Matrix),
			port.Required(Streamlines, port.Tractogram),
		)
	}
	if m.Functional {
		inputs = append(inputs, port.Required(Bold, port.Volume))
		outputs = append(outputs,
			port.Required(FunctionalConnectome, port.Matrix),
			port.Required(TimeSeries, port.TimeSeries),
		)
	}
	w := &wiring{p: pipeline.New("subject", inputs, outputs)}

	anat, err := Anatomical()
	if err != nil {
		return nil, err
	}
	w.add(anat)
	w.input(T1, AnatomicalName, T1)
	w.input(BrainMask, AnatomicalName, BrainMask)
	w.output(AnatomicalName, ROIVolume, ROIVolume)
	w.output(AnatomicalName, Scheme, Scheme)
	w.output(AnatomicalName, SubjectsDir, SubjectsDir)

	if m.Diffusion {
		dwi, err := Diffusion()
		if err != nil {
			return nil, err
		}
		w.add(dwi)
		w.input(DWI, DiffusionName, DWI)
		w.input(Bvecs, DiffusionName, Bvecs)
		w.input(Bvals, DiffusionName, Bvals)
		w.same(AnatomicalName, DiffusionName, T1, Brain, WMMask, ROIVolume)
		w.output(DiffusionName, Matrix, StructuralConnectome)
		w.output(DiffusionName, Streamlines, Streamlines)
	}

	if m.Functional {
		fn, err := Functional()
		if err != nil {
			return nil, err
		}
		w.add(fn)
		w.input(Bold, FunctionalName, Bold)
		w.same(AnatomicalName, FunctionalName, ROIVolume)
		w.output(FunctionalName, Matrix, FunctionalConnectome)
		w.output(FunctionalName, TimeSeries, TimeSeries)
	}
	return w.done()
}
