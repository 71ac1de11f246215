package pipelines

import (
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stages/connectome"
	"github.com/specialistvlad/connectogrid/internal/stages/dmripreproc"
	"github.com/specialistvlad/connectogrid/internal/stages/registration"
	"github.com/specialistvlad/connectogrid/internal/stages/tractography"
)

// Ports of the diffusion pipeline not shared with the anatomical one.
const (
	DWI          = "dwi"
	Bvecs        = "bvecs"
	Bvals        = "bvals"
	Streamlines  = "streamlines"
	Matrix       = "connectivity_matrix"
	LengthMatrix = "length_matrix"
)

// Diffusion builds dmri_preprocessing → registration → tractography →
// connectome. Anatomical images enter through its inputs.
func Diffusion() (*pipeline.Pipeline, error) {
	w := &wiring{p: pipeline.New(DiffusionName,
		[]port.Spec{
			port.Required(DWI, port.Volume),
			port.Required(Bvecs, port.Gradients),
			port.Required(Bvals, port.Gradients),
			port.Required(T1, port.Volume),
			port.Required(Brain, port.Volume),
			port.Required(WMMask, port.Volume),
			port.Required(ROIVolume, port.Volume),
		},
		[]port.Spec{
			port.Required(Matrix, port.Matrix),
			port.Optional(LengthMatrix, port.Matrix),
			port.Required(Streamlines, port.Tractogram),
		},
	)}

	pre, reg, trk, conn := dmripreproc.Name, registration.Name, tractography.Name, connectome.Name
	w.add(dmripreproc.New(), registration.New(), tractography.New(), connectome.New())

	w.input(DWI, pre, dmripreproc.InDWI)
	w.input(Bvecs, pre, dmripreproc.InBvecs)
	w.input(Bvals, pre, dmripreproc.InBvals)

	w.input(T1, reg, registration.InT1)
	w.input(Brain, reg, registration.InBrain)
	w.input(WMMask, reg, registration.InWMMask)
	w.input(ROIVolume, reg, registration.InROIVolume)
	w.connect(pre, dmripreproc.OutDWI, reg, registration.InTarget)
	w.connect(pre, dmripreproc.OutBvecs, reg, registration.InBvecs)
	w.connect(pre, dmripreproc.OutBvals, reg, registration.InBvals)

	w.connect(pre, dmripreproc.OutDWI, trk, tractography.InDWI)
	w.connect(pre, dmripreproc.OutBvecs, trk, tractography.InBvecs)
	w.connect(pre, dmripreproc.OutBvals, trk, tractography.InBvals)
	w.same(reg, trk, registration.OutWMMask, registration.OutT1)

	w.same(trk, conn, tractography.OutStreamlines)
	w.same(reg, conn, registration.OutROIVolume)

	w.output(conn, connectome.OutMatrix, Matrix)
	w.output(conn, connectome.OutLengthMatrix, LengthMatrix)
	w.output(trk, tractography.OutStreamlines, Streamlines)
	return w.done()
}
