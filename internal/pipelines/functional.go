package pipelines

import (
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stages/fconnectome"
	"github.com/specialistvlad/connectogrid/internal/stages/fmripreproc"
)

// Ports of the functional pipeline.
const (
	Bold       = "bold"
	TimeSeries = "timeseries"
)

// Functional builds fmri_preprocessing → functional_connectome.
func Functional() (*pipeline.Pipeline, error) {
	w := &wiring{p: pipeline.New(FunctionalName,
		[]port.Spec{
			port.Required(Bold, port.Volume),
			port.Required(ROIVolume, port.Volume),
		},
		[]port.Spec{
			port.Required(Matrix, port.Matrix),
			port.Required(TimeSeries, port.TimeSeries),
		},
	)}

	pre, conn := fmripreproc.Name, fconnectome.Name
	w.add(fmripreproc.New(), fconnectome.New())

	w.input(Bold, pre, fmripreproc.InBold)
	w.input(ROIVolume, conn, fconnectome.InROIVolume)
	w.connect(pre, fmripreproc.OutFunc, conn, fconnectome.InFunc)
	w.connect(pre, fmripreproc.OutMean, conn, fconnectome.InMean)
	w.connect(pre, fmripreproc.OutMotion, conn, fconnectome.InMotion)

	w.output(conn, fconnectome.OutMatrix, Matrix)
	w.output(conn, fconnectome.OutTimeSeries, TimeSeries)
	return w.done()
}
