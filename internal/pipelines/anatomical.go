package pipelines

import (
	"github.com/specialistvlad/connectogrid/internal/pipeline"
	"github.com/specialistvlad/connectogrid/internal/port"
	"github.com/specialistvlad/connectogrid/internal/stages/parcellation"
	"github.com/specialistvlad/connectogrid/internal/stages/segmentation"
)

// Names of the domain pipelines inside the subject pipeline.
const (
	AnatomicalName = "anatomical"
	DiffusionName  = "diffusion"
	FunctionalName = "functional"
)

// Ports of the anatomical pipeline.
const (
	T1          = "T1"
	BrainMask   = "brain_mask"
	Brain       = "brain"
	WMMask      = "wm_mask"
	GMMask      = "gm_mask"
	Aseg        = "aseg"
	ROIVolume   = "roi_volume"
	SubjectsDir = "subjects_dir"
	SubjectID   = "subject_id"
	Scheme      = "parcellation_scheme"
)

// Anatomical builds segmentation → parcellation.
func Anatomical() (*pipeline.Pipeline, error) {
	w := &wiring{p: pipeline.New(AnatomicalName,
		[]port.Spec{
			port.Required(T1, port.Volume),
			port.Optional(BrainMask, port.Volume),
		},
		[]port.Spec{
			port.Required(T1, port.Volume),
			port.Required(Brain, port.Volume),
			port.Required(BrainMask, port.Volume),
			port.Required(WMMask, port.Volume),
			port.Required(GMMask, port.Volume),
			port.Required(Aseg, port.Volume),
			port.Required(ROIVolume, port.Volume),
			port.Required(SubjectsDir, port.Directory),
			port.Required(SubjectID, port.Text),
			port.Required(Scheme, port.Text),
		},
	)}

	seg, parc := segmentation.Name, parcellation.Name
	w.add(segmentation.New(), parcellation.New())

	w.input(T1, seg, segmentation.InT1)
	w.input(BrainMask, seg, segmentation.InBrainMask)
	w.connect(seg, segmentation.OutSubjects, parc, parcellation.InSubjects)
	w.connect(seg, segmentation.OutSubjectID, parc, parcellation.InSubjectID)
	w.connect(seg, segmentation.OutWMMask, parc, parcellation.InWMMask)

	w.output(parc, parcellation.OutT1, T1)
	w.output(parc, parcellation.OutBrain, Brain)
	w.output(seg, segmentation.OutBrainMask, BrainMask)
	w.output(parc, parcellation.OutWMMask, WMMask)
	w.output(parc, parcellation.OutGMMask, GMMask)
	w.output(parc, parcellation.OutAseg, Aseg)
	w.output(parc, parcellation.OutROIVolume, ROIVolume)
	w.output(seg, segmentation.OutSubjects, SubjectsDir)
	w.output(seg, segmentation.OutSubjectID, SubjectID)
	w.output(parc, parcellation.OutScheme, Scheme)
	return w.done()
}
