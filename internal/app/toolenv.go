package app

import (
	"strconv"

	"github.com/specialistvlad/connectogrid/internal/toolchain"
)

// Toolchain builds the tool locations and the environment every node
// receives. Seeds are only exported when set.
func (c *Config) Toolchain() toolchain.Toolchain {
	env := map[string]string{
		"OMP_NUM_THREADS":                      strconv.Itoa(c.ThreadsPerParticipant()),
		"ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS": strconv.Itoa(c.ITKThreads),
		"MKL_NUM_THREADS":                      strconv.Itoa(c.MKLThreads),
	}
	if c.ANTsSeed != nil {
		env["ANTS_RANDOM_SEED"] = strconv.Itoa(*c.ANTsSeed)
	}
	if c.MRtrixSeed != nil {
		env["MRTRIX_RNG_SEED"] = strconv.Itoa(*c.MRtrixSeed)
	}
	if c.FSLicense != "" {
		env["FS_LICENSE"] = c.FSLicense
	}

	dirs := make(map[toolchain.Package]string, len(c.ToolDirs))
	for name, dir := range c.ToolDirs {
		// Names were checked by NewConfig.
		if p, err := toolchain.ParsePackage(name); err == nil {
			dirs[p] = dir
		}
	}
	return toolchain.Toolchain{BinDirs: dirs, Env: env}
}
