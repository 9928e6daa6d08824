package util

import (
	"os/exec"
)

type Dependency struct {
	Name     string
	Path     string
	Found    bool
	Required bool
}

// CheckDependencies resolves the external binaries the bot shells out to.
// Each name may be a bare command or an absolute path.
func CheckDependencies(ytdlp, ffmpeg, ffprobe string) []Dependency {
	deps := []Dependency{
		{Name: ytdlp, Required: true},
		{Name: ffmpeg, Required: true},
		{Name: ffprobe, Required: true},
	}
	for i := range deps {
		path, err := exec.LookPath(deps[i].Name)
		if err != nil {
			continue
		}
		deps[i].Path = path
		deps[i].Found = true
	}
	return deps
}

// MissingRequired returns the names of required binaries that were not found.
func MissingRequired(deps []Dependency) []string {
	var missing []string
	for _, d := range deps {
		if d.Required && !d.Found {
			missing = append(missing, d.Name)
		}
	}
	return missing
}
