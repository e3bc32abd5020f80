package build

import "sort"

// Registry manages available installers and performs detection.
type Registry struct {
	installers []InstallerRegistration
}

// NewRegistry creates a registry with the default installers.
func NewRegistry() *Registry {
	r := &Registry{}

	// uv and npm projects first, requirements.txt next, and the null
	// installer when nothing is recognized.
	r.Register(NewUvInstaller(), PriorityHigh)
	r.Register(NewNpmInstaller(), PriorityHigh)
	r.Register(NewPipInstaller(), PriorityMedium)
	r.Register(NewNullInstaller(), PriorityLow)

	return r
}

// Register adds an installer with the specified priority.
func (r *Registry) Register(installer Installer, priority InstallerPriority) {
	r.installers = append(r.installers, InstallerRegistration{
		Installer: installer,
		Priority:  priority,
	})

	sort.SliceStable(r.installers, func(i, j int) bool {
		return r.installers[i].Priority > r.installers[j].Priority
	})
}

// Detect finds the highest-priority installer whose Detect matches.
// The null installer always matches, so Detect never fails for a
// registry built with NewRegistry.
func (r *Registry) Detect(ws Runner) Installer {
	for _, registration := range r.installers {
		if registration.Installer.Detect(ws) {
			return registration.Installer
		}
	}
	return NewNullInstaller()
}

// List returns all registered installers in priority order.
func (r *Registry) List() []InstallerRegistration {
	return r.installers
}
