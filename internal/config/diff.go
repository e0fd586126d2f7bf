package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// StepChanges holds per-step diffs for prompt and provider changes.
	StepChanges []StepDiff
}

// StepDiff describes what changed for a single pipeline step between two configs.
type StepDiff struct {
	Step            string
	PromptChanged   bool
	ProviderChanged bool
	Added           bool
	Removed         bool
}

// Empty reports whether d records no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.StepChanges) == 0
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if sd, changed := diffStep("transcription", &old.Steps.Transcription, &new.Steps.Transcription); changed {
		d.StepChanges = append(d.StepChanges, sd)
	}
	if sd, changed := diffStep("normalization", old.Steps.Normalization, new.Steps.Normalization); changed {
		d.StepChanges = append(d.StepChanges, sd)
	}
	if sd, changed := diffStep("critique", &old.Steps.Critique, &new.Steps.Critique); changed {
		d.StepChanges = append(d.StepChanges, sd)
	}

	return d
}

// diffStep compares one step's old and new configuration. Either side may be
// nil for the optional normalization step.
func diffStep(name string, old, new *StepConfig) (StepDiff, bool) {
	sd := StepDiff{Step: name}
	switch {
	case old == nil && new == nil:
		return sd, false
	case old == nil:
		sd.Added = true
		return sd, true
	case new == nil:
		sd.Removed = true
		return sd, true
	}

	if old.Prompt != new.Prompt || old.SystemPrompt != new.SystemPrompt {
		sd.PromptChanged = true
	}
	if !sameProvider(old.Provider, new.Provider) || len(old.Fallbacks) != len(new.Fallbacks) {
		sd.ProviderChanged = true
	} else {
		for i := range old.Fallbacks {
			if !sameProvider(old.Fallbacks[i], new.Fallbacks[i]) {
				sd.ProviderChanged = true
				break
			}
		}
	}

	return sd, sd.PromptChanged || sd.ProviderChanged
}

func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.Model == b.Model && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL
}
