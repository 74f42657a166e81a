package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; endpoint
// changes take effect on the next connect.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	KeywordsChanged bool
	NewKeywords     string

	VibrationCommandChanged bool

	PreferencesChanged bool

	DeviceEndpointChanged     bool
	ProcessingEndpointChanged bool
	LinkAddressChanged        bool
}

// Changed reports whether anything tracked differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.KeywordsChanged || d.VibrationCommandChanged ||
		d.PreferencesChanged || d.DeviceEndpointChanged || d.ProcessingEndpointChanged ||
		d.LinkAddressChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Detection.Keywords != new.Detection.Keywords {
		d.KeywordsChanged = true
		d.NewKeywords = new.Detection.Keywords
	}
	d.VibrationCommandChanged = old.Detection.VibrationCommand != new.Detection.VibrationCommand
	d.PreferencesChanged = old.Preferences != new.Preferences

	d.DeviceEndpointChanged = old.Device.Host != new.Device.Host || old.Device.Port != new.Device.Port
	d.ProcessingEndpointChanged = old.Processing.Host != new.Processing.Host || old.Processing.Port != new.Processing.Port
	d.LinkAddressChanged = old.Link.Address != new.Link.Address

	return d
}
