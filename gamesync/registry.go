package gamesync

import "fmt"

// SettingDef describes a transport setting.
type SettingDef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// TransportDef describes an available transport type.
type TransportDef struct {
	ID       string                                              `json:"id"`
	Name     string                                              `json:"name"`
	Settings []SettingDef                                        `json:"settings"`
	Build    func(settings map[string]string) (Transport, error) `json:"-"`
}

var registry []TransportDef

// Register adds a transport definition to the registry.
// Called from init() in transport implementation files.
func Register(t TransportDef) {
	registry = append(registry, t)
}

// Transports returns all registered transport definitions.
func Transports() []TransportDef {
	return registry
}

// Build creates a Transport from a transport ID and settings.
func Build(id string, settings map[string]string) (Transport, error) {
	for _, t := range registry {
		if t.ID == id {
			for _, s := range t.Settings {
				if s.Required && settings[s.ID] == "" {
					return nil, fmt.Errorf("%s is required", s.Name)
				}
			}
			return t.Build(settings)
		}
	}
	return nil, fmt.Errorf("unknown transport: %s", id)
}
