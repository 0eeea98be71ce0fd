package device

import "github.com/google/uuid"

// Device is a registered board and, optionally, the firmware project bound to it.
//
// BoardType and ProjectPath are both set (a toolchain-configured device) or
// both nil (a bare device). Devices are never modified after creation; the
// store hands out copies so callers cannot reach its canonical value.
type Device struct {
	// ID is assigned at creation and never changes.
	ID uuid.UUID `json:"id"`

	// Name is a human-readable label. It is not validated.
	Name string `json:"name"`

	// BoardType names the hardware variant, e.g. "esp32dev".
	BoardType *string `json:"board_type"`

	// BoardID is the toolchain board identifier. Empty means unconfigured.
	BoardID string `json:"board_id"`

	// ProjectPath is the directory holding the device's firmware project.
	ProjectPath *string `json:"project_path"`
}

// New returns a bare device with a fresh identifier.
func New(name string) Device {
	return Device{
		ID:   uuid.New(),
		Name: name,
	}
}

// NewConfigured returns a toolchain-configured device with a fresh identifier.
func NewConfigured(name, boardID, boardType, projectPath string) Device {
	return Device{
		ID:          uuid.New(),
		Name:        name,
		BoardType:   &boardType,
		BoardID:     boardID,
		ProjectPath: &projectPath,
	}
}

// IsToolchainConfigured reports whether firmware operations may run against the device.
func (d Device) IsToolchainConfigured() bool {
	return d.BoardType != nil && d.ProjectPath != nil
}

// Project returns the project directory, or "" and false for a bare device.
func (d Device) Project() (string, bool) {
	if !d.IsToolchainConfigured() {
		return "", false
	}
	return *d.ProjectPath, true
}

// Clone returns a copy that shares no memory with d.
func (d Device) Clone() Device {
	c := d
	c.BoardType = cloneString(d.BoardType)
	c.ProjectPath = cloneString(d.ProjectPath)
	return c
}

// Equal compares two devices field by field, following the optional pointers.
func (d Device) Equal(o Device) bool {
	return d.ID == o.ID &&
		d.Name == o.Name &&
		d.BoardID == o.BoardID &&
		equalString(d.BoardType, o.BoardType) &&
		equalString(d.ProjectPath, o.ProjectPath)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
