// Package engine models the execution engines of an i915 device and the
// per-class view built on top of them.
package engine

// Class is the kernel engine class.
type Class int

// Kernel class numbering.
const (
	Render Class = iota
	Copy
	Video
	VideoEnhance
	Compute
	Unknown
)

// NumClasses is the number of known engine classes.
const NumClasses = int(Unknown)

var classInfo = [...]struct {
	name  string
	short string
	key   string
}{
	Render:       {"Render/3D", "RCS", "render"},
	Copy:         {"Blitter", "BCS", "copy"},
	Video:        {"Video", "VCS", "video"},
	VideoEnhance: {"VideoEnhance", "VECS", "video-enhance"},
	Compute:      {"Compute", "CCS", "compute"},
	Unknown:      {"[unknown]", "UNKN", "unknown"},
}

// Classes lists the known classes in kernel order.
func Classes() []Class {
	return []Class{Render, Copy, Video, VideoEnhance, Compute}
}

func (c Class) valid() bool { return c >= Render && c <= Unknown }

// Name is the display name, e.g. "Render/3D".
func (c Class) Name() string {
	if !c.valid() {
		c = Unknown
	}
	return classInfo[c].name
}

// Short is the hardware abbreviation, e.g. "RCS".
func (c Class) Short() string {
	if !c.valid() {
		c = Unknown
	}
	return classInfo[c].short
}

// Key is the fdinfo suffix of the class, e.g. "video-enhance".
func (c Class) Key() string {
	if !c.valid() {
		c = Unknown
	}
	return classInfo[c].key
}

func (c Class) String() string { return c.Name() }

// ClassFromKey maps an fdinfo engine key back to its class.
func ClassFromKey(key string) (Class, bool) {
	for _, c := range Classes() {
		if classInfo[c].key == key {
			return c, true
		}
	}
	return Unknown, false
}
