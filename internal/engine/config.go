package engine

// Sample selects which per-engine counter a config refers to.
type Sample uint8

const (
	SampleBusy Sample = 0
	SampleWait Sample = 1
	SampleSema Sample = 2
)

const (
	sampleBits    = 4
	instanceBits  = 8
	instanceShift = sampleBits
	classShift    = sampleBits + instanceBits

	gtShift = 60
	gtMask  = uint64(0xf) << gtShift

	// DeviceConfigBase is the first config that is not an engine sampler.
	DeviceConfigBase = 0x100000
)

// Device-level i915 counters.
const (
	ConfigFrequencyActual    = DeviceConfigBase + 0
	ConfigFrequencyRequested = DeviceConfigBase + 1
	ConfigInterrupts         = DeviceConfigBase + 2
	ConfigRC6Residency       = DeviceConfigBase + 3
)

// DecodeConfig splits an i915 engine config into class, instance and
// sample. ok is false for device-level counters.
func DecodeConfig(config uint64) (class Class, instance uint16, sample Sample, ok bool) {
	config &^= gtMask
	if config >= DeviceConfigBase {
		return Unknown, 0, 0, false
	}
	sample = Sample(config & (1<<sampleBits - 1))
	instance = uint16((config >> instanceShift) & (1<<instanceBits - 1))
	class = Class((config >> classShift) & 0xff)
	if class >= Unknown {
		class = Unknown
	}
	return class, instance, sample, true
}

// EncodeConfig builds the engine config for class, instance and sample.
func EncodeConfig(class Class, instance uint16, sample Sample) uint64 {
	return uint64(class)<<classShift | uint64(instance)<<instanceShift | uint64(sample)
}
