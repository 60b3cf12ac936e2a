package protocol

import "fmt"

// DeviceSpec holds the fixed properties of one device variant. Immutable
// once derived from the probed port count.
type DeviceSpec struct {
	Name  string
	Ports int
	// MaskDigits is the exact hex-digit width of every mask field on the
	// wire: Ports/4.
	MaskDigits int
	// SupportsNotification is false only for the 8-port board, which has no
	// notify command at all.
	SupportsNotification bool
	ADCResolutionBits    int
	ADCDigits            int
	// ADCPorts maps ADC-capable port numbers to their channel label.
	ADCPorts map[int]string
}

// IDDigits is the fixed width of the id and ver words, independent of the
// variant's mask width.
const IDDigits = 8

var deviceSpecs = []DeviceSpec{
	{
		Name:                 "8 Channel USB GPIO Module With Analog Inputs",
		Ports:                8,
		MaskDigits:           2,
		SupportsNotification: false,
		ADCResolutionBits:    10,
		ADCDigits:            1,
		ADCPorts: map[int]string{
			0: "ADC0", 1: "ADC1", 2: "ADC2", 3: "ADC3", 6: "ADC4", 7: "ADC5",
		},
	},
	{
		Name:                 "16 Channel USB GPIO Module With Analog Inputs",
		Ports:                16,
		MaskDigits:           4,
		SupportsNotification: true,
		ADCResolutionBits:    10,
		ADCDigits:            1,
		ADCPorts:             adcChannelRange(0, 6),
	},
	{
		Name:                 "32 Channel USB GPIO Module With Analog Inputs",
		Ports:                32,
		MaskDigits:           8,
		SupportsNotification: true,
		ADCResolutionBits:    10,
		ADCDigits:            1,
		ADCPorts:             adcChannelRange(1, 7),
	},
	{
		Name:                 "64 Channel USB GPIO Module With Analog Inputs",
		Ports:                64,
		MaskDigits:           16,
		SupportsNotification: true,
		ADCResolutionBits:    10,
		ADCDigits:            1,
		ADCPorts:             adcChannelRange(0, 31),
	},
	{
		Name:                 "128 Channel USB GPIO Module With Analog Inputs",
		Ports:                128,
		MaskDigits:           32,
		SupportsNotification: true,
		ADCResolutionBits:    10,
		ADCDigits:            1,
		ADCPorts:             adcChannelRange(0, 31),
	},
}

// SpecForPorts returns the variant table entry for a port count.
func SpecForPorts(ports int) (DeviceSpec, error) {
	for _, spec := range deviceSpecs {
		if spec.Ports == ports {
			return spec, nil
		}
	}
	return DeviceSpec{}, fmt.Errorf("%w: %d ports", ErrUnknownVariant, ports)
}

// SpecForMaskDigits resolves the variant from a probed mask reply width.
func SpecForMaskDigits(digits int) (DeviceSpec, error) {
	for _, spec := range deviceSpecs {
		if spec.MaskDigits == digits {
			return spec, nil
		}
	}
	return DeviceSpec{}, fmt.Errorf("%w: %d mask digits", ErrUnknownVariant, digits)
}

// MaskDigitsForPorts returns the hex-digit width of mask fields for a port
// count, without requiring a full table entry.
func MaskDigitsForPorts(ports int) int {
	return ports / 4
}

// CheckPort validates a zero-based port index against the variant.
func (s DeviceSpec) CheckPort(port int) error {
	if port < 0 || port >= s.Ports {
		return fmt.Errorf("%w: %d (variant has %d ports)", ErrPortRange, port, s.Ports)
	}
	return nil
}

// CheckADCPort validates that a port is ADC capable on this variant.
func (s DeviceSpec) CheckADCPort(port int) error {
	if _, ok := s.ADCPorts[port]; !ok {
		return fmt.Errorf("%w: port %d is not ADC capable", ErrCapability, port)
	}
	return nil
}

func adcChannelRange(first, last int) map[int]string {
	out := make(map[int]string, last-first+1)
	for port := first; port <= last; port++ {
		out[port] = fmt.Sprintf("ADC%d", port)
	}
	return out
}
