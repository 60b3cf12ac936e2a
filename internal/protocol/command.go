package protocol

import "fmt"

// Fixed command words. Commands taking arguments have builder functions
// below; every command is sent as one CR-terminated ASCII line.
const (
	CmdVer       = "ver"
	CmdIDGet     = "id get"
	CmdReadAll   = "gpio readall"
	CmdNotifyGet = "gpio notify get"
	CmdNotifyOn  = "gpio notify on"
	CmdNotifyOff = "gpio notify off"
)

// Device confirmations for the notify setter, read up to the prompt.
const (
	NotifyEnabled  = "gpio notify enabled"
	NotifyDisabled = "gpio notify disabled"
)

func IDSetCommand(id uint32) string {
	return fmt.Sprintf("id set %08x", id)
}

func SetCommand(port int) string {
	return fmt.Sprintf("gpio set %d", port)
}

func ClearCommand(port int) string {
	return fmt.Sprintf("gpio clear %d", port)
}

func ReadCommand(port int) string {
	return fmt.Sprintf("gpio read %d", port)
}

func WriteAllCommand(m Mask) string {
	return "gpio writeall " + m.String()
}

func IODirCommand(m Mask) string {
	return "gpio iodir " + m.String()
}

func IOMaskCommand(m Mask) string {
	return "gpio iomask " + m.String()
}

func ADCReadCommand(port, digits int) string {
	return fmt.Sprintf("adc read %0*d", digits, port)
}

func NotifySetCommand(enable bool) string {
	if enable {
		return CmdNotifyOn
	}
	return CmdNotifyOff
}

// NotifyConfirmation is the payload the device answers a notify setter with.
func NotifyConfirmation(enable bool) string {
	if enable {
		return NotifyEnabled
	}
	return NotifyDisabled
}
