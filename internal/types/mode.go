package types

// File mode bits as stored in the 16 bit inode mode field. The upper four
// bits encode the file type, the lower twelve the permissions including
// setuid, setgid and the sticky bit.
const (
	FormatMask uint16 = 0xF000

	FormatFifo     uint16 = 0x1000
	FormatCharDev  uint16 = 0x2000
	FormatDir      uint16 = 0x4000
	FormatBlockDev uint16 = 0x6000
	FormatFile     uint16 = 0x8000
	FormatSymlink  uint16 = 0xA000
	FormatSocket   uint16 = 0xC000

	PermMask uint16 = 0x0FFF
)

// IsDir reports whether a mode describes a directory.
func IsDir(mode uint16) bool { return mode&FormatMask == FormatDir }

// IsFile reports whether a mode describes a regular file.
func IsFile(mode uint16) bool { return mode&FormatMask == FormatFile }

// IsSymlink reports whether a mode describes a symbolic link.
func IsSymlink(mode uint16) bool { return mode&FormatMask == FormatSymlink }
