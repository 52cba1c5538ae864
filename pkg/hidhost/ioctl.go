package hidhost

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl number encoding. The direction/size field widths differ between
// the mainstream ABI and the mips/ppc/sparc family, so they are picked
// once at startup.
var (
	iocWrite     uintptr
	iocRead      uintptr
	iocSizeBits  uintptr
	iocSizeShift uintptr
	iocDirShift  uintptr
)

func init() {
	switch runtime.GOARCH {
	case "mips", "mipsle", "mips64", "mips64le", "ppc", "ppc64", "ppc64le", "sparc64":
		iocWrite = 4
		iocRead = 2
		iocSizeBits = 13
	default:
		iocWrite = 1
		iocRead = 2
		iocSizeBits = 14
	}
	iocSizeShift = 16
	iocDirShift = iocSizeShift + iocSizeBits
}

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<8 | nr | (size&(1<<iocSizeBits-1))<<iocSizeShift
}

func iowr(typ, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

// hidraw ioctl commands, parameterized by buffer length.
const hidrawIoctlType = 'H'

func hidIocSetFeature(length int) uintptr {
	return iowr(hidrawIoctlType, 0x06, uintptr(length))
}

func hidIocGetFeature(length int) uintptr {
	return iowr(hidrawIoctlType, 0x07, uintptr(length))
}

// doIoctl issues one ioctl with the uniform interrupt-retry rule applied.
func doIoctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	return retryEINTR(func() (int, error) {
		r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno != 0 {
			return 0, errno
		}
		return int(r), nil
	})
}
