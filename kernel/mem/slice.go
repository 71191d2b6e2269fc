package mem

import (
	"reflect"
	"unsafe"
)

// BackingSlice views the mapped memory starting at addr as a []byte of the
// given length, the same reflect.SliceHeader construction
// device/video/console uses to turn a mapped framebuffer address into a
// slice.
func BackingSlice(addr uintptr, length int) []byte {
	return *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Data: addr,
		Len:  length,
		Cap:  length,
	}))
}
