// Package pagefault wraps Linux's userfaultfd(2) mechanism, used to
// detect (without any per-write branch in the hot path) when a
// write-protected write-barrier segment has filled and needs rotation.
//
// golang.org/x/sys/unix only exposes the userfaultfd syscall number
// (unix.SYS_USERFAULTFD); it does not define the UFFDIO_* ioctl request
// codes or their argument structs, since those live in
// linux/userfaultfd.h rather than the syscall table. Those ioctl
// numbers are computed here the same way the kernel's _IOWR/_IOR
// macros do, matching the approach the wider retrieval pack uses for
// the same gap (manually-derived UFFDIO_COPY/UFFDIO_ZEROPAGE request
// codes with compile-time size assertions).
package pagefault

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mode identifies the kind of page fault delivered to a handler.
type Mode uint8

const (
	// Missing indicates a fault on a page that has never been populated.
	Missing Mode = iota
	// WriteProtect indicates a fault caused by a write to a
	// write-protected page.
	WriteProtect
)

const pageSize = 4096

// ioctl request codes for the UFFDIO_* operations, computed as
// _IOC(dir, 0xAA, nr, size) per include/uapi/asm-generic/ioctl.h.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	ufffdioType = 0xAA

	nrAPI          = 0x3F
	nrRegister     = 0x00
	nrUnregister   = 0x01
	nrWriteProtect = 0x06
)

func ioc(dir, nr, size uintptr) uintptr {
	return (dir << 30) | (ufffdioType << 8) | nr | (size << 16)
}

var (
	uffdioAPI          = ioc(iocRead|iocWrite, nrAPI, unsafe.Sizeof(apiArg{}))
	uffdioRegister     = ioc(iocRead|iocWrite, nrRegister, unsafe.Sizeof(registerArg{}))
	uffdioUnregister   = ioc(iocRead, nrUnregister, unsafe.Sizeof(rangeArg{}))
	uffdioWriteProtect = ioc(iocRead|iocWrite, nrWriteProtect, unsafe.Sizeof(writeProtectArg{}))
)

const (
	uffdAPIVersion = 0xAA

	// Optional features probed for during the handshake. Their absence
	// is tolerated: the handler falls back to page-aligned fault
	// addresses and ignores thread-id reporting.
	featureThreadID    = 1 << 8
	featureExactAddr   = 1 << 11
	userModeOnly       = 1
	eventPagefault     = 0x12
	pagefaultFlagWrite = 1 << 0
)

type rangeArg struct {
	start uint64
	length uint64
}

type apiArg struct {
	api      uint64
	features uint64
	ioctls   uint64
}

type registerArg struct {
	rng    rangeArg
	mode   uint64
	ioctls uint64
}

type writeProtectArg struct {
	rng  rangeArg
	mode uint64
}

const (
	registerModeMissing      = 1 << 0
	registerModeWriteProtect = 1 << 1
	writeProtectModeWP       = 1 << 0
)

// uffdMsg mirrors struct uffd_msg's pagefault variant (32 bytes total).
type uffdMsg struct {
	event    uint8
	_        uint8
	_        uint16
	_        uint32
	flags    uint64
	address  uint64
	ptid     uint32
	_        uint32
}

// Handler owns a userfaultfd file descriptor.
type Handler struct {
	fd                 int
	hasThreadID        bool
	hasExactAddress    bool
}

// New creates and configures a userfaultfd handler. It requires no
// mandatory kernel features beyond the base API; THREAD_ID and
// EXACT_ADDRESS are requested but optional.
func New() (*Handler, error) {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK|userModeOnly), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("pagefault: userfaultfd syscall failed: %w", errno)
	}

	h := &Handler{fd: int(fd)}

	api := apiArg{
		api:      uffdAPIVersion,
		features: featureThreadID | featureExactAddr,
		ioctls:   (1 << nrAPI) | (1 << nrRegister) | (1 << nrUnregister),
	}
	if err := ioctl(h.fd, uffdioAPI, unsafe.Pointer(&api)); err != nil {
		// The kernel rejects the whole handshake when a requested feature
		// is unsupported; retry on a fresh fd with no optional features.
		unix.Close(h.fd)
		fd, _, errno = unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK|userModeOnly), 0, 0)
		if errno != 0 {
			return nil, fmt.Errorf("pagefault: userfaultfd syscall failed: %w", errno)
		}
		h.fd = int(fd)
		api = apiArg{api: uffdAPIVersion, ioctls: (1 << nrAPI) | (1 << nrRegister) | (1 << nrUnregister)}
		if err := ioctl(h.fd, uffdioAPI, unsafe.Pointer(&api)); err != nil {
			unix.Close(h.fd)
			return nil, fmt.Errorf("pagefault: API handshake failed: %w", err)
		}
	}

	h.hasThreadID = api.features&featureThreadID != 0
	h.hasExactAddress = api.features&featureExactAddr != 0

	return h, nil
}

// FileDescriptor returns the userfaultfd fd, for registration with a
// Selector.
func (h *Handler) FileDescriptor() int {
	return h.fd
}

// Close releases the userfaultfd.
func (h *Handler) Close() error {
	return unix.Close(h.fd)
}

// RegisterMemory arms the given page-aligned memory range for the given
// fault modes.
func (h *Handler) RegisterMemory(mem []byte, missing, writeProtect bool) error {
	var mode uint64
	if missing {
		mode |= registerModeMissing
	}
	if writeProtect {
		mode |= registerModeWriteProtect
	}

	arg := registerArg{rng: rangeOf(mem), mode: mode}
	if err := ioctl(h.fd, uffdioRegister, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("pagefault: register_memory failed: %w", err)
	}
	return nil
}

// UnregisterMemory removes a previously registered range.
func (h *Handler) UnregisterMemory(mem []byte) error {
	arg := rangeOf(mem)
	if err := ioctl(h.fd, uffdioUnregister, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("pagefault: unregister_memory failed: %w", err)
	}
	return nil
}

// WriteProtectMemory arms write-protection on an already registered
// range.
func (h *Handler) WriteProtectMemory(mem []byte) error {
	arg := writeProtectArg{rng: rangeOf(mem), mode: writeProtectModeWP}
	if err := ioctl(h.fd, uffdioWriteProtect, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("pagefault: write_protect_memory failed: %w", err)
	}
	return nil
}

// WriteUnprotectMemory clears write-protection, letting a stalled write
// retry and complete.
func (h *Handler) WriteUnprotectMemory(mem []byte) error {
	arg := writeProtectArg{rng: rangeOf(mem), mode: 0}
	if err := ioctl(h.fd, uffdioWriteProtect, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("pagefault: write_unprotect_memory failed: %w", err)
	}
	return nil
}

// Poll reads one pending fault, if any, and invokes handler with the
// faulted page and its mode. Returns false if there was nothing to
// read (EAGAIN in non-blocking mode).
func (h *Handler) Poll(handler func(page uintptr, mode Mode)) (bool, error) {
	var msg uffdMsg
	buf := (*[unsafe.Sizeof(msg)]byte)(unsafe.Pointer(&msg))[:]

	for {
		n, err := unix.Read(h.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err == unix.EAGAIN {
				return false, nil
			}
			return false, fmt.Errorf("pagefault: read failed: %w", err)
		}
		if n < len(buf) {
			return false, fmt.Errorf("pagefault: short read from userfaultfd")
		}
		break
	}

	if msg.event != eventPagefault {
		// Other events (fork/remap/remove) are not used by this runtime.
		return true, nil
	}

	page := uintptr(msg.address) &^ (pageSize - 1)
	mode := Missing
	if msg.flags&pagefaultFlagWrite == pagefaultFlagWrite {
		mode = WriteProtect
	}
	handler(page, mode)
	return true, nil
}

func rangeOf(mem []byte) rangeArg {
	if len(mem) == 0 {
		return rangeArg{}
	}
	start := uintptr(unsafe.Pointer(&mem[0]))
	if start%pageSize != 0 {
		panic("pagefault: memory range is not page-aligned")
	}
	return rangeArg{start: uint64(start), length: uint64(len(mem))}
}

func ioctl(fd int, request uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
