package pagefault

import (
	"testing"

	"golang.org/x/sys/unix"
)

// probeAvailable mirrors the pack's ProbeUffd pattern: userfaultfd often
// requires CAP_SYS_PTRACE or vm.unprivileged_userfaultfd=1, which CI
// sandboxes frequently lack, so tests skip rather than fail when it's
// unavailable.
func probeAvailable(t *testing.T) {
	t.Helper()
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK|userModeOnly), 0, 0)
	if errno != 0 {
		t.Skipf("userfaultfd unavailable: %v", errno)
	}
	unix.Close(int(fd))
}

func TestHandlerRegisterAndWriteProtect(t *testing.T) {
	probeAvailable(t)

	h, err := New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer h.Close()

	mem, err := unix.Mmap(-1, 0, pageSize*2, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		t.Fatalf("mmap failed: %v", err)
	}
	defer unix.Munmap(mem)

	if err := h.RegisterMemory(mem, false, true); err != nil {
		t.Fatalf("RegisterMemory failed: %v", err)
	}
	defer h.UnregisterMemory(mem)

	if err := h.WriteProtectMemory(mem); err != nil {
		t.Fatalf("WriteProtectMemory failed: %v", err)
	}
	if err := h.WriteUnprotectMemory(mem); err != nil {
		t.Fatalf("WriteUnprotectMemory failed: %v", err)
	}
}

func TestIoctlNumbersMatchKnownConstants(t *testing.T) {
	// Cross-check against the well-known UFFDIO_COPY/UFFDIO_ZEROPAGE
	// values documented in the pack (0xc028aa03 / 0xc020aa04) using the
	// same _IOC formula this package uses, to catch an arithmetic
	// mistake in ioc() without needing a live kernel.
	const (
		nrCopy       = 0x03
		sizeCopy     = 40
		uffdioCopy   = 0xc028aa03
		nrZeropage   = 0x04
		sizeZeropage = 32
		uffdioZero   = 0xc020aa04
	)

	if got := ioc(iocRead|iocWrite, nrCopy, sizeCopy); got != uffdioCopy {
		t.Errorf("ioc() formula mismatch for UFFDIO_COPY: got %#x, want %#x", got, uffdioCopy)
	}
	if got := ioc(iocRead|iocWrite, nrZeropage, sizeZeropage); got != uffdioZero {
		t.Errorf("ioc() formula mismatch for UFFDIO_ZEROPAGE: got %#x, want %#x", got, uffdioZero)
	}
}
