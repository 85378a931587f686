package vfs

import (
	"bufio"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// isMounted reports whether targetDir appears as a mount point in
// /proc/self/mounts, the cheap way to detect a stale FUSE mount left behind
// by a crashed process (§4.12 step 2).
func isMounted(targetDir string) bool {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == targetDir {
			return true
		}
	}
	return false
}

// unmountStaleMount best-effort unmounts a leftover mount at targetDir,
// escalating to a force unmount if the plain attempt doesn't clear it.
func unmountStaleMount(targetDir string) {
	if !isMounted(targetDir) {
		return
	}
	_ = exec.Command("fusermount", "-u", targetDir).Run()
	if isMounted(targetDir) {
		_ = exec.Command("fusermount", "-uz", targetDir).Run()
	}
}

// syscallOpen and friends wrap the raw syscalls go-fuse's loopback file
// handle expects (a bare fd), kept in their own file so node.go's FUSE
// operation handlers read as routing logic rather than syscall plumbing.

func syscallOpen(path string, flags int) (int, error) {
	return syscall.Open(path, flags, 0)
}

func syscallCreate(path string, flags int, mode uint32) (int, error) {
	return syscall.Open(path, flags|syscall.O_CREAT|syscall.O_EXCL, mode)
}

func mkdirFunc(path string, mode uint32) error {
	return syscall.Mkdir(path, mode)
}

func removeFunc(path string) error {
	return os.Remove(path)
}

func statfsFunc(root string, out *fuse.StatfsOut) syscall.Errno {
	var st syscall.Statfs_t
	if err := syscall.Statfs(root, &st); err != nil {
		return syscall.EIO
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.NameLen = uint32(st.Namelen)
	out.Frsize = uint32(st.Frsize)
	return 0
}
