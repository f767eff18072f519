//go:build linux

package web

import (
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

var statfs = unix.Statfs

// snapshotDisk reports root filesystem usage.
func snapshotDisk() *DiskSnapshot {
	var st unix.Statfs_t
	if err := statfs("/", &st); err != nil {
		return &DiskSnapshot{LastError: err.Error()}
	}
	bsize := uint64(st.Bsize)
	total, avail := st.Blocks*bsize, st.Bavail*bsize
	ds := &DiskSnapshot{
		RootPath:       "/",
		RootTotalBytes: total,
		RootAvailBytes: avail,
		RootAvail:      humanize.Bytes(avail),
	}
	if total > 0 {
		ds.UsedPct = 100 * float64(total-avail) / float64(total)
	}
	return ds
}
