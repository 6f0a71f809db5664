//go:build linux

package metrics

import "golang.org/x/sys/unix"

func statfsFreePercent(dir string) (int, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return percent(float64(st.Bavail), float64(st.Blocks)), nil
}

func readSysinfo() (sysSnapshot, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return sysSnapshot{}, err
	}
	unit := float64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	return sysSnapshot{
		MemFreePercent: percent(float64(si.Freeram+si.Bufferram)*unit, float64(si.Totalram)*unit),
		// Loads are fixed-point with SI_LOAD_SHIFT (16) fractional bits.
		Load1:  float64(si.Loads[0]) / 65536,
		Uptime: int64(si.Uptime),
	}, nil
}
