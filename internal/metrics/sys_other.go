//go:build !linux

package metrics

func statfsFreePercent(string) (int, error) { return 0, errUnsupported }

func readSysinfo() (sysSnapshot, error) { return sysSnapshot{}, errUnsupported }
