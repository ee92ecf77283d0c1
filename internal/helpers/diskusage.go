// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package helpers

import (
	"golang.org/x/sys/unix"
)

// FSUsage describes the filesystem holding the scratch directory.
type FSUsage struct {
	TotalBytes uint64
	// FreeBytes is what an unprivileged process can still use.
	FreeBytes uint64
	UsedBytes uint64

	TotalInodes uint64
	FreeInodes  uint64
	UsedInodes  uint64
}

// FreePercent is the share of bytes still available, 0 when unknown.
func (u FSUsage) FreePercent() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.FreeBytes) / float64(u.TotalBytes) * 100
}

// FreeInodesPercent is the share of inodes still available, 0 when unknown.
func (u FSUsage) FreeInodesPercent() float64 {
	if u.TotalInodes == 0 {
		return 0
	}
	return float64(u.FreeInodes) / float64(u.TotalInodes) * 100
}

// DiskUsage returns usage for the filesystem that contains path.
func DiskUsage(path string) (FSUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FSUsage{}, err
	}

	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	return FSUsage{
		TotalBytes:  total,
		FreeBytes:   free,
		UsedBytes:   total - free,
		TotalInodes: st.Files,
		FreeInodes:  st.Ffree,
		UsedInodes:  st.Files - st.Ffree,
	}, nil
}
