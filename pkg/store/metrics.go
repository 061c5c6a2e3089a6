package store

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_store_appends_total",
		Help: "Messages appended to room logs.",
	})
	mutationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_store_mutations_total",
		Help: "In-place message mutations (edit, delete, react, star, receipts).",
	})
)

// DiskUsage returns the best-effort on-disk size of the store directory.
func DiskUsage() uint64 {
	if db == nil || dbPath == "" {
		return 0
	}
	var total uint64
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, ferr := d.Info(); ferr == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}
