package build

// Parallelism derives the make job count from CPU cores bounded by
// available memory, so a small VPS never overcommits into the OOM killer.
// An explicit override wins when positive. The result is always >= 1.
func Parallelism(cores int, availableMemMB uint64, memPerJobMB int, override int) int {
	if override > 0 {
		return override
	}
	jobs := cores
	if memPerJobMB > 0 {
		if byMem := int(availableMemMB) / memPerJobMB; byMem < jobs {
			jobs = byMem
		}
	}
	if jobs < 1 {
		jobs = 1
	}
	return jobs
}
