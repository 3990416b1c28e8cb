package monitor

// ProgressObserver feeds backup progress into whichever session is active.
// Its methods match backup.Observer; events outside a session are dropped.
type ProgressObserver struct {
	tracker *Tracker
}

// NewProgressObserver creates an observer bound to tracker
func NewProgressObserver(tracker *Tracker) *ProgressObserver {
	return &ProgressObserver{tracker: tracker}
}

func (o *ProgressObserver) update(delta Progress) {
	s := o.tracker.Active()
	if s == nil {
		return
	}
	if err := s.UpdateProgress(delta); err != nil {
		o.tracker.logger.WithFields(map[string]interface{}{
			"migration_id": s.id,
			"error":        err.Error(),
		}).Warn("Failed to record backup progress")
	}
}

// TableCopied counts a table and its rows
func (o *ProgressObserver) TableCopied(_ string, rows int) {
	o.update(Progress{Tables: 1, Records: int64(rows)})
}

// FileCopied counts a file and its bytes
func (o *ProgressObserver) FileCopied(_, _ string, size int64) {
	o.update(Progress{Files: 1, Bytes: size})
}

// ItemFailed counts a skipped item as a warning
func (o *ProgressObserver) ItemFailed(_, _ string, _ error) {
	o.update(Progress{Warnings: 1})
}
