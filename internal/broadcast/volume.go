package broadcast

import "sync/atomic"

// Volume is the process-wide speech volume in percent. Safe for concurrent use.
type Volume struct {
	v atomic.Int32
}

func NewVolume(percent int) *Volume {
	vol := &Volume{}
	vol.SetVolume(percent)
	return vol
}

func (v *Volume) Get() int { return int(v.v.Load()) }

// SetVolume stores percent clamped to [0,100].
func (v *Volume) SetVolume(percent int) {
	v.v.Store(int32(max(0, min(100, percent))))
}
