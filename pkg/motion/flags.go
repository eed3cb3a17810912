package motion

// StepEventFlag marks what a queued step event does. The dir and active bit
// positions are shared with MoveFlag, so a generator can copy them straight
// from the move it is reading.
type StepEventFlag uint16

const (
	FlagStepX StepEventFlag = 1 << iota
	FlagStepY
	FlagStepZ
	FlagStepE
	FlagDirX // set means negative direction
	FlagDirY
	FlagDirZ
	FlagDirE
	FlagActiveX
	FlagActiveY
	FlagActiveZ
	FlagActiveE
	FlagBeginningOfMoveSegment
	FlagEndOfMotion
)

const (
	FlagStepMask    = FlagStepX | FlagStepY | FlagStepZ | FlagStepE
	FlagDirShift    = 4
	FlagDirMask     = FlagDirX | FlagDirY | FlagDirZ | FlagDirE
	FlagActiveShift = 8
	FlagActiveMask  = FlagActiveX | FlagActiveY | FlagActiveZ | FlagActiveE
)

func stepFlag(axis int) StepEventFlag   { return FlagStepX << axis }
func dirFlag(axis int) StepEventFlag    { return FlagDirX << axis }
func activeFlag(axis int) StepEventFlag { return FlagActiveX << axis }

// MoveFlag describes a move segment.
type MoveFlag uint32

const (
	MoveDirX    = MoveFlag(FlagDirX)
	MoveDirY    = MoveFlag(FlagDirY)
	MoveDirZ    = MoveFlag(FlagDirZ)
	MoveDirE    = MoveFlag(FlagDirE)
	MoveActiveX = MoveFlag(FlagActiveX)
	MoveActiveY = MoveFlag(FlagActiveY)
	MoveActiveZ = MoveFlag(FlagActiveZ)
	MoveActiveE = MoveFlag(FlagActiveE)
)

const (
	MoveAccelerationPhase MoveFlag = 1 << (16 + iota)
	MoveCruisePhase
	MoveDecelerationPhase
	MoveFirstSegmentOfBlock
	MoveLastSegmentOfBlock
	MoveBeginningEmpty
	MoveEndingEmpty
)

func (f MoveFlag) active(axis int) bool   { return f&MoveFlag(activeFlag(axis)) != 0 }
func (f MoveFlag) negative(axis int) bool { return f&MoveFlag(dirFlag(axis)) != 0 }

// axisFlags extracts the dir and active bits of one axis as step event flags.
func (f MoveFlag) axisFlags(axis int) StepEventFlag {
	return StepEventFlag(f) & (dirFlag(axis) | activeFlag(axis))
}
